// Package cmd defines the CLI interface for the avi node. It relies
// heavily on the spf13/cobra package; much of its structure follows
// qri's own cmd package layout.
package cmd

import (
	"os"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = golog.Logger("cmd")

// RootCmd is the base command invoked when avi is run with no
// subcommand.
var RootCmd = &cobra.Command{
	Use:   "avi",
	Short: "avi peer-to-peer smart-home mesh node",
	Long: `avi runs a node in a peer-to-peer mesh of smart-home devices.
A node discovers peers, exchanges messages and logical streams over a
gossiping mesh, and keeps a CRDT-merged context document in sync with
its peers.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolVarP(&noColor, "no-color", "c", false, "disable colorized output")
}

func initConfig() {
	SetNoColor()
}

// Execute adds all child commands to RootCmd and runs it. This is
// called once by main.main.
func Execute() {
	ensureLargeNumOpenFiles()

	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true
	if err := RootCmd.Execute(); err != nil {
		log.Debug(err.Error())
		PrintErr(err)
		os.Exit(1)
	}
}
