package cmd

import "github.com/spf13/cobra"

// VersionNumber is the current version of this CLI
const VersionNumber = "0.1.0"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		PrintInfo(VersionNumber)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
