package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/avi-mesh/avi/bridge"
	"github.com/avi-mesh/avi/config"
	"github.com/avi-mesh/avi/event"
	"github.com/avi-mesh/avi/handle"
	"github.com/avi-mesh/avi/runtime"
)

// defaultConfigPath resolves where to look for a node config when
// --config is left unset: ./avi.yaml if present in the working
// directory (qri's own repo-in-cwd convention), otherwise
// $HOME/.avi/avi.yaml, the way qri's cmd/factory.go falls back to
// $HOME/.qri.
func defaultConfigPath() string {
	const cwdPath = "avi.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		return cwdPath
	}
	home, err := homedir.Dir()
	if err != nil {
		return cwdPath
	}
	return filepath.Join(home, ".avi", "avi.yaml")
}

// NewStartCommand creates the `avi start` command: it loads a node
// config, spins up the libp2p swarm, the runtime event-reactor, and
// (if enabled) the UDP device bridge, then blocks until interrupted.
//
// This plays the role qri's `connect` command plays for a qri node:
// the long-running foreground process that brings the rest of the
// stack up and tears it down on ctrl+c.
func NewStartCommand() *cobra.Command {
	var configPath string
	var printEvents bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "start an avi mesh node",
		Annotations: map[string]string{
			"group": "network",
		},
		Long: `start brings up a node: it joins the peer-to-peer mesh, begins
gossiping its context document, and (if the bridge is enabled in the
config) listens for MCU devices over UDP. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, printEvents)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to node config YAML")
	cmd.Flags().BoolVar(&printEvents, "print-events", false, "print runtime events to stdout while running")

	return cmd
}

func init() {
	RootCmd.AddCommand(NewStartCommand())
}

func loadOrDefaultConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return config.ReadFromFile(path)
}

func applyLogLevels(cfg *config.Logging) {
	if cfg == nil {
		return
	}
	// "*" goes first so the subsystems listed by name override it.
	if level, ok := cfg.Levels["*"]; ok {
		if lvl, err := golog.LevelFromString(level); err == nil {
			golog.SetAllLoggers(lvl)
		}
	}
	for subsystem, level := range cfg.Levels {
		if subsystem == "*" {
			continue
		}
		if _, err := golog.LevelFromString(level); err != nil {
			continue
		}
		golog.SetLogLevel(subsystem, level)
	}
}

func runStart(configPath string, printEvents bool) error {
	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	applyLogLevels(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swarm, err := runtime.NewLibp2pSwarm(ctx, cfg.P2P.ListenPort)
	if err != nil {
		return fmt.Errorf("constructing swarm: %w", err)
	}
	defer swarm.Close()

	bus := event.NewBus(ctx)
	rtCfg := runtime.Config{
		NodeName:          cfg.NodeName,
		ListenPort:        cfg.P2P.ListenPort,
		BootstrapPeers:    cfg.P2P.BootstrapPeers,
		HeartbeatInterval: cfg.P2P.HeartbeatInterval(),
		MDNSKickInterval:  cfg.P2P.MDNSKickInterval(),
		StreamGCInterval:  cfg.P2P.StreamGCInterval(),
		StreamGCGrace:     cfg.P2P.StreamGCGrace(),
	}
	rt := runtime.New(rtCfg, swarm, bus)

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}
	PrintSuccess("avi node %q listening as %s", cfg.NodeName, swarm.LocalPeerID())

	h := handle.New(rt.Commands(), bus)

	var brServer *bridge.Server
	if cfg.Bridge != nil && cfg.Bridge.Enabled {
		brServer, err = bridge.NewServer(cfg.Bridge.ListenPort, h)
		if err != nil {
			return fmt.Errorf("starting device bridge: %w", err)
		}
		brServer.SetIdleTimeout(time.Duration(cfg.Bridge.IdleTimeoutSeconds) * time.Second)
		go func() {
			if err := brServer.Serve(ctx); err != nil && ctx.Err() == nil {
				PrintWarning("device bridge stopped: %s", err)
			}
		}()
		PrintInfo("device bridge listening on udp :%d", cfg.Bridge.ListenPort)
	}

	if printEvents {
		go printEventLoop(ctx, h)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go rt.Run(ctx)

	select {
	case <-sigCh:
		PrintInfo("shutting down...")
	case <-ctx.Done():
	}

	cancel()
	rt.Shutdown()
	if brServer != nil {
		brServer.Close()
	}
	return nil
}

func printEventLoop(ctx context.Context, h handle.Handle) {
	events, unsubscribe := h.SubscribeEvents()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			PrintEvent(e)
		}
	}
}
