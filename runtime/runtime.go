// Package runtime implements the single-threaded event-reactor that
// owns all networking state and serves commands from Handle callers
// (spec §4.1 "Runtime (Event Reactor)").
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/avi-mesh/avi/command"
	"github.com/avi-mesh/avi/ctxstore"
	"github.com/avi-mesh/avi/errs"
	"github.com/avi-mesh/avi/event"
	"github.com/avi-mesh/avi/streamlayer"
	"github.com/avi-mesh/avi/wire"
)

// ContextGossipTopic is the reserved system topic context announces are
// published on (spec §6 "System gossip topics").
const ContextGossipTopic = "__avi/sys/context"

// CommandQueueCapacity bounds the MPSC command channel (spec §5 "Shared
// resources").
const CommandQueueCapacity = 100

// Config carries the knobs spec §6 exposes, plus the timer intervals
// spec §9 says a port should surface (mDNS/DHT/heartbeat behaviour).
type Config struct {
	NodeName       string
	ListenPort     int
	BootstrapPeers []string

	HeartbeatInterval time.Duration
	MDNSKickInterval  time.Duration
	StreamGCInterval  time.Duration
	StreamGCGrace     time.Duration
}

// DefaultConfig returns the timer defaults used when a caller leaves
// them unset.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		MDNSKickInterval:  30 * time.Second,
		StreamGCInterval:  10 * time.Second,
		StreamGCGrace:     streamlayer.DefaultGraceInterval,
	}
}

// Runtime is the event-reactor. All of its fields are owned exclusively
// by the goroutine running Run; nothing else may touch them.
type Runtime struct {
	cfg   Config
	swarm Swarm

	commands chan command.Command
	bus      *event.Bus

	streams *streamlayer.Registry
	ctx     *ctxstore.Store

	localPeer string
	shutdown  chan struct{}
	streamSeq uint64
}

// New constructs a Runtime around swarm. Call Start to bootstrap, then
// Run to drive the event loop; both take the caller's context.
func New(cfg Config, swarm Swarm, bus *event.Bus) *Runtime {
	return &Runtime{
		cfg:      cfg,
		swarm:    swarm,
		commands: make(chan command.Command, CommandQueueCapacity),
		bus:      bus,
		streams:  streamlayer.NewRegistry(),
		shutdown: make(chan struct{}),
	}
}

// Commands returns the channel Handles send Commands on.
func (r *Runtime) Commands() chan<- command.Command { return r.commands }

// Shutdown signals the event loop to drain and exit.
func (r *Runtime) Shutdown() { close(r.shutdown) }

// Start performs spec §4.1 "Bootstrap": assigns the local identity,
// registers and dials configured bootstrap peers (warnings, not fatal),
// and emits Started. Listen failures are fatal, per spec §7
// "Propagation policy".
func (r *Runtime) Start(ctx context.Context) error {
	r.localPeer = r.swarm.LocalPeerID()
	r.ctx = ctxstore.NewStore(r.localPeer)

	if err := r.swarm.Listen(ctx, r.cfg.ListenPort); err != nil {
		return &errs.NetworkError{Detail: "listen", Err: err}
	}

	if err := r.swarm.Subscribe(ContextGossipTopic); err != nil {
		log.Warnw("failed to subscribe to context gossip topic", "err", err)
	}

	for _, dialErr := range r.swarm.Bootstrap(ctx, r.cfg.BootstrapPeers) {
		log.Warnw("bootstrap dial failed", "err", dialErr)
	}

	r.bus.Publish(event.ETStarted, StartedPayload{LocalPeerID: r.localPeer, NodeName: r.cfg.NodeName})
	return nil
}

// StartedPayload is the payload carried by the Started event.
type StartedPayload struct {
	LocalPeerID string
	NodeName    string
}

// MessagePayload is the payload carried by the Message event.
type MessagePayload struct {
	From  string
	Topic string
	Data  []byte
}

// StreamRequestedPayload is carried by StreamRequested.
type StreamRequestedPayload struct {
	StreamID string
	From     string
	Reason   string
}

// StreamDataPayload is carried by StreamData.
type StreamDataPayload struct {
	StreamID string
	Data     []byte
}

// StreamClosedPayload is carried by StreamClosed.
type StreamClosedPayload struct {
	StreamID string
	Reason   streamlayer.CloseReason
	Detail   string
}

// ContextUpdatedPayload is carried by ContextUpdated.
type ContextUpdatedPayload struct {
	PeerID string
	Data   map[string]interface{}
}

// Run drives the single cooperative loop multiplexing commands, swarm
// events, timers, and shutdown (spec §4.1 "Loop semantics"). It returns
// when ctx is done or Shutdown is called, draining any outstanding
// replies with ErrChannelClosed first.
func (r *Runtime) Run(ctx context.Context) {
	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	mdnsKick := time.NewTicker(r.cfg.MDNSKickInterval)
	defer mdnsKick.Stop()
	gc := time.NewTicker(r.cfg.StreamGCInterval)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.shutdown:
			r.drain()
			return
		case cmd := <-r.commands:
			r.handleCommand(ctx, cmd)
		case ev, ok := <-r.swarm.Events():
			if !ok {
				continue
			}
			r.handleSwarmEvent(ctx, ev)
		case <-heartbeat.C:
			r.onHeartbeat(ctx)
		case <-mdnsKick.C:
			if err := r.swarm.DiscoverPeers(ctx); err != nil {
				log.Debugw("periodic peer discovery failed", "err", err)
			}
		case <-gc.C:
			r.streams.GC(r.cfg.StreamGCGrace)
		}
	}
}

// drain answers every Command already queued with ErrChannelClosed.
// It does not close r.commands: Handles hold the send side too, and
// closing an MPSC channel from the receiver risks a "send on closed
// channel" panic against an in-flight Handle.do call.
func (r *Runtime) drain() {
	for {
		select {
		case cmd := <-r.commands:
			select {
			case cmd.Reply <- command.Reply{Err: errs.ErrChannelClosed}:
			default:
			}
		default:
			return
		}
	}
}

func (r *Runtime) onHeartbeat(ctx context.Context) {
	// The heartbeat publishes nothing; it only logs how many peers are
	// connected. Transport-level liveness is left to pubsub's own heartbeat.
	log.Debugw("heartbeat", "connected_peers", len(r.swarm.ConnectedPeers()))
}

func fmtErr(detail string, err error) error {
	return fmt.Errorf("%s: %w", detail, err)
}
