package runtime

import "context"

// Swarm is the narrow capability set the Runtime needs from the
// underlying peer-to-peer transport (spec §4.1 "Swarm integration").
// The libp2p-backed implementation lives in swarm_libp2p.go; tests use
// the in-memory fake in swarm_fake.go.
type Swarm interface {
	LocalPeerID() string
	Listen(ctx context.Context, port int) error
	Dial(ctx context.Context, addr string) error
	Bootstrap(ctx context.Context, addrs []string) []error

	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error

	// Request sends bytes to peer over the stream-layer protocol and
	// blocks for the matching response bytes.
	Request(ctx context.Context, peer string, data []byte) ([]byte, error)

	ConnectedPeers() []string
	DiscoverPeers(ctx context.Context) error

	// Events returns the channel of asynchronous swarm notifications the
	// Runtime multiplexes in its select loop.
	Events() <-chan SwarmEvent

	Close() error
}

// SwarmEventKind tags the variant carried by a SwarmEvent.
type SwarmEventKind int

const (
	SwarmPeerDiscovered SwarmEventKind = iota
	SwarmPeerConnected
	SwarmPeerDisconnected
	SwarmMessage
	SwarmStreamEnvelope
)

// SwarmEvent is an asynchronous notification from the transport layer.
type SwarmEvent struct {
	Kind SwarmEventKind

	Peer  string // PeerDiscovered/Connected/Disconnected, Message.From, StreamEnvelope.From
	Topic string // Message
	Data  []byte // Message.Data, StreamEnvelope raw bytes
}
