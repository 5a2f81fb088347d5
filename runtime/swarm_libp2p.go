package runtime

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

func init() {
	// Quiet the chattier libp2p subsystems the way application code
	// built on this stack always does; the node's own logger carries
	// everything a user needs at the default level.
	golog.SetLogLevel("swarm2", "error")
	golog.SetLogLevel("autorelay", "error")
	golog.SetLogLevel("autonat", "error")
}

var log = golog.Logger("runtime")

// rpcProtocolID is the custom stream protocol layering the logical
// stream envelopes over libp2p's raw streams (spec §6 "request/response
// with a user-defined codec").
const rpcProtocolID = protocol.ID("/avi/rpc/1.0.0")

const mdnsTag = "avi-mesh"

// Auto-dial retry policy (spec §4.1 "Auto-dial policy"): failures are
// retried with exponential backoff up to a ceiling, after which the
// peer is marked dormant until it is re-discovered.
const (
	maxAutoDialAttempts = 5
	autoDialBackoffBase = 500 * time.Millisecond
	autoDialBackoffCeil = 30 * time.Second
)

// dialState tracks one discovered-but-not-yet-connected peer's retry
// progress.
type dialState struct {
	attempts int
	dormant  bool
	dialing  bool
}

// Libp2pSwarm is the production Swarm backed by go-libp2p, GossipSub,
// the Kademlia DHT, and mDNS LAN discovery (spec §6 "Transport
// dependency").
type Libp2pSwarm struct {
	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT
	mdns mdns.Service

	events chan SwarmEvent

	mu         sync.Mutex
	topics     map[string]*pubsub.Topic
	subs       map[string]*pubsub.Subscription
	cancels    map[string]context.CancelFunc
	dialStates map[peer.ID]*dialState
}

// NewLibp2pSwarm constructs a host, GossipSub router, and DHT, wires the
// rpc stream handler, and starts mDNS discovery. It subscribes to no
// topic; Runtime.Start subscribes to the context-gossip topic. The returned Swarm emits SwarmEvents onto
// the channel returned by Events() until Close is called.
func NewLibp2pSwarm(ctx context.Context, listenPort int) (*Libp2pSwarm, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMaxMessageSize(1<<20),
		pubsub.WithPeerExchange(false),
	)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	s := &Libp2pSwarm{
		host:       h,
		ps:         ps,
		dht:        kad,
		events:     make(chan SwarmEvent, 256),
		topics:     map[string]*pubsub.Topic{},
		subs:       map[string]*pubsub.Subscription{},
		cancels:    map[string]context.CancelFunc{},
		dialStates: map[peer.ID]*dialState{},
	}

	h.SetStreamHandler(rpcProtocolID, s.handleIncomingStream)

	notifee := &mdnsNotifee{swarm: s, ctx: ctx}
	s.mdns = mdns.NewMdnsService(h, mdnsTag, notifee)
	if err := s.mdns.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	h.Network().Notify(&connNotifiee{swarm: s})

	return s, nil
}

type mdnsNotifee struct {
	swarm *Libp2pSwarm
	ctx   context.Context
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	select {
	case n.swarm.events <- SwarmEvent{Kind: SwarmPeerDiscovered, Peer: pi.ID.String()}:
	default:
		log.Warnw("swarm event channel full, dropping PeerDiscovered", "peer", pi.ID)
	}

	if n.swarm.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}

	n.swarm.mu.Lock()
	st, ok := n.swarm.dialStates[pi.ID]
	if !ok {
		st = &dialState{}
		n.swarm.dialStates[pi.ID] = st
	}
	if st.dormant {
		// Re-discovery wakes a dormant peer for a fresh retry cycle.
		st.attempts = 0
		st.dormant = false
	}
	if st.dialing {
		n.swarm.mu.Unlock()
		return
	}
	st.dialing = true
	attempt := st.attempts
	n.swarm.mu.Unlock()

	go n.swarm.autoDial(n.ctx, pi, attempt)
}

// autoDial retries a connect attempt with bounded jitter plus
// exponential backoff up to autoDialBackoffCeil. After
// maxAutoDialAttempts consecutive failures it marks the peer dormant;
// a later HandlePeerFound re-discovery resets the cycle.
func (s *Libp2pSwarm) autoDial(ctx context.Context, pi peer.AddrInfo, startAttempt int) {
	attempt := startAttempt
	for {
		jitter := time.Duration(rand.Intn(300)) * time.Millisecond
		backoff := autoDialBackoffBase * time.Duration(1<<attempt)
		if backoff > autoDialBackoffCeil {
			backoff = autoDialBackoffCeil
		}
		time.Sleep(jitter + backoff)

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.host.Connect(dialCtx, pi)
		cancel()

		s.mu.Lock()
		st, ok := s.dialStates[pi.ID]
		if !ok {
			s.mu.Unlock()
			return
		}
		if err == nil {
			delete(s.dialStates, pi.ID)
			s.mu.Unlock()
			return
		}
		attempt++
		st.attempts = attempt
		if attempt >= maxAutoDialAttempts {
			st.dormant = true
			st.dialing = false
			s.mu.Unlock()
			log.Debugw("peer marked dormant after repeated dial failures", "peer", pi.ID, "err", err)
			return
		}
		s.mu.Unlock()
		log.Debugw("auto-dial failed, retrying with backoff", "peer", pi.ID, "attempt", attempt, "err", err)
	}
}

type connNotifiee struct {
	swarm *Libp2pSwarm
}

func (c *connNotifiee) Connected(_ network.Network, conn network.Conn) {
	select {
	case c.swarm.events <- SwarmEvent{Kind: SwarmPeerConnected, Peer: conn.RemotePeer().String()}:
	default:
		log.Warnw("swarm event channel full, dropping PeerConnected")
	}

	// However the connection was established, the peer is no longer
	// something auto-dial needs to chase.
	c.swarm.mu.Lock()
	delete(c.swarm.dialStates, conn.RemotePeer())
	c.swarm.mu.Unlock()
}

func (c *connNotifiee) Disconnected(_ network.Network, conn network.Conn) {
	select {
	case c.swarm.events <- SwarmEvent{Kind: SwarmPeerDisconnected, Peer: conn.RemotePeer().String()}:
	default:
		log.Warnw("swarm event channel full, dropping PeerDisconnected")
	}
}

func (c *connNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (c *connNotifiee) ListenClose(network.Network, ma.Multiaddr) {}

func (s *Libp2pSwarm) handleIncomingStream(st network.Stream) {
	defer st.Close()

	r := bufio.NewReader(st)
	data, err := readFrame(r)
	if err != nil {
		log.Debugw("malformed inbound rpc frame", "err", err)
		return
	}

	// Application-level replies (StreamAccept, StreamData, ...) travel
	// as independent outbound Requests in the other direction; this ack
	// only confirms the transport delivered the bytes.
	if err := writeFrame(st, []byte("ack")); err != nil {
		log.Debugw("failed to ack inbound rpc frame", "err", err)
	}

	peerID := st.Conn().RemotePeer().String()
	select {
	case s.events <- SwarmEvent{Kind: SwarmStreamEnvelope, Peer: peerID, Data: data}:
	default:
		log.Warnw("swarm event channel full, dropping stream envelope", "peer", peerID)
	}
}

func (s *Libp2pSwarm) LocalPeerID() string { return s.host.ID().String() }

func (s *Libp2pSwarm) Listen(ctx context.Context, port int) error {
	return nil // listen address is fixed at construction time
}

func (s *Libp2pSwarm) Dial(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return err
	}
	return s.host.Connect(ctx, *info)
}

func (s *Libp2pSwarm) Bootstrap(ctx context.Context, addrs []string) []error {
	var errsOut []error
	for _, a := range addrs {
		if err := s.Dial(ctx, a); err != nil {
			errsOut = append(errsOut, fmt.Errorf("bootstrap dial %s: %w", a, err))
		}
	}
	if err := s.dht.Bootstrap(ctx); err != nil {
		errsOut = append(errsOut, fmt.Errorf("dht bootstrap: %w", err))
	}
	return errsOut
}

func (s *Libp2pSwarm) Publish(ctx context.Context, topicName string, data []byte) error {
	s.mu.Lock()
	topic, ok := s.topics[topicName]
	s.mu.Unlock()
	if !ok {
		t, err := s.ps.Join(topicName)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.topics[topicName] = t
		s.mu.Unlock()
		topic = t
	}
	return topic.Publish(ctx, data)
}

func (s *Libp2pSwarm) Subscribe(topicName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[topicName]; ok {
		return nil
	}
	topic, ok := s.topics[topicName]
	if !ok {
		t, err := s.ps.Join(topicName)
		if err != nil {
			return err
		}
		s.topics[topicName] = t
		topic = t
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return err
	}
	s.subs[topicName] = sub

	subCtx, cancel := context.WithCancel(context.Background())
	s.cancels[topicName] = cancel
	go s.readLoop(subCtx, topicName, sub)
	return nil
}

func (s *Libp2pSwarm) readLoop(ctx context.Context, topicName string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		select {
		case s.events <- SwarmEvent{Kind: SwarmMessage, Peer: msg.ReceivedFrom.String(), Topic: topicName, Data: msg.Data}:
		default:
			log.Warnw("swarm event channel full, dropping message", "topic", topicName)
		}
	}
}

func (s *Libp2pSwarm) Unsubscribe(topicName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[topicName]; ok {
		cancel()
		delete(s.cancels, topicName)
	}
	if sub, ok := s.subs[topicName]; ok {
		sub.Cancel()
		delete(s.subs, topicName)
	}
	return nil
}

func (s *Libp2pSwarm) Request(ctx context.Context, peerStr string, data []byte) ([]byte, error) {
	pid, err := peer.Decode(peerStr)
	if err != nil {
		return nil, err
	}
	st, err := s.host.NewStream(ctx, pid, rpcProtocolID)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if err := writeFrame(st, data); err != nil {
		return nil, err
	}
	return readFrame(bufio.NewReader(st))
}

func (s *Libp2pSwarm) ConnectedPeers() []string {
	peers := s.host.Network().Peers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}

func (s *Libp2pSwarm) DiscoverPeers(ctx context.Context) error {
	// mDNS discovery is push-based (HandlePeerFound callback); DHT
	// provides the pull-based counterpart for routed lookups.
	return s.dht.Bootstrap(ctx)
}

func (s *Libp2pSwarm) Events() <-chan SwarmEvent { return s.events }

func (s *Libp2pSwarm) Close() error {
	_ = s.mdns.Close()
	_ = s.dht.Close()
	return s.host.Close()
}
