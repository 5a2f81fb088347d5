package runtime

import (
	"context"
	"fmt"
	"sync"
)

// FakeSwarm is an in-memory Swarm used by runtime and integration tests.
// Multiple FakeSwarms sharing the same *FakeMesh behave like nodes on
// one LAN: publishes and requests are delivered synchronously.
type FakeSwarm struct {
	id   string
	mesh *FakeMesh

	mu        sync.Mutex
	connected map[string]bool
	topics    map[string]bool
	handler   func(from string, data []byte) []byte

	events chan SwarmEvent
	closed bool
}

// FakeMesh is shared state connecting a set of FakeSwarms.
type FakeMesh struct {
	mu      sync.Mutex
	members map[string]*FakeSwarm
}

// NewFakeMesh constructs an empty shared mesh for fake swarms to join.
func NewFakeMesh() *FakeMesh {
	return &FakeMesh{members: map[string]*FakeSwarm{}}
}

// NewFakeSwarm registers a new peer with id on mesh.
func (m *FakeMesh) NewFakeSwarm(id string) *FakeSwarm {
	s := &FakeSwarm{
		id:        id,
		mesh:      m,
		connected: map[string]bool{},
		topics:    map[string]bool{},
		events:    make(chan SwarmEvent, 256),
	}
	m.mu.Lock()
	m.members[id] = s
	m.mu.Unlock()
	return s
}

func (s *FakeSwarm) LocalPeerID() string { return s.id }

func (s *FakeSwarm) Listen(ctx context.Context, port int) error { return nil }

func (s *FakeSwarm) Dial(ctx context.Context, addr string) error {
	s.mesh.mu.Lock()
	peer, ok := s.mesh.members[addr]
	s.mesh.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %s not found on mesh", addr)
	}
	s.connectTo(peer)
	return nil
}

func (s *FakeSwarm) connectTo(other *FakeSwarm) {
	s.mu.Lock()
	already := s.connected[other.id]
	s.connected[other.id] = true
	s.mu.Unlock()
	if already {
		return
	}
	s.emit(SwarmEvent{Kind: SwarmPeerConnected, Peer: other.id})

	other.mu.Lock()
	alreadyOther := other.connected[s.id]
	other.connected[s.id] = true
	other.mu.Unlock()
	if !alreadyOther {
		other.emit(SwarmEvent{Kind: SwarmPeerConnected, Peer: s.id})
	}
}

func (s *FakeSwarm) Bootstrap(ctx context.Context, addrs []string) []error {
	var errsOut []error
	for _, a := range addrs {
		if err := s.Dial(ctx, a); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}

func (s *FakeSwarm) Publish(ctx context.Context, topic string, data []byte) error {
	s.mesh.mu.Lock()
	defer s.mesh.mu.Unlock()
	for id, member := range s.mesh.members {
		if id == s.id {
			continue
		}
		member.mu.Lock()
		subscribed := member.topics[topic]
		member.mu.Unlock()
		if subscribed {
			member.emit(SwarmEvent{Kind: SwarmMessage, Peer: s.id, Topic: topic, Data: data})
		}
	}
	return nil
}

func (s *FakeSwarm) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
	return nil
}

func (s *FakeSwarm) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	return nil
}

// SetRequestHandler installs the function that answers inbound Requests
// with a synchronous response, mirroring the rpc stream handler's ack.
func (s *FakeSwarm) SetRequestHandler(h func(from string, data []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *FakeSwarm) Request(ctx context.Context, peerID string, data []byte) ([]byte, error) {
	s.mesh.mu.Lock()
	target, ok := s.mesh.members[peerID]
	s.mesh.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer %s not found on mesh", peerID)
	}

	target.mu.Lock()
	handler := target.handler
	target.mu.Unlock()

	target.emit(SwarmEvent{Kind: SwarmStreamEnvelope, Peer: s.id, Data: data})
	if handler != nil {
		return handler(s.id, data), nil
	}
	return []byte("ack"), nil
}

func (s *FakeSwarm) ConnectedPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.connected))
	for p := range s.connected {
		out = append(out, p)
	}
	return out
}

func (s *FakeSwarm) DiscoverPeers(ctx context.Context) error {
	s.mesh.mu.Lock()
	defer s.mesh.mu.Unlock()
	for id, member := range s.mesh.members {
		if id != s.id {
			s.emit(SwarmEvent{Kind: SwarmPeerDiscovered, Peer: id})
			_ = member
		}
	}
	return nil
}

func (s *FakeSwarm) Events() <-chan SwarmEvent { return s.events }

func (s *FakeSwarm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *FakeSwarm) emit(e SwarmEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}
