package config

import (
	"fmt"
	"time"
)

// P2P holds every transport-level setting (spec §6 "Configuration":
// listen_port, bootstrap_peers; §9 exposing mDNS/DHT/heartbeat
// parameters that the source only hard-coded).
type P2P struct {
	// ListenPort is the TCP port to listen on; 0 means OS-assigned.
	ListenPort int `json:"listen_port"`

	// BootstrapPeers are multiaddrs dialed at startup.
	BootstrapPeers []string `json:"bootstrap_peers"`

	// EnableMDNS and EnableDHT are stored and round-tripped with the
	// file, but `avi start` does not read them: its swarm always runs
	// mDNS discovery and the Kademlia DHT.
	EnableMDNS bool `json:"enable_mdns"`
	EnableDHT  bool `json:"enable_dht"`

	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`
	MDNSKickIntervalSeconds  int `json:"mdns_kick_interval_seconds"`
	StreamGCIntervalSeconds  int `json:"stream_gc_interval_seconds"`
	StreamGCGraceSeconds     int `json:"stream_gc_grace_seconds"`
}

// DefaultP2P returns sensible defaults: no bootstrap peers, mDNS and
// DHT both enabled, OS-assigned listen port.
func DefaultP2P() *P2P {
	return &P2P{
		ListenPort:               0,
		BootstrapPeers:           []string{},
		EnableMDNS:               true,
		EnableDHT:                true,
		HeartbeatIntervalSeconds: 15,
		MDNSKickIntervalSeconds:  30,
		StreamGCIntervalSeconds:  10,
		StreamGCGraceSeconds:     30,
	}
}

// Validate checks for sane values.
func (p *P2P) Validate() error {
	if p.ListenPort < 0 || p.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", p.ListenPort)
	}
	if p.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be positive")
	}
	if p.MDNSKickIntervalSeconds <= 0 {
		return fmt.Errorf("mdns_kick_interval_seconds must be positive")
	}
	if p.StreamGCIntervalSeconds <= 0 {
		return fmt.Errorf("stream_gc_interval_seconds must be positive")
	}
	if p.StreamGCGraceSeconds <= 0 {
		return fmt.Errorf("stream_gc_grace_seconds must be positive")
	}
	return nil
}

// HeartbeatInterval returns the configured heartbeat period as a
// time.Duration, for wiring directly into runtime.Config.
func (p *P2P) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalSeconds) * time.Second
}

// MDNSKickInterval returns the configured mDNS re-discovery period.
func (p *P2P) MDNSKickInterval() time.Duration {
	return time.Duration(p.MDNSKickIntervalSeconds) * time.Second
}

// StreamGCInterval returns the configured stream garbage-collection
// sweep period.
func (p *P2P) StreamGCInterval() time.Duration {
	return time.Duration(p.StreamGCIntervalSeconds) * time.Second
}

// StreamGCGrace returns the configured grace period a closed stream
// lingers before being collected.
func (p *P2P) StreamGCGrace() time.Duration {
	return time.Duration(p.StreamGCGraceSeconds) * time.Second
}

// Copy returns a deep copy of p.
func (p *P2P) Copy() *P2P {
	cpy := *p
	cpy.BootstrapPeers = make([]string, len(p.BootstrapPeers))
	copy(cpy.BootstrapPeers, p.BootstrapPeers)
	return &cpy
}
