package config

import "fmt"

// Bridge holds the embedded UDP bridge's settings (spec §6
// "Configuration": udp_bridge_port, bridge only).
type Bridge struct {
	Enabled bool `json:"enabled"`

	// ListenPort is the UDP port the bridge binds to.
	ListenPort int `json:"listen_port"`

	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
}

// DefaultBridge returns the bridge disabled by default; a node is a
// pure mesh peer unless the operator opts in to terminating MCU
// traffic.
func DefaultBridge() *Bridge {
	return &Bridge{
		Enabled:            false,
		ListenPort:         9898,
		IdleTimeoutSeconds: 120,
	}
}

// Validate checks for sane values.
func (b *Bridge) Validate() error {
	if b.ListenPort < 0 || b.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", b.ListenPort)
	}
	if b.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be positive")
	}
	return nil
}

// Copy returns a deep copy of b.
func (b *Bridge) Copy() *Bridge {
	cpy := *b
	return &cpy
}
