// Package config encapsulates node configuration, generally stored as
// a .yaml file or provided at CLI runtime via command line arguments,
// following qri's own Default/Validate/Copy configuration pattern.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// CurrentConfigRevision is the latest configuration revision;
// configurations that don't match this number should be migrated up.
const CurrentConfigRevision = 1

// Config encapsulates every configuration detail for a node (spec §6
// "Configuration" plus the §9 redesign flag exposing mDNS/DHT/heartbeat
// behaviour).
type Config struct {
	Revision int

	NodeName string `json:"node_name"`
	P2P      *P2P   `json:"p2p"`
	Bridge   *Bridge `json:"bridge"`
	Logging  *Logging `json:"logging"`
}

// DefaultConfig gives a new configuration with simple, default
// settings sufficient to start a node without a bridge enabled.
func DefaultConfig() *Config {
	return &Config{
		Revision: CurrentConfigRevision,
		NodeName: "avi-node",
		P2P:      DefaultP2P(),
		Bridge:   DefaultBridge(),
		Logging:  DefaultLogging(),
	}
}

// Validate checks that the configuration is internally consistent.
func (cfg *Config) Validate() error {
	if cfg.NodeName == "" {
		return fmt.Errorf("node_name is required")
	}
	if cfg.P2P == nil {
		return fmt.Errorf("p2p configuration is required")
	}
	if err := cfg.P2P.Validate(); err != nil {
		return fmt.Errorf("p2p: %w", err)
	}
	if cfg.Bridge != nil {
		if err := cfg.Bridge.Validate(); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
	}
	if cfg.Logging != nil {
		if err := cfg.Logging.Validate(); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}
	return nil
}

// Copy returns a deep copy of cfg.
func (cfg *Config) Copy() *Config {
	cpy := *cfg
	if cfg.P2P != nil {
		cpy.P2P = cfg.P2P.Copy()
	}
	if cfg.Bridge != nil {
		cpy.Bridge = cfg.Bridge.Copy()
	}
	if cfg.Logging != nil {
		cpy.Logging = cfg.Logging.Copy()
	}
	return &cpy
}

// ReadFromFile reads and parses a YAML configuration file at path.
func ReadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}
	return cfg, nil
}

// WriteToFile serializes cfg as YAML and writes it to path.
func (cfg *Config) WriteToFile(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
