package config

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %s", err)
	}
}

func TestConfigValidateMissingNodeName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeName = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty node_name")
	}
}

func TestConfigCopyIndependence(t *testing.T) {
	cfg := DefaultConfig()
	cpy := cfg.Copy()
	if !reflect.DeepEqual(cfg, cpy) {
		t.Fatalf("copy should be deeply equal to original")
	}
	cpy.P2P.BootstrapPeers = append(cpy.P2P.BootstrapPeers, "/ip4/127.0.0.1/tcp/4001/p2p/Qm")
	if reflect.DeepEqual(cfg, cpy) {
		t.Fatal("mutating the copy's slice must not affect the original")
	}
}

func TestConfigWriteAndReadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeName = "kitchen-hub"
	cfg.P2P.BootstrapPeers = []string{"/ip4/10.0.0.1/tcp/4001/p2p/QmPeer"}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteToFile(path); err != nil {
		t.Fatalf("write: %s", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if got.NodeName != "kitchen-hub" {
		t.Fatalf("unexpected node name: %s", got.NodeName)
	}
	if len(got.P2P.BootstrapPeers) != 1 || got.P2P.BootstrapPeers[0] != "/ip4/10.0.0.1/tcp/4001/p2p/QmPeer" {
		t.Fatalf("unexpected bootstrap peers: %v", got.P2P.BootstrapPeers)
	}
}
