package config

import "testing"

func TestBridgeDefaultDisabled(t *testing.T) {
	b := DefaultBridge()
	if b.Enabled {
		t.Error("bridge should be disabled by default")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("default bridge should validate: %s", err)
	}
}

func TestBridgeValidateBadIdleTimeout(t *testing.T) {
	b := DefaultBridge()
	b.IdleTimeoutSeconds = 0
	if err := b.Validate(); err == nil {
		t.Error("expected error for zero idle timeout")
	}
}

func TestBridgeCopyIndependence(t *testing.T) {
	b := DefaultBridge()
	cpy := b.Copy()
	cpy.ListenPort = 1234
	if b.ListenPort == 1234 {
		t.Error("mutating the copy should not affect the original")
	}
}
