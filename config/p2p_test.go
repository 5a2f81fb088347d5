package config

import (
	"reflect"
	"testing"
)

func TestP2PValidate(t *testing.T) {
	if err := DefaultP2P().Validate(); err != nil {
		t.Errorf("error validating default p2p: %s", err)
	}
}

func TestP2PValidateBadPort(t *testing.T) {
	p := DefaultP2P()
	p.ListenPort = 70000
	if err := p.Validate(); err == nil {
		t.Error("expected error for out-of-range listen_port")
	}
}

func TestP2PCopy(t *testing.T) {
	p := DefaultP2P()
	p.BootstrapPeers = []string{"/ip4/1.2.3.4/tcp/4001/p2p/QmA"}

	cpy := p.Copy()
	if !reflect.DeepEqual(cpy, p) {
		t.Errorf("P2P copy should be deeply equal to original:\ncopy: %+v\noriginal: %+v", cpy, p)
	}
	cpy.BootstrapPeers[0] = ""
	if reflect.DeepEqual(cpy, p) {
		t.Error("editing the copy's bootstrap peers should not affect the original")
	}
}
