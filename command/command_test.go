package command

import (
	"testing"
)

func TestNewCommandReplyChannelBuffered(t *testing.T) {
	cmd := New(Publish, PublishPayload{Topic: "lights", Data: []byte("on")})
	if cmd.Kind != Publish {
		t.Fatalf("expected Publish, got %s", cmd.Kind)
	}
	// a buffered reply channel must accept a send even with no receiver
	// waiting, so the Runtime never blocks delivering to an abandoned call.
	cmd.Reply <- Reply{Value: true}
	got := <-cmd.Reply
	if got.Value != true {
		t.Fatalf("unexpected reply value: %v", got.Value)
	}
}

func TestKindStringExhaustive(t *testing.T) {
	kinds := []Kind{
		Subscribe, Unsubscribe, Publish, RequestStream, AcceptStream,
		RejectStream, SendStreamData, CloseStream, GetConnectedPeers,
		DiscoverPeers, UpdateSelfContext, ReplaceSelfContext, GetPeerContext,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "Unknown" {
			t.Errorf("kind %d stringified to Unknown", k)
		}
		if seen[s] {
			t.Errorf("duplicate Kind.String() value %q", s)
		}
		seen[s] = true
	}
}
