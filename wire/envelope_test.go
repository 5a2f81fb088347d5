package wire

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []Envelope{
		StreamOpen("p-1-deadbeef", "file transfer"),
		StreamAccept("p-1-deadbeef"),
		StreamReject("p-1-deadbeef", "busy"),
		StreamData("p-1-deadbeef", []byte{1, 2, 3}),
		StreamClose("p-1-deadbeef", "normal"),
	}

	for _, want := range cases {
		b, err := Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %s", err)
		}
		got, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("unmarshal: %s", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEnvelopeFrameRoundTrip(t *testing.T) {
	want := StreamData("p-1-deadbeef", []byte("hello"))
	buf := &bytes.Buffer{}
	if err := WriteEnvelope(buf, want); err != nil {
		t.Fatalf("write: %s", err)
	}
	got, err := ReadEnvelope(buf)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestContextAnnounceRoundTrip(t *testing.T) {
	want := ContextAnnounce{
		PeerID: "peerA",
		Data:   map[string]interface{}{"device": map[string]interface{}{"name": "Kitchen"}},
		Clock:  map[string]uint64{"peerA": 3},
	}
	b, err := MarshalContextAnnounce(want)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	got, err := UnmarshalContextAnnounce(b)
	if err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
