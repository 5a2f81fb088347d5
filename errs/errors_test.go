package errs

import (
	"errors"
	"testing"
)

func TestErrChannelClosedIs(t *testing.T) {
	var err error = ErrChannelClosed
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected errors.Is to match ErrChannelClosed")
	}
}

func TestStreamNotFoundAs(t *testing.T) {
	var err error = &StreamNotFoundError{StreamID: "abc-1-deadbeef"}
	var target *StreamNotFoundError
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to match *StreamNotFoundError")
	}
	if target.StreamID != "abc-1-deadbeef" {
		t.Fatalf("unexpected stream id: %s", target.StreamID)
	}
}

func TestInvalidStreamStateMessage(t *testing.T) {
	err := &InvalidStreamStateError{StreamID: "x", Actual: "Closed", Expected: []string{"Open"}}
	want := "stream x: invalid state Closed, expected one of [Open]"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
