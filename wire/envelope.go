// Package wire defines the stable serialisation of the envelopes carried
// over the logical stream RPC protocol and the context gossip topic. Both
// are plain JSON, length-prefixed when framed over a raw byte stream, the
// same way qri's bsync package frames manifests over HTTP (bsync/http.go)
// adapted here to a length-prefixed binary framing suitable for a libp2p
// network.Stream rather than HTTP request/response bodies.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/avi-mesh/avi/errs"
)

// MaxEnvelopeSize bounds a single framed envelope read from the wire,
// guarding against a misbehaving peer claiming an unbounded length prefix.
const MaxEnvelopeSize = 1 << 20 // 1 MiB, matching the pubsub max transmit size

// Kind enumerates the logical-stream envelope variants (spec §4.2).
type Kind string

// Envelope kinds.
const (
	KindStreamOpen   Kind = "stream_open"
	KindStreamAccept Kind = "stream_accept"
	KindStreamReject Kind = "stream_reject"
	KindStreamData   Kind = "stream_data"
	KindStreamClose  Kind = "stream_close"
)

// Envelope is the single wire type carried over the /avi/rpc/1.0.0 stream
// protocol. Exactly one of the Kind-specific fields is meaningful for a
// given Kind; the rest are zero.
type Envelope struct {
	Kind     Kind   `json:"kind"`
	StreamID string `json:"stream_id"`
	Reason   string `json:"reason,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// StreamOpen builds a stream-open envelope.
func StreamOpen(streamID, reason string) Envelope {
	return Envelope{Kind: KindStreamOpen, StreamID: streamID, Reason: reason}
}

// StreamAccept builds a stream-accept envelope.
func StreamAccept(streamID string) Envelope {
	return Envelope{Kind: KindStreamAccept, StreamID: streamID}
}

// StreamReject builds a stream-reject envelope.
func StreamReject(streamID, reason string) Envelope {
	return Envelope{Kind: KindStreamReject, StreamID: streamID, Reason: reason}
}

// StreamData builds a stream-data envelope.
func StreamData(streamID string, data []byte) Envelope {
	return Envelope{Kind: KindStreamData, StreamID: streamID, Data: data}
}

// StreamClose builds a stream-close envelope.
func StreamClose(streamID, reason string) Envelope {
	return Envelope{Kind: KindStreamClose, StreamID: streamID, Reason: reason}
}

// Marshal serialises an Envelope to JSON bytes.
func Marshal(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, &errs.SerializationError{Detail: "marshal envelope", Err: err}
	}
	return b, nil
}

// Unmarshal deserialises JSON bytes into an Envelope.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, &errs.SerializationError{Detail: "unmarshal envelope", Err: err}
	}
	return e, nil
}

// WriteEnvelope frames an envelope as a 4-byte big-endian length prefix
// followed by its JSON encoding, and writes it to w.
func WriteEnvelope(w io.Writer, e Envelope) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return writeFrame(w, b)
}

// ReadEnvelope reads one length-prefixed frame from r and decodes it.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	b, err := readFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return Unmarshal(b)
}

func writeFrame(w io.Writer, b []byte) error {
	if len(b) > MaxEnvelopeSize {
		return &errs.SerializationError{Detail: fmt.Sprintf("envelope of %d bytes exceeds max %d", len(b), MaxEnvelopeSize)}
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return &errs.NetworkError{Detail: "write frame header", Err: err}
	}
	if _, err := w.Write(b); err != nil {
		return &errs.NetworkError{Detail: "write frame body", Err: err}
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, &errs.NetworkError{Detail: "read frame header", Err: err}
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxEnvelopeSize {
		return nil, &errs.SerializationError{Detail: fmt.Sprintf("frame of %d bytes exceeds max %d", n, MaxEnvelopeSize)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &errs.NetworkError{Detail: "read frame body", Err: err}
	}
	return buf, nil
}
