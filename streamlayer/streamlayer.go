// Package streamlayer implements the logical stream state machine built
// on top of the stateless request/response wire protocol (spec §4.2
// "Logical Stream Layer").
package streamlayer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/avi-mesh/avi/errs"
)

// Direction records who initiated a stream.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "Outbound"
	}
	return "Inbound"
}

// Status is the finite state of a logical stream (spec §4.2 state table).
type Status int

const (
	PendingOutbound Status = iota
	PendingInbound
	Open
	Closed
	Rejected
)

func (s Status) String() string {
	switch s {
	case PendingOutbound:
		return "PendingOutbound"
	case PendingInbound:
		return "PendingInbound"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func (s Status) terminal() bool {
	return s == Closed || s == Rejected
}

// CloseReason enumerates why a stream reached a terminal state.
type CloseReason int

const (
	Normal CloseReason = iota
	RejectedByRemote
	PeerDisconnected
	Timeout
	ProtocolError
	LocalShutdown
)

func (r CloseReason) String() string {
	switch r {
	case Normal:
		return "Normal"
	case RejectedByRemote:
		return "RejectedByRemote"
	case PeerDisconnected:
		return "PeerDisconnected"
	case Timeout:
		return "Timeout"
	case ProtocolError:
		return "ProtocolError"
	case LocalShutdown:
		return "LocalShutdown"
	default:
		return "Unknown"
	}
}

// DefaultBufferCap is the bound B on queued payloads while a stream is
// pending, applied separately to the outbound-send and inbound-receive
// queues (spec §4.2 "Buffering").
const DefaultBufferCap = 32

// DefaultGraceInterval is how long a terminal stream record is retained
// before garbage collection (spec §4.2 "Garbage collection").
const DefaultGraceInterval = 30 * time.Second

// NowFunc is overridable in tests.
var NowFunc = time.Now

// Record is the per-stream state described in spec §3 "Stream Record".
type Record struct {
	StreamID        string
	RemotePeer      string
	Direction       Direction
	Status          Status
	OpenReason      string
	CloseReason     CloseReason
	CloseDetail     string
	SendBuffer      [][]byte // locally queued sends, awaiting Open
	RecvBuffer      [][]byte // remotely received data, awaiting local Open
	CreatedAt       int64
	LastActivityAt  int64
	closedAt        int64 // set on reaching a terminal state, used for GC
}

func newStreamID(initiator string, counter uint64) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", initiator, counter, hex.EncodeToString(suffix)), nil
}

// Registry owns every stream this node currently knows about. It is not
// safe for concurrent use on its own; the Runtime serializes all access
// the same way it serializes every other piece of mutable state.
type Registry struct {
	mu      sync.Mutex // guards nothing the Runtime doesn't already serialize; kept so tests can exercise it standalone
	records map[string]*Record
	counter uint64
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: map[string]*Record{}}
}

// Get returns the record for id, if any.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// NewOutbound creates a PendingOutbound record for a locally-initiated
// stream to remotePeer and returns its freshly minted id.
func (r *Registry) NewOutbound(localPeer, remotePeer, reason string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	id, err := newStreamID(localPeer, r.counter)
	if err != nil {
		return nil, &errs.NetworkError{Detail: "generate stream id", Err: err}
	}
	now := NowFunc().UnixNano()
	rec := &Record{
		StreamID:       id,
		RemotePeer:     remotePeer,
		Direction:      Outbound,
		Status:         PendingOutbound,
		OpenReason:     reason,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.records[id] = rec
	return rec, nil
}

// HandleOpen processes an inbound StreamOpen envelope. Per the state
// table this is only valid from the *None* state (i.e. id unseen); any
// existing PendingOutbound/Open/terminal record makes it an error, except
// a duplicate StreamOpen while already PendingInbound, which simply
// resends the current state (idempotent retry).
func (r *Registry) HandleOpen(id, remotePeer, reason string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[id]; ok {
		if existing.Status == PendingInbound {
			return existing, nil
		}
		return nil, &errs.InvalidStreamStateError{StreamID: id, Actual: existing.Status.String(), Expected: []string{"none"}}
	}

	now := NowFunc().UnixNano()
	rec := &Record{
		StreamID:       id,
		RemotePeer:     remotePeer,
		Direction:      Inbound,
		Status:         PendingInbound,
		OpenReason:     reason,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.records[id] = rec
	return rec, nil
}

// HandleAccept processes an inbound StreamAccept. Valid only from
// PendingOutbound, transitioning to Open and returning both buffers to
// flush in FIFO order: sendFlush is locally queued data to send to the
// remote now that the stream is open, recvFlush is data the remote
// already sent while we were pending, ready for local delivery. Open is
// idempotent (ignored, nothing to flush). Any other state is an error.
func (r *Registry) HandleAccept(id string) (rec *Record, sendFlush [][]byte, recvFlush [][]byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, nil, nil, &errs.StreamNotFoundError{StreamID: id}
	}
	switch rec.Status {
	case PendingOutbound:
		rec.Status = Open
		rec.LastActivityAt = NowFunc().UnixNano()
		sendFlush, recvFlush = rec.SendBuffer, rec.RecvBuffer
		rec.SendBuffer, rec.RecvBuffer = nil, nil
		return rec, sendFlush, recvFlush, nil
	case Open:
		return rec, nil, nil, nil
	default:
		return nil, nil, nil, &errs.InvalidStreamStateError{StreamID: id, Actual: rec.Status.String(), Expected: []string{"PendingOutbound"}}
	}
}

// HandleReject processes an inbound StreamReject. Valid only from
// PendingOutbound.
func (r *Registry) HandleReject(id, reason string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, &errs.StreamNotFoundError{StreamID: id}
	}
	if rec.Status != PendingOutbound {
		return nil, &errs.InvalidStreamStateError{StreamID: id, Actual: rec.Status.String(), Expected: []string{"PendingOutbound"}}
	}
	rec.Status = Rejected
	rec.CloseReason = RejectedByRemote
	rec.CloseDetail = reason
	rec.LastActivityAt = NowFunc().UnixNano()
	rec.closedAt = rec.LastActivityAt
	return rec, nil
}

// HandleData processes inbound StreamData bytes. In Open it is ready
// for immediate delivery to the caller as a StreamData event. In
// PendingOutbound or PendingInbound it is queued on the inbound-receive
// buffer (bounded), to be delivered once the stream transitions Open.
// In any terminal state it is ignored.
func (r *Registry) HandleData(id string, data []byte) (rec *Record, deliver bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recv, ok := r.records[id]
	if !ok {
		return nil, false, &errs.StreamNotFoundError{StreamID: id}
	}
	switch recv.Status {
	case Open:
		recv.LastActivityAt = NowFunc().UnixNano()
		return recv, true, nil
	case PendingOutbound, PendingInbound:
		if len(recv.RecvBuffer) >= DefaultBufferCap {
			return nil, false, errs.ErrBackpressure
		}
		recv.RecvBuffer = append(recv.RecvBuffer, data)
		recv.LastActivityAt = NowFunc().UnixNano()
		return recv, false, nil
	default:
		return recv, false, nil // terminal: ignore
	}
}

// HandleClose processes an inbound StreamClose. From PendingOutbound or
// PendingInbound or Open it transitions to Closed; from a terminal state
// or an unknown id (the *None* row) it is ignored.
func (r *Registry) HandleClose(id, reason string) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false, nil
	}
	if rec.Status.terminal() {
		return rec, false, nil
	}
	rec.Status = Closed
	rec.CloseReason = Normal
	rec.CloseDetail = reason
	rec.LastActivityAt = NowFunc().UnixNano()
	rec.closedAt = rec.LastActivityAt
	return rec, true, nil
}

// LocalAccept processes a local AcceptStream command. Valid only from
// PendingInbound; transitions to Open, signals that a StreamAccept
// envelope must be sent to the remote, and returns both buffers to
// flush in FIFO order the same way HandleAccept does: sendFlush is
// locally queued data to send to the remote now that the stream is
// open, recvFlush is data the remote already sent while we were
// pending, ready for local delivery.
func (r *Registry) LocalAccept(id string) (rec *Record, sendFlush [][]byte, recvFlush [][]byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, nil, nil, &errs.StreamNotFoundError{StreamID: id}
	}
	if rec.Status != PendingInbound {
		return nil, nil, nil, &errs.InvalidStreamStateError{StreamID: id, Actual: rec.Status.String(), Expected: []string{"PendingInbound"}}
	}
	rec.Status = Open
	rec.LastActivityAt = NowFunc().UnixNano()
	sendFlush, recvFlush = rec.SendBuffer, rec.RecvBuffer
	rec.SendBuffer, rec.RecvBuffer = nil, nil
	return rec, sendFlush, recvFlush, nil
}

// LocalReject processes a local RejectStream command. Valid only from
// PendingInbound.
func (r *Registry) LocalReject(id, reason string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, &errs.StreamNotFoundError{StreamID: id}
	}
	if rec.Status != PendingInbound {
		return nil, &errs.InvalidStreamStateError{StreamID: id, Actual: rec.Status.String(), Expected: []string{"PendingInbound"}}
	}
	rec.Status = Rejected
	rec.CloseReason = RejectedByRemote
	rec.CloseDetail = reason
	rec.LastActivityAt = NowFunc().UnixNano()
	rec.closedAt = rec.LastActivityAt
	return rec, nil
}

// LocalSend processes a local SendStreamData command. In PendingOutbound
// or PendingInbound it buffers (bounded by DefaultBufferCap, returning
// ErrBackpressure beyond that); in Open it is ready to send immediately;
// any terminal state is an error.
func (r *Registry) LocalSend(id string, data []byte) (rec *Record, sendNow bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recv, ok := r.records[id]
	if !ok {
		return nil, false, &errs.StreamNotFoundError{StreamID: id}
	}
	switch recv.Status {
	case Open:
		recv.LastActivityAt = NowFunc().UnixNano()
		return recv, true, nil
	case PendingOutbound, PendingInbound:
		if len(recv.SendBuffer) >= DefaultBufferCap {
			return nil, false, errs.ErrBackpressure
		}
		recv.SendBuffer = append(recv.SendBuffer, data)
		recv.LastActivityAt = NowFunc().UnixNano()
		return recv, false, nil
	default:
		return nil, false, &errs.InvalidStreamStateError{StreamID: id, Actual: recv.Status.String(), Expected: []string{"PendingOutbound", "PendingInbound", "Open"}}
	}
}

// LocalClose processes a local CloseStream command. From PendingOutbound
// or Open it transitions to Closed and signals a Close envelope must be
// sent. From PendingInbound it instead transitions to Rejected and
// signals a Reject envelope must be sent (spec §4.2 state table: a
// never-accepted inbound stream that's closed locally is a rejection,
// not a close). From a terminal state it is idempotent (no envelope to
// send).
func (r *Registry) LocalClose(id string) (rec *Record, sendEnvelope bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recv, ok := r.records[id]
	if !ok {
		return nil, false, &errs.StreamNotFoundError{StreamID: id}
	}
	if recv.Status.terminal() {
		return recv, false, nil
	}
	if recv.Status == PendingInbound {
		recv.Status = Rejected
		recv.CloseReason = RejectedByRemote
		recv.LastActivityAt = NowFunc().UnixNano()
		recv.closedAt = recv.LastActivityAt
		return recv, true, nil
	}
	recv.Status = Closed
	recv.CloseReason = LocalShutdown
	recv.LastActivityAt = NowFunc().UnixNano()
	recv.closedAt = recv.LastActivityAt
	return recv, true, nil
}

// PeerDisconnected transitions every stream owned by peer to Closed with
// reason PeerDisconnected, returning the affected stream ids so the
// caller can emit StreamClosed events (spec §4.2 "Peer disconnect").
func (r *Registry) PeerDisconnected(peer string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	now := NowFunc().UnixNano()
	for id, rec := range r.records {
		if rec.RemotePeer != peer || rec.Status.terminal() {
			continue
		}
		rec.Status = Closed
		rec.CloseReason = PeerDisconnected
		rec.LastActivityAt = now
		rec.closedAt = now
		affected = append(affected, id)
	}
	return affected
}

// GC removes every terminal record whose grace interval has elapsed.
func (r *Registry) GC(grace time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := NowFunc().UnixNano()
	for id, rec := range r.records {
		if rec.Status.terminal() && time.Duration(now-rec.closedAt) >= grace {
			delete(r.records, id)
		}
	}
}

// Len reports how many stream records are currently tracked, including
// ones pending garbage collection.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
