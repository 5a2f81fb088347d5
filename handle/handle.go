// Package handle implements the cheap, cloneable client-side façade
// described in spec §4.4 "Handle API": every operation builds a Command
// with a fresh one-shot reply, sends it to the Runtime, and awaits the
// answer.
package handle

import (
	"context"

	"github.com/avi-mesh/avi/command"
	"github.com/avi-mesh/avi/ctxstore"
	"github.com/avi-mesh/avi/errs"
	"github.com/avi-mesh/avi/event"
)

// Handle is safe to copy and share across goroutines; every method
// sends on the shared command channel and awaits its own reply.
type Handle struct {
	commands chan<- command.Command
	bus      *event.Bus
}

// New builds a Handle around a Runtime's command channel and event bus.
func New(commands chan<- command.Command, bus *event.Bus) Handle {
	return Handle{commands: commands, bus: bus}
}

// do sends cmd and awaits its reply. A reply channel closed without a
// value becomes ErrChannelClosed. The command channel is not watched:
// if no runtime takes the command, or none replies, do waits until ctx
// is done and returns ctx.Err().
func (h Handle) do(ctx context.Context, cmd command.Command) (interface{}, error) {
	select {
	case h.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r, ok := <-cmd.Reply:
		if !ok {
			return nil, errs.ErrChannelClosed
		}
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe joins a pub/sub topic.
func (h Handle) Subscribe(ctx context.Context, topic string) error {
	_, err := h.do(ctx, command.New(command.Subscribe, command.SubscribePayload{Topic: topic}))
	return err
}

// Unsubscribe leaves a pub/sub topic.
func (h Handle) Unsubscribe(ctx context.Context, topic string) error {
	_, err := h.do(ctx, command.New(command.Unsubscribe, command.SubscribePayload{Topic: topic}))
	return err
}

// Publish broadcasts data on topic.
func (h Handle) Publish(ctx context.Context, topic string, data []byte) error {
	_, err := h.do(ctx, command.New(command.Publish, command.PublishPayload{Topic: topic, Data: data}))
	return err
}

// RequestStream opens a logical stream to peer, returning its id once
// the open envelope has been sent (it does not wait for Accept/Reject).
func (h Handle) RequestStream(ctx context.Context, peer, reason string) (string, error) {
	v, err := h.do(ctx, command.New(command.RequestStream, command.RequestStreamPayload{Peer: peer, Reason: reason}))
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AcceptStream accepts a pending inbound stream.
func (h Handle) AcceptStream(ctx context.Context, streamID string) error {
	_, err := h.do(ctx, command.New(command.AcceptStream, command.AcceptStreamPayload{StreamID: streamID}))
	return err
}

// RejectStream rejects a pending inbound stream with reason.
func (h Handle) RejectStream(ctx context.Context, streamID, reason string) error {
	_, err := h.do(ctx, command.New(command.RejectStream, command.RejectStreamPayload{StreamID: streamID, Reason: reason}))
	return err
}

// SendStreamData sends bytes on an existing stream, buffering them if
// the stream is not yet Open.
func (h Handle) SendStreamData(ctx context.Context, streamID string, data []byte) error {
	_, err := h.do(ctx, command.New(command.SendStreamData, command.SendStreamDataPayload{StreamID: streamID, Data: data}))
	return err
}

// CloseStream closes an existing stream.
func (h Handle) CloseStream(ctx context.Context, streamID string) error {
	_, err := h.do(ctx, command.New(command.CloseStream, command.CloseStreamPayload{StreamID: streamID}))
	return err
}

// ConnectedPeers lists currently connected peer ids.
func (h Handle) ConnectedPeers(ctx context.Context) ([]string, error) {
	v, err := h.do(ctx, command.New(command.GetConnectedPeers, nil))
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// DiscoverPeers nudges the underlying discovery mechanisms.
func (h Handle) DiscoverPeers(ctx context.Context) error {
	_, err := h.do(ctx, command.New(command.DiscoverPeers, nil))
	return err
}

// UpdateContext merges patch into the local context document.
func (h Handle) UpdateContext(ctx context.Context, patch map[string]interface{}) (map[string]interface{}, error) {
	v, err := h.do(ctx, command.New(command.UpdateSelfContext, command.UpdateSelfContextPayload{Patch: patch}))
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// ReplaceContext substitutes the local context document wholesale.
func (h Handle) ReplaceContext(ctx context.Context, value map[string]interface{}) (map[string]interface{}, error) {
	v, err := h.do(ctx, command.New(command.ReplaceSelfContext, command.ReplaceSelfContextPayload{Value: value}))
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// GetContext returns peer's stored context document, or the local
// node's own if peer is empty.
func (h Handle) GetContext(ctx context.Context, peer string) (map[string]interface{}, error) {
	v, err := h.do(ctx, command.New(command.GetPeerContext, command.GetPeerContextPayload{Peer: peer}))
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// GetPath returns the value at dotted path p within peer's context
// (local if peer is empty).
func (h Handle) GetPath(ctx context.Context, peer, p string) (interface{}, error) {
	doc, err := h.GetContext(ctx, peer)
	if err != nil {
		return nil, err
	}
	return ctxstore.GetNestedValue(doc, p)
}

// HasPath reports whether p resolves to a value within peer's context.
func (h Handle) HasPath(ctx context.Context, peer, p string) (bool, error) {
	_, err := h.GetPath(ctx, peer, p)
	if err == nil {
		return true, nil
	}
	var pnf *ctxstore.PathNotFoundError
	if isPathNotFound(err, &pnf) {
		return false, nil
	}
	return false, err
}

// DeletePath removes the local context value at dotted path p.
func (h Handle) DeletePath(ctx context.Context, p string) error {
	local, err := h.GetContext(ctx, "")
	if err != nil {
		return err
	}
	if err := ctxstore.DeleteNestedValue(local, p); err != nil {
		return err
	}
	_, err = h.ReplaceContext(ctx, local)
	return err
}

// Clear replaces the local context with an empty document.
func (h Handle) Clear(ctx context.Context) error {
	_, err := h.ReplaceContext(ctx, map[string]interface{}{})
	return err
}

// SubscribeEvents returns an independent receiver on the runtime's
// broadcast event fan-out (spec §4.4, lossy drop-oldest under a slow
// consumer).
func (h Handle) SubscribeEvents() (<-chan event.Event, func()) {
	return h.bus.Subscribe()
}
