package handle

import (
	"context"
	"testing"
	"time"

	"github.com/avi-mesh/avi/command"
	"github.com/avi-mesh/avi/errs"
	"github.com/avi-mesh/avi/event"
)

// fakeRuntime answers commands the way the real Runtime would for the
// subset of behaviour these tests exercise, without depending on the
// runtime package (which itself depends on libp2p).
func fakeRuntime(t *testing.T, ctx context.Context, cmds <-chan command.Command) map[string]interface{} {
	t.Helper()
	store := map[string]interface{}{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-cmds:
				if !ok {
					return
				}
				switch cmd.Kind {
				case command.UpdateSelfContext:
					p := cmd.Payload.(command.UpdateSelfContextPayload)
					data, _ := store["data"].(map[string]interface{})
					if data == nil {
						data = map[string]interface{}{}
					}
					for k, v := range p.Patch {
						data[k] = v
					}
					store["data"] = data
					cmd.Reply <- command.Reply{Value: data}
				case command.ReplaceSelfContext:
					p := cmd.Payload.(command.ReplaceSelfContextPayload)
					store["data"] = p.Value
					cmd.Reply <- command.Reply{Value: p.Value}
				case command.GetPeerContext:
					data, _ := store["data"].(map[string]interface{})
					if data == nil {
						data = map[string]interface{}{}
					}
					cmd.Reply <- command.Reply{Value: data}
				case command.GetConnectedPeers:
					cmd.Reply <- command.Reply{Value: []string{"peerX"}}
				default:
					cmd.Reply <- command.Reply{Err: errs.ErrChannelClosed}
				}
			}
		}
	}()
	return store
}

func TestHandleUpdateAndGetContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := make(chan command.Command, 10)
	fakeRuntime(t, ctx, cmds)
	h := New(cmds, event.NewBus(ctx))

	_, err := h.UpdateContext(ctx, map[string]interface{}{
		"device": map[string]interface{}{"name": "Kitchen"},
	})
	if err != nil {
		t.Fatalf("update context: %s", err)
	}

	doc, err := h.GetContext(ctx, "")
	if err != nil {
		t.Fatalf("get context: %s", err)
	}
	device := doc["device"].(map[string]interface{})
	if device["name"] != "Kitchen" {
		t.Fatalf("unexpected context: %+v", doc)
	}
}

func TestHandlePathHelpers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := make(chan command.Command, 10)
	fakeRuntime(t, ctx, cmds)
	h := New(cmds, event.NewBus(ctx))

	h.ReplaceContext(ctx, map[string]interface{}{"device": map[string]interface{}{"name": "X"}})

	v, err := h.GetPath(ctx, "", "device.name")
	if err != nil || v != "X" {
		t.Fatalf("get path failed: %v %v", v, err)
	}

	has, err := h.HasPath(ctx, "", "device.missing")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if has {
		t.Fatal("expected has=false for missing path")
	}
}

func TestHandleErrorsWhenRuntimeUnresponsive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An unbuffered channel with nothing draining it simulates a gone
	// or wedged runtime: the send never completes.
	cmds := make(chan command.Command)
	h := New(cmds, event.NewBus(ctx))

	sendCtx, sendCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer sendCancel()

	err := h.Subscribe(sendCtx, "t/x")
	if err == nil {
		t.Fatal("expected an error when the runtime never picks up the command")
	}
}

func TestHandleChannelClosedOnDroppedReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := make(chan command.Command, 1)
	h := New(cmds, event.NewBus(ctx))

	go func() {
		cmd := <-cmds
		close(cmd.Reply) // runtime shut down before replying
	}()

	err := h.Subscribe(ctx, "t/x")
	if err != errs.ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
