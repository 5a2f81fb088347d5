package bridge

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/avi-mesh/avi/command"
	"github.com/avi-mesh/avi/event"
	"github.com/avi-mesh/avi/handle"
)

// fakeRuntime answers just enough commands for the bridge scenarios.
func fakeRuntime(ctx context.Context, cmds <-chan command.Command, published chan<- command.PublishPayload) {
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
				case command.RequestStream:
					cmd.Reply <- command.Reply{Value: "peerA-1-deadbeef"}
				case command.SendStreamData, command.CloseStream:
					cmd.Reply <- command.Reply{Value: nil}
				case command.Publish:
					p := cmd.Payload.(command.PublishPayload)
					select {
					case published <- p:
					default:
					}
					cmd.Reply <- command.Reply{Value: nil}
				default:
					cmd.Reply <- command.Reply{Value: nil}
				}
			}
		}
	}()
}

func newTestServer(t *testing.T) (*Server, chan command.PublishPayload, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cmds := make(chan command.Command, 16)
	published := make(chan command.PublishPayload, 16)
	fakeRuntime(ctx, cmds, published)

	h := handle.New(cmds, event.NewBus(ctx))
	srv, err := NewServer(0, h)
	if err != nil {
		t.Fatalf("new server: %s", err)
	}
	srv.idleTimeout = time.Hour

	go srv.Serve(ctx)

	return srv, published, func() {
		cancel()
		srv.Close()
	}
}

func sendUDP(t *testing.T, srv *Server, frame []byte) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, srv.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %s", err)
	}
	return conn
}

func TestBridgeHelloGetsWelcome(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := sendUDP(t, srv, encodeHello(5555))
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, MaxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read welcome: %s", err)
	}
	if Tag(buf[0]) != TagWelcome || n != 1 {
		t.Fatalf("expected Welcome frame, got %v", buf[:n])
	}
}

func TestBridgeButtonPressPublishesJSON(t *testing.T) {
	srv, published, cleanup := newTestServer(t)
	defer cleanup()

	conn := sendUDP(t, srv, encodeHello(5555))
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	conn.Write(encodeButtonPress(1, PressDouble))

	select {
	case p := <-published:
		if p.Topic != "avi/home/device_5555/button" {
			t.Fatalf("unexpected topic: %s", p.Topic)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(p.Data, &body); err != nil {
			t.Fatalf("unmarshal payload: %s", err)
		}
		if body["type"] != "Double" {
			t.Fatalf("unexpected payload: %+v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestBridgeSensorUpdatePublishesWithUnit(t *testing.T) {
	srv, published, cleanup := newTestServer(t)
	defer cleanup()

	conn := sendUDP(t, srv, encodeHello(5555))
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	conn.Write(encodeSensorUpdate(21.5, "temperature"))

	select {
	case p := <-published:
		if p.Topic != "avi/home/device_5555/sensor/temperature" {
			t.Fatalf("unexpected topic: %s", p.Topic)
		}
		var body map[string]interface{}
		json.Unmarshal(p.Data, &body)
		if body["unit"] != "C" {
			t.Fatalf("unexpected unit: %+v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestBridgeStreamStartTracksMapping(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := sendUDP(t, srv, encodeHello(5555))
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	conn.Write(encodeStreamStart(7, "peerB", "file"))
	time.Sleep(50 * time.Millisecond)

	key := conn.LocalAddr().String()
	srv.mu.Lock()
	sess, ok := srv.sessions[key]
	srv.mu.Unlock()
	if !ok {
		t.Fatal("expected session to exist")
	}
	srv.mu.Lock()
	streamID, ok := sess.streams[7]
	srv.mu.Unlock()
	if !ok || streamID != "peerA-1-deadbeef" {
		t.Fatalf("expected stream mapping, got %q ok=%v", streamID, ok)
	}
}

func TestMalformedFrameDoesNotCrashServer(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := sendUDP(t, srv, []byte{99, 1, 2})
	defer conn.Close()

	// Server should still answer a subsequent well-formed Hello.
	conn.Write(encodeHello(1))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, MaxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("server appears dead after malformed frame: %s", err)
	}
	if Tag(buf[0]) != TagWelcome || n != 1 {
		t.Fatalf("expected Welcome after recovering, got %v", buf[:n])
	}
}
