package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"

	"github.com/avi-mesh/avi/handle"
)

var log = golog.Logger("bridge")

// DefaultIdleTimeout is how long an MCU session may go quiet before
// eviction (spec §4.5 "Sessions expire after an idle timeout").
const DefaultIdleTimeout = 120 * time.Second

type session struct {
	deviceID   uint32
	streams    map[uint16]string // local_stream_id -> mesh stream id
	lastActive time.Time
}

// Server is the UDP bridge. Serve's goroutine owns the socket and
// handles every datagram; a second goroutine evicts idle sessions, so
// the session table is shared between the two behind mu (spec §5
// allows the bridge's two inner tasks to be split behind one mutex).
type Server struct {
	conn *net.UDPConn
	h    handle.Handle

	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session // remote addr string -> session
}

// NewServer binds a UDP socket on 0.0.0.0:port and returns a Server
// ready for Serve.
func NewServer(port int, h handle.Handle) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp bridge: %w", err)
	}
	return &Server{
		conn:        conn,
		h:           h,
		idleTimeout: DefaultIdleTimeout,
		sessions:    map[string]*session{},
	}, nil
}

// Close releases the UDP socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// SetIdleTimeout overrides the default session idle timeout. Call before
// Serve: the sweep period (a quarter of the timeout) is fixed when Serve
// starts, so a later change only moves the idle cutoff of later sweeps.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.idleTimeout = d
}

// Serve reads datagrams until ctx is done, dispatching each to its
// handler. It also evicts idle sessions periodically.
func (s *Server) Serve(ctx context.Context) error {
	go s.evictIdleLoop(ctx)

	buf := make([]byte, MaxFrameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				log.Warnw("udp read error", "err", err)
				continue
			}
		}

		frame, err := DecodeFrame(buf[:n])
		if err != nil {
			log.Debugw("dropping malformed frame", "from", addr, "err", err)
			continue
		}
		s.handleFrame(ctx, addr, frame)
	}
}

func (s *Server) evictIdleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Server) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for addr, sess := range s.sessions {
		if now.Sub(sess.lastActive) > s.idleTimeout {
			delete(s.sessions, addr)
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, addr *net.UDPAddr, frame Frame) {
	key := addr.String()

	switch frame.Tag {
	case TagHello:
		s.mu.Lock()
		s.sessions[key] = &session{deviceID: frame.DeviceID, streams: map[uint16]string{}, lastActive: time.Now()}
		s.mu.Unlock()
		s.conn.WriteToUDP(EncodeWelcome(), addr)

	case TagStreamStart:
		sess := s.touch(key)
		if sess == nil {
			return
		}
		streamID, err := s.h.RequestStream(ctx, frame.TargetPeer, frame.Reason)
		if err != nil {
			log.Warnw("bridge request_stream failed", "device", sess.deviceID, "err", err)
			s.conn.WriteToUDP(EncodeError(1), addr)
			return
		}
		s.mu.Lock()
		sess.streams[frame.LocalID] = streamID
		s.mu.Unlock()

	case TagStreamData:
		sess := s.touch(key)
		if sess == nil {
			return
		}
		s.mu.Lock()
		streamID, ok := sess.streams[frame.LocalID]
		s.mu.Unlock()
		if !ok {
			return
		}
		if err := s.h.SendStreamData(ctx, streamID, frame.Data); err != nil {
			log.Debugw("bridge send_stream_data failed", "err", err)
		}

	case TagStreamClose:
		sess := s.touch(key)
		if sess == nil {
			return
		}
		s.mu.Lock()
		streamID, ok := sess.streams[frame.LocalID]
		if ok {
			delete(sess.streams, frame.LocalID)
		}
		s.mu.Unlock()
		if ok {
			if err := s.h.CloseStream(ctx, streamID); err != nil {
				log.Debugw("bridge close_stream failed", "err", err)
			}
		}

	case TagButtonPress:
		sess := s.touch(key)
		if sess == nil {
			return
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"button_id": frame.ButtonID,
			"type":      pressTypeName(frame.PressType),
			"ts":        time.Now().Unix(),
		})
		topic := fmt.Sprintf("avi/home/device_%d/button", sess.deviceID)
		if err := s.h.Publish(ctx, topic, payload); err != nil {
			log.Debugw("bridge publish button press failed", "err", err)
		}

	case TagSensorUpdate:
		sess := s.touch(key)
		if sess == nil {
			return
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"value": frame.Value,
			"unit":  sensorUnit(frame.SensorName),
			"ts":    time.Now().Unix(),
		})
		topic := fmt.Sprintf("avi/home/device_%d/sensor/%s", sess.deviceID, frame.SensorName)
		if err := s.h.Publish(ctx, topic, payload); err != nil {
			log.Debugw("bridge publish sensor update failed", "err", err)
		}
	}
}

func (s *Server) touch(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	sess.lastActive = time.Now()
	return sess
}

func pressTypeName(t byte) string {
	switch t {
	case PressSingle:
		return "Single"
	case PressDouble:
		return "Double"
	case PressLong:
		return "Long"
	default:
		return "Unknown"
	}
}

func sensorUnit(name string) string {
	switch name {
	case "temperature":
		return "C"
	case "humidity":
		return "%"
	default:
		return ""
	}
}
