package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightdesk/permitchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Socket is the gorilla/websocket Transport. One Socket is created per
// authenticated session; rooms, typing and notifications all share it.
type Socket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	state    ConnState
	lastErr  error
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	handlers map[string]map[int]Handler
	nextID   int
}

// NewSocket creates a Socket that dials url (ws:// or wss://) on Connect.
func NewSocket(url string, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		url:      url,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect dials the gateway and runs the authentication handshake. The token
// travels in the Authorization header, not per-message. Calling Connect while
// connecting or connected is a no-op.
func (s *Socket) Connect(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateErrored
			s.lastErr = err
		}
		s.mu.Unlock()
		s.logger.Error("session connect failed", "url", s.url, "error", err)
		s.dispatch(model.EventError, errPayload(err))
		return err
	}

	s.mu.Lock()
	// Disconnect may have raced the dial. The handshake result is then
	// discarded: whoever tore the session down decided its fate, and a live
	// authenticated connection must not outlive that decision.
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.send = make(chan []byte, 256)
	s.done = make(chan struct{})
	s.state = StateConnected
	s.lastErr = nil
	s.mu.Unlock()

	go s.writePump(conn, s.send, s.done)
	go s.readPump(conn)

	s.logger.Info("session connected", "url", s.url)
	s.dispatch(model.EventConnected, nil)
	return nil
}

// Disconnect closes the connection and drops every registered handler.
// Safe to call repeatedly.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn = nil
	s.done = nil
	s.state = StateDisconnected
	s.handlers = make(map[string]map[int]Handler)
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if done != nil {
		close(done)
	}
}

func (s *Socket) Connected() bool {
	return s.State() == StateConnected
}

func (s *Socket) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent transport failure, if any.
func (s *Socket) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Socket) On(event string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	s.handlers[event][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) Off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

func (s *Socket) Emit(event string, payload any) error {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	send, done := s.send, s.done
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case send <- raw:
		return nil
	case <-done:
		return ErrNotConnected
	}
}

// readPump reads frames until the connection drops, dispatching each event
// in arrival order. Per-connection in-order delivery is the transport's only
// sequencing guarantee; no client-side reordering happens here.
func (s *Socket) readPump(conn *websocket.Conn) {
	defer s.teardown(conn)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("session read error", "error", err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if env.Event == "" {
			continue
		}
		s.dispatch(env.Event, env.Data)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (s *Socket) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case raw := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown handles the read loop ending, whether by explicit Disconnect or a
// mid-session drop. Only the latter dispatches a disconnected event: explicit
// Disconnect has already cleared the listeners.
func (s *Socket) teardown(conn *websocket.Conn) {
	conn.Close()

	s.mu.Lock()
	dropped := s.conn == conn
	if dropped {
		s.conn = nil
		s.state = StateDisconnected
		if s.done != nil {
			close(s.done)
			s.done = nil
		}
	}
	s.mu.Unlock()

	if dropped {
		s.logger.Warn("session disconnected")
		s.dispatch(model.EventDisconnected, nil)
	}
}

// dispatch invokes handlers synchronously so events are observed in the order
// the transport delivered them.
func (s *Socket) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func errPayload(err error) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return raw
}
