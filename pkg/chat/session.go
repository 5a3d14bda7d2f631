package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/model"
)

// Mode selects between a live backend-synced channel and a local-only draft
// channel (chat on an order that has not been submitted yet). Both run the
// same Session; draft mode simply skips the transport and the REST calls.
type Mode int

const (
	ModePersisted Mode = iota
	ModeDraft
)

// SessionConfig configures one order-scoped chat session.
type SessionConfig struct {
	OrderID string
	Self    auth.Identity
	Mode    Mode

	// Transport and API are required in persisted mode, ignored in draft mode.
	Transport Transport
	API       *Client

	// TypingIdle overrides the typing auto-expiry window (tests).
	TypingIdle time.Duration

	// OnChange is invoked with a fresh snapshot after every state mutation.
	// Invocations are serialized: the session never runs OnChange
	// concurrently with itself, so callbacks may keep unguarded local state.
	OnChange func(Snapshot)

	Logger *slog.Logger
}

// Snapshot is the UI-facing reactive state of a session.
type Snapshot struct {
	Messages    []model.Message
	TypingUsers []model.TypingEntry
	IsConnected bool
	UnreadCount int
	IsLoading   bool
	Error       string
}

// Session owns one order channel: its membership, message list, typing
// presence and read state. Messages, typing and unread state are owned
// exclusively by the session; nothing else mutates them.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
	typing *TypingTracker

	// cbMu serializes OnChange invocations; history/unread fetches and event
	// handlers all notify, from different goroutines. Never held under mu.
	cbMu sync.Mutex

	mu       sync.Mutex
	messages []model.Message
	seen     map[int64]struct{}
	unread   int
	loading  bool
	lastErr  string
	joined   bool
	closed   bool
	unsubs   []func()
	draftSeq int64
}

// NewSession creates a session for cfg.OrderID. Call Open to join the room
// and start loading history.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger.With("order_id", cfg.OrderID),
		seen:   make(map[int64]struct{}),
	}

	tcfg := TypingConfig{
		OrderID:     cfg.OrderID,
		Self:        model.TypingEntry{UserID: cfg.Self.UserID, Email: cfg.Self.Email},
		IdleTimeout: cfg.TypingIdle,
		OnChange:    s.notify,
	}
	if cfg.Mode == ModePersisted {
		tcfg.OnStart = func() { s.emitTyping(model.EventTypingStart) }
		tcfg.OnStop = func() { s.emitTyping(model.EventTypingStop) }
	}
	s.typing = NewTypingTracker(tcfg)
	return s
}

// Open subscribes to the live stream, joins the order room (deferring the
// join until the handshake completes if the connection is still coming up)
// and kicks off the history and unread-count fetches. Non-blocking; progress
// is observable through snapshots.
func (s *Session) Open(ctx context.Context) {
	if s.cfg.Mode == ModeDraft {
		return
	}

	t := s.cfg.Transport
	s.mu.Lock()
	s.loading = true
	s.unsubs = append(s.unsubs,
		t.On(model.EventConnected, func(json.RawMessage) { s.joinRoom(); s.notify() }),
		t.On(model.EventDisconnected, func(json.RawMessage) { s.onDisconnected() }),
		t.On(model.EventNewMessage, s.onNewMessage),
		t.On(model.EventUserTyping, s.onUserTyping),
		t.On(model.EventMessageRead, s.onMessageRead),
	)
	s.mu.Unlock()

	// Joins must never race the handshake: if the connection is still being
	// established, the connected handler above performs the deferred join.
	if t.Connected() {
		s.joinRoom()
	}

	go s.loadHistory(ctx)
	go s.loadUnread(ctx)
	s.notify()
}

// Close leaves the room and tears the session down: the typing timer is
// cancelled (emitting a courtesy typing-stop if the user was mid-compose so
// peers don't show a stale indicator), handlers are unsubscribed, and no
// timer fires afterwards. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	joined := s.joined
	s.joined = false
	s.mu.Unlock()

	s.typing.Close()

	if s.cfg.Mode == ModePersisted && joined {
		if err := s.cfg.Transport.Emit(model.EventLeaveOrderRoom, model.RoomRef{OrderID: s.cfg.OrderID}); err != nil {
			s.logger.Debug("leave emit skipped", "error", err)
		}
	}
	for _, off := range unsubs {
		off()
	}
}

// SendMessage validates and submits a message. The compose field is the
// caller's: on success it should be cleared, on failure left populated for a
// retry. The sent message is not appended locally; the live new-message echo
// (or the next history fetch) surfaces it.
func (s *Session) SendMessage(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if s.cfg.Mode == ModeDraft {
		s.appendDraft(body)
		s.typing.Stop()
		return nil
	}

	if _, err := s.cfg.API.SendMessage(ctx, s.cfg.OrderID, body); err != nil {
		s.logger.Warn("send failed", "error", err)
		return err
	}
	s.typing.Stop()
	return nil
}

// StartTyping records local compose activity.
func (s *Session) StartTyping() {
	s.typing.InputChanged()
}

// StopTyping forces the local typing state back to idle (input blur).
func (s *Session) StopTyping() {
	s.typing.Stop()
}

// MarkRead signals that the user has seen the channel. The local flags and
// counter flip when the message-read acknowledgment comes back over the
// stream.
func (s *Session) MarkRead() error {
	if s.cfg.Mode == ModeDraft {
		s.mu.Lock()
		s.unread = 0
		s.mu.Unlock()
		s.notify()
		return nil
	}
	return s.cfg.Transport.Emit(model.EventMarkRead, model.RoomRef{OrderID: s.cfg.OrderID})
}

// Snapshot returns the current UI-facing state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]model.Message, len(s.messages))
	copy(msgs, s.messages)
	connected := s.cfg.Mode == ModeDraft ||
		(s.cfg.Transport != nil && s.cfg.Transport.Connected())
	return Snapshot{
		Messages:    msgs,
		TypingUsers: s.typing.Entries(),
		IsConnected: connected,
		UnreadCount: s.unread,
		IsLoading:   s.loading,
		Error:       s.lastErr,
	}
}

func (s *Session) joinRoom() {
	s.mu.Lock()
	if s.closed || s.joined {
		s.mu.Unlock()
		return
	}
	s.joined = true
	s.mu.Unlock()

	if err := s.cfg.Transport.Emit(model.EventJoinOrderRoom, model.RoomRef{OrderID: s.cfg.OrderID}); err != nil {
		s.logger.Warn("join failed", "error", err)
		s.mu.Lock()
		s.joined = false
		s.mu.Unlock()
	}
}

func (s *Session) onDisconnected() {
	// Membership does not survive the connection; a later reconnect re-joins
	// through the connected handler.
	s.mu.Lock()
	s.joined = false
	s.mu.Unlock()
	s.notify()
}

// loadHistory replaces the message list with the REST snapshot, keeping any
// live messages that raced in during the fetch (de-duplicated by id).
func (s *Session) loadHistory(ctx context.Context) {
	history, err := s.cfg.API.History(ctx, s.cfg.OrderID)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.logger.Warn("history fetch failed", "error", err)
		s.notify()
		return
	}

	merged := make([]model.Message, 0, len(history)+len(s.messages))
	seen := make(map[int64]struct{}, len(history)+len(s.messages))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	s.messages = merged
	s.seen = seen
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Session) loadUnread(ctx context.Context) {
	count, err := s.cfg.API.UnreadCount(ctx, s.cfg.OrderID)
	if err != nil {
		s.logger.Warn("unread count fetch failed", "error", err)
		return
	}
	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onNewMessage(raw json.RawMessage) {
	var ev model.NewMessage
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("dropping malformed new-message", "error", err)
		return
	}
	// The transport is shared across every joined room; events for other
	// orders must not touch this channel's state.
	if ev.OrderID != s.cfg.OrderID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[ev.Message.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[ev.Message.ID] = struct{}{}
	s.messages = append(s.messages, ev.Message)
	s.unread++
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onUserTyping(raw json.RawMessage) {
	var ev model.UserTyping
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("dropping malformed user-typing", "error", err)
		return
	}
	s.typing.Apply(ev)
}

func (s *Session) onMessageRead(raw json.RawMessage) {
	var ev model.MessageRead
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("dropping malformed message-read", "error", err)
		return
	}
	if ev.OrderID != s.cfg.OrderID {
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		s.messages[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()
	s.notify()
}

func (s *Session) appendDraft(body string) {
	now := time.Now()
	s.mu.Lock()
	s.draftSeq--
	s.messages = append(s.messages, model.Message{
		ID:          s.draftSeq, // negative: never collides with server ids
		OrderID:     s.cfg.OrderID,
		SenderID:    s.cfg.Self.UserID,
		SenderEmail: s.cfg.Self.Email,
		Body:        body,
		Kind:        model.KindText,
		Read:        true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	s.mu.Unlock()
	s.notify()
}

func (s *Session) emitTyping(event string) {
	sig := model.TypingSignal{
		OrderID: s.cfg.OrderID,
		UserID:  s.cfg.Self.UserID,
		Email:   s.cfg.Self.Email,
	}
	if err := s.cfg.Transport.Emit(event, sig); err != nil {
		s.logger.Debug("typing emit skipped", "event", event, "error", err)
	}
}

func (s *Session) notify() {
	if s.cfg.OnChange == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.cfg.OnChange(snap)
}
