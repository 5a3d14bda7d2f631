package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/freightdesk/permitchat/pkg/model"
)

// DefaultTypingIdle is how long after the last input change the local typing
// state auto-expires.
const DefaultTypingIdle = 3000 * time.Millisecond

// TypingConfig configures a per-channel typing tracker.
type TypingConfig struct {
	OrderID string

	// Self is the local identity; its own echoes are ignored in the remote set.
	Self model.TypingEntry

	// IdleTimeout is the inactivity window before a typing-stop fires.
	// Defaults to DefaultTypingIdle.
	IdleTimeout time.Duration

	// OnStart emits typing-start. Fired on every input change while typing;
	// receivers must be idempotent to repeated starts.
	OnStart func()

	// OnStop emits typing-stop. Fired exactly once per typing episode.
	OnStop func()

	// OnChange fires when the remote typing set changes.
	OnChange func()
}

// TypingTracker keeps the local idle/typing state machine and the remote
// "who is composing" set for one order channel.
//
// The tracker seals itself on Close so a late idle timer can never fire a
// stray typing-stop after the channel view is gone.
type TypingTracker struct {
	mu     sync.Mutex
	cfg    TypingConfig
	typing bool
	sealed bool
	timer  *time.Timer
	remote map[string]model.TypingEntry
}

func NewTypingTracker(cfg TypingConfig) *TypingTracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultTypingIdle
	}
	return &TypingTracker{
		cfg:    cfg,
		remote: make(map[string]model.TypingEntry),
	}
}

// InputChanged records local compose activity: transitions idle→typing,
// re-arms the inactivity timer, and emits typing-start.
func (t *TypingTracker) InputChanged() {
	t.mu.Lock()
	if t.sealed {
		t.mu.Unlock()
		return
	}
	t.typing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.cfg.IdleTimeout, t.idleExpired)
	start := t.cfg.OnStart
	t.mu.Unlock()

	if start != nil {
		start()
	}
}

// Stop transitions typing→idle immediately: input blur, send completion, or
// an explicit stop. Safe to call while already idle.
func (t *TypingTracker) Stop() {
	t.stop(false)
}

// IsTyping reports the local state.
func (t *TypingTracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Apply reconciles a remote user-typing event into the presence set. Events
// for other orders and the local user's own echoes are ignored.
func (t *TypingTracker) Apply(ev model.UserTyping) {
	t.mu.Lock()
	if t.sealed || ev.OrderID != t.cfg.OrderID || ev.Email == t.cfg.Self.Email {
		t.mu.Unlock()
		return
	}
	if ev.IsTyping {
		t.remote[ev.Email] = model.TypingEntry{UserID: ev.UserID, Email: ev.Email}
	} else {
		delete(t.remote, ev.Email)
	}
	change := t.cfg.OnChange
	t.mu.Unlock()

	if change != nil {
		change()
	}
}

// Entries returns the remote typing set, ordered by email for stable renders.
func (t *TypingTracker) Entries() []model.TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]model.TypingEntry, 0, len(t.remote))
	for _, e := range t.remote {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Email < entries[j].Email })
	return entries
}

// Close seals the tracker: the pending timer is cancelled, the remote set is
// dropped, and a courtesy typing-stop is emitted if the local user was still
// typing, so peers are not left showing a stale indicator.
func (t *TypingTracker) Close() {
	t.stop(true)
}

func (t *TypingTracker) idleExpired() {
	t.mu.Lock()
	if t.sealed || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.timer = nil
	stop := t.cfg.OnStop
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (t *TypingTracker) stop(seal bool) {
	t.mu.Lock()
	if t.sealed {
		t.mu.Unlock()
		return
	}
	wasTyping := t.typing
	t.typing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if seal {
		t.sealed = true
		t.remote = make(map[string]model.TypingEntry)
	}
	stop := t.cfg.OnStop
	t.mu.Unlock()

	if wasTyping && stop != nil {
		stop()
	}
}
