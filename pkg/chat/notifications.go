package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/freightdesk/permitchat/pkg/model"
)

// Alerter surfaces a transient user-facing alert (toast) for a freshly
// arrived notification, including its action affordance when present.
type Alerter interface {
	Toast(n model.Notification)
}

// Chime plays the audible notification cue. Playback is best-effort; a
// failure is logged and swallowed, never surfaced.
type Chime interface {
	Play() error
}

// NotificationCenterConfig configures the session-wide notification fan-in.
type NotificationCenterConfig struct {
	Transport Transport
	API       *Client
	Alerter   Alerter
	Chime     Chime

	// OnChange fires after every list/flag mutation.
	OnChange func()

	Logger *slog.Logger
}

// NotificationCenter maintains the session-wide notification list, newest
// first, independent of any order channel.
type NotificationCenter struct {
	cfg    NotificationCenterConfig
	logger *slog.Logger

	mu     sync.Mutex
	items  []model.Notification
	unsub  func()
	closed bool
}

func NewNotificationCenter(cfg NotificationCenterConfig) *NotificationCenter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NotificationCenter{cfg: cfg, logger: cfg.Logger}
}

// Open subscribes to the session-wide notification stream. Events start
// flowing the moment the session connection is up.
func (nc *NotificationCenter) Open() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.closed || nc.unsub != nil {
		return
	}
	nc.unsub = nc.cfg.Transport.On(model.EventNotification, nc.onNotification)
}

// Close unsubscribes from the stream. The accumulated list stays readable.
func (nc *NotificationCenter) Close() {
	nc.mu.Lock()
	unsub := nc.unsub
	nc.unsub = nil
	nc.closed = true
	nc.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Notifications returns the list, newest first.
func (nc *NotificationCenter) Notifications() []model.Notification {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return slices.Clone(nc.items)
}

// HasUnread reports whether any entry still has status unread.
func (nc *NotificationCenter) HasUnread() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return hasUnread(nc.items)
}

// Refresh bulk-fetches notifications. The first page replaces the local
// list; later pages append.
func (nc *NotificationCenter) Refresh(ctx context.Context, q NotificationQuery) (NotificationPage, error) {
	page, err := nc.cfg.API.Notifications(ctx, q)
	if err != nil {
		return NotificationPage{}, err
	}

	nc.mu.Lock()
	if q.Page <= 1 {
		nc.items = slices.Clone(page.Items)
	} else {
		nc.items = append(nc.items, page.Items...)
	}
	nc.mu.Unlock()
	nc.notify()
	return page, nil
}

// MarkAsRead flips the given notifications to read, optimistically: local
// state updates immediately, the REST confirmation runs underneath. A REST
// failure is returned for the caller to surface but the optimistic update is
// not rolled back.
func (nc *NotificationCenter) MarkAsRead(ctx context.Context, ids []string) error {
	nc.mu.Lock()
	for i := range nc.items {
		if slices.Contains(ids, nc.items[i].ID) && nc.items[i].Status == model.StatusUnread {
			nc.items[i].Status = model.StatusRead
			nc.items[i].UpdatedAt = time.Now()
		}
	}
	nc.mu.Unlock()
	nc.notify()

	if err := nc.cfg.API.MarkNotificationsRead(ctx, ids); err != nil {
		nc.logger.Warn("mark-read confirmation failed", "error", err)
		return err
	}
	return nil
}

// MarkAllAsRead flips every notification to read, with the same optimistic
// semantics as MarkAsRead.
func (nc *NotificationCenter) MarkAllAsRead(ctx context.Context) error {
	nc.mu.Lock()
	for i := range nc.items {
		if nc.items[i].Status == model.StatusUnread {
			nc.items[i].Status = model.StatusRead
			nc.items[i].UpdatedAt = time.Now()
		}
	}
	nc.mu.Unlock()
	nc.notify()

	if err := nc.cfg.API.MarkAllNotificationsRead(ctx); err != nil {
		nc.logger.Warn("mark-all-read confirmation failed", "error", err)
		return err
	}
	return nil
}

// Remove forwards an explicit removal to the backend and drops the entry
// locally once the backend confirms.
func (nc *NotificationCenter) Remove(ctx context.Context, id string) error {
	if err := nc.cfg.API.RemoveNotification(ctx, id); err != nil {
		return err
	}
	nc.mu.Lock()
	nc.items = slices.DeleteFunc(nc.items, func(n model.Notification) bool { return n.ID == id })
	nc.mu.Unlock()
	nc.notify()
	return nil
}

func (nc *NotificationCenter) onNotification(raw json.RawMessage) {
	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		nc.logger.Warn("dropping malformed notification", "error", err)
		return
	}

	nc.mu.Lock()
	nc.items = append([]model.Notification{n}, nc.items...)
	nc.mu.Unlock()
	nc.notify()

	if nc.cfg.Alerter != nil {
		nc.cfg.Alerter.Toast(n)
	}
	if nc.cfg.Chime != nil {
		if err := nc.cfg.Chime.Play(); err != nil {
			nc.logger.Debug("chime playback failed", "error", err)
		}
	}
}

func (nc *NotificationCenter) notify() {
	if nc.cfg.OnChange != nil {
		nc.cfg.OnChange()
	}
}

func hasUnread(items []model.Notification) bool {
	for _, n := range items {
		if n.Unread() {
			return true
		}
	}
	return false
}
