package hub

import (
	"sync"
	"time"

	"github.com/freightdesk/permitchat/pkg/model"
)

// Participant is a user known to an order's channel.
type Participant struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Store holds the dev gateway's chat state in memory: message history,
// per-user unread counters and notification lists. The production backend
// owns durable storage; the dev gateway deliberately does not.
type Store struct {
	mu            sync.Mutex
	messages      map[string][]model.Message
	unread        map[string]map[string]int
	participants  map[string]map[string]Participant
	notifications map[string][]model.Notification
}

func NewStore() *Store {
	return &Store{
		messages:      make(map[string][]model.Message),
		unread:        make(map[string]map[string]int),
		participants:  make(map[string]map[string]Participant),
		notifications: make(map[string][]model.Notification),
	}
}

// AppendMessage records a message at the tail of its order's history.
func (s *Store) AppendMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.OrderID] = append(s.messages[m.OrderID], m)
}

// History returns the order's messages in append order.
func (s *Store) History(orderID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[orderID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// AddParticipant records a user as belonging to an order's channel.
func (s *Store) AddParticipant(orderID string, p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[orderID] == nil {
		s.participants[orderID] = make(map[string]Participant)
	}
	s.participants[orderID][p.UserID] = p
}

// Participants lists the users known to an order's channel.
func (s *Store) Participants(orderID string) []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants[orderID]))
	for _, p := range s.participants[orderID] {
		out = append(out, p)
	}
	return out
}

// IncrementUnread bumps the unread counter of every participant except the
// sender.
func (s *Store) IncrementUnread(orderID, senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unread[orderID] == nil {
		s.unread[orderID] = make(map[string]int)
	}
	for userID := range s.participants[orderID] {
		if userID == senderID {
			continue
		}
		s.unread[orderID][userID]++
	}
}

// Unread returns a user's unread counter for an order.
func (s *Store) Unread(orderID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[orderID][userID]
}

// ResetUnread zeroes a user's unread counter for an order.
func (s *Store) ResetUnread(orderID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counters, ok := s.unread[orderID]; ok {
		delete(counters, userID)
	}
}

// AddNotification records a notification for its recipient, newest first.
func (s *Store) AddNotification(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.RecipientID] = append([]model.Notification{n}, s.notifications[n.RecipientID]...)
}

// NotificationsFor pages through a user's notifications. page is 1-based.
func (s *Store) NotificationsFor(userID string, unreadOnly bool, page, perPage int) ([]model.Notification, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.Notification
	for _, n := range s.notifications[userID] {
		if unreadOnly && !n.Unread() {
			continue
		}
		all = append(all, n)
	}

	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total
	}
	end := min(start+perPage, total)
	out := make([]model.Notification, end-start)
	copy(out, all[start:end])
	return out, total
}

// MarkNotificationsRead flips the given notifications of a user to read.
func (s *Store) MarkNotificationsRead(userID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idset := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idset[id] = struct{}{}
	}
	for i, n := range s.notifications[userID] {
		if _, ok := idset[n.ID]; ok && n.Status == model.StatusUnread {
			s.notifications[userID][i].Status = model.StatusRead
			s.notifications[userID][i].UpdatedAt = time.Now()
		}
	}
}

// MarkAllNotificationsRead flips every unread notification of a user to read.
func (s *Store) MarkAllNotificationsRead(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications[userID] {
		if n.Status == model.StatusUnread {
			s.notifications[userID][i].Status = model.StatusRead
			s.notifications[userID][i].UpdatedAt = time.Now()
		}
	}
}

// RemoveNotification deletes one notification of a user. Returns whether it
// existed.
func (s *Store) RemoveNotification(userID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notifications[userID]
	for i, n := range list {
		if n.ID == id {
			s.notifications[userID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}
