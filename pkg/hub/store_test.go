package hub

import (
	"testing"
	"time"

	"github.com/freightdesk/permitchat/pkg/model"
)

func storeNotif(id, recipient string, status model.NotificationStatus) model.Notification {
	return model.Notification{
		ID:          id,
		RecipientID: recipient,
		Type:        model.NotifyNewMessage,
		Status:      status,
		Title:       "New message",
		CreatedAt:   time.Now(),
	}
}

func TestStoreHistoryAppendOrder(t *testing.T) {
	s := NewStore()
	s.AppendMessage(model.Message{ID: 1, OrderID: "ORD-1", Body: "a"})
	s.AppendMessage(model.Message{ID: 2, OrderID: "ORD-1", Body: "b"})
	s.AppendMessage(model.Message{ID: 3, OrderID: "ORD-2", Body: "other"})

	got := s.History("ORD-1")
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("history = %v", got)
	}
	if len(s.History("ORD-3")) != 0 {
		t.Fatal("unknown order must have empty history")
	}
}

func TestStoreUnreadCounters(t *testing.T) {
	s := NewStore()
	s.AddParticipant("ORD-1", Participant{UserID: "u1", Email: "u1@x.com"})
	s.AddParticipant("ORD-1", Participant{UserID: "u2", Email: "u2@x.com"})
	s.AddParticipant("ORD-1", Participant{UserID: "u3", Email: "u3@x.com"})

	s.IncrementUnread("ORD-1", "u1")
	s.IncrementUnread("ORD-1", "u1")

	if got := s.Unread("ORD-1", "u1"); got != 0 {
		t.Errorf("sender unread = %d, want 0", got)
	}
	if got := s.Unread("ORD-1", "u2"); got != 2 {
		t.Errorf("u2 unread = %d, want 2", got)
	}
	if got := s.Unread("ORD-1", "u3"); got != 2 {
		t.Errorf("u3 unread = %d, want 2", got)
	}

	s.ResetUnread("ORD-1", "u2")
	if got := s.Unread("ORD-1", "u2"); got != 0 {
		t.Errorf("u2 unread after reset = %d, want 0", got)
	}
	if got := s.Unread("ORD-1", "u3"); got != 2 {
		t.Errorf("u3 unread after u2 reset = %d, want 2", got)
	}
}

func TestStoreParticipantsDeduplicate(t *testing.T) {
	s := NewStore()
	s.AddParticipant("ORD-1", Participant{UserID: "u1", Email: "u1@x.com"})
	s.AddParticipant("ORD-1", Participant{UserID: "u1", Email: "u1@x.com"})
	if got := len(s.Participants("ORD-1")); got != 1 {
		t.Fatalf("participants = %d, want 1", got)
	}
}

func TestStoreNotificationsNewestFirst(t *testing.T) {
	s := NewStore()
	s.AddNotification(storeNotif("n1", "u1", model.StatusUnread))
	s.AddNotification(storeNotif("n2", "u1", model.StatusUnread))
	s.AddNotification(storeNotif("x1", "u2", model.StatusUnread))

	items, total := s.NotificationsFor("u1", false, 1, 20)
	if total != 2 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", total, len(items))
	}
	if items[0].ID != "n2" || items[1].ID != "n1" {
		t.Fatalf("order = [%s, %s], want newest first", items[0].ID, items[1].ID)
	}
}

func TestStoreNotificationsPaging(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
		s.AddNotification(storeNotif(id, "u1", model.StatusUnread))
	}

	page1, total := s.NotificationsFor("u1", false, 1, 2)
	if total != 5 || len(page1) != 2 || page1[0].ID != "n5" {
		t.Fatalf("page1 = %v (total %d)", page1, total)
	}
	page3, _ := s.NotificationsFor("u1", false, 3, 2)
	if len(page3) != 1 || page3[0].ID != "n1" {
		t.Fatalf("page3 = %v", page3)
	}
	empty, total := s.NotificationsFor("u1", false, 4, 2)
	if len(empty) != 0 || total != 5 {
		t.Fatalf("page past the end = %v (total %d)", empty, total)
	}
}

func TestStoreNotificationsUnreadFilterAndMarking(t *testing.T) {
	s := NewStore()
	s.AddNotification(storeNotif("n1", "u1", model.StatusUnread))
	s.AddNotification(storeNotif("n2", "u1", model.StatusRead))
	s.AddNotification(storeNotif("n3", "u1", model.StatusUnread))

	items, total := s.NotificationsFor("u1", true, 1, 20)
	if total != 2 || len(items) != 2 {
		t.Fatalf("unread total=%d len=%d, want 2/2", total, len(items))
	}

	s.MarkNotificationsRead("u1", []string{"n3"})
	if _, total = s.NotificationsFor("u1", true, 1, 20); total != 1 {
		t.Fatalf("unread after mark = %d, want 1", total)
	}

	s.MarkAllNotificationsRead("u1")
	if _, total = s.NotificationsFor("u1", true, 1, 20); total != 0 {
		t.Fatalf("unread after mark-all = %d, want 0", total)
	}
}

func TestStoreRemoveNotification(t *testing.T) {
	s := NewStore()
	s.AddNotification(storeNotif("n1", "u1", model.StatusUnread))

	if !s.RemoveNotification("u1", "n1") {
		t.Fatal("expected removal to report true")
	}
	if s.RemoveNotification("u1", "n1") {
		t.Fatal("second removal must report false")
	}
	if _, total := s.NotificationsFor("u1", false, 1, 20); total != 0 {
		t.Fatalf("total after remove = %d, want 0", total)
	}
}
