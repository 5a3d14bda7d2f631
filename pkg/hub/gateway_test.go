package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/chat"
	"github.com/freightdesk/permitchat/pkg/model"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	h, err := New(Config{NodeID: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	mgr := auth.NewManager("test-secret", time.Hour)
	ts := httptest.NewServer(NewServer(h, mgr, nil).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func login(t *testing.T, ts *httptest.Server, userID, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID, "email": email})
	resp, err := http.Post(ts.URL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatal("empty token")
	}
	return out.Token
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// connectAndJoin brings up a socket for the user and joins the order room,
// waiting until the gateway lists the user as present.
func connectAndJoin(t *testing.T, ts *httptest.Server, token, userID, orderID string) *chat.Socket {
	t.Helper()
	s := chat.NewSocket(wsURL(ts), nil)
	if err := s.Connect(context.Background(), token); err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	t.Cleanup(s.Disconnect)
	if err := s.Emit(model.EventJoinOrderRoom, model.RoomRef{OrderID: orderID}); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}

	api := chat.NewClient(ts.URL, token)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(presence(t, api, orderID), userID) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never appeared in presence for %s", userID, orderID)
	return nil
}

func presence(t *testing.T, api *chat.Client, orderID string) []string {
	t.Helper()
	members, err := api.Presence(context.Background(), orderID)
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	return members
}

func TestGatewayMessageRoundTrip(t *testing.T) {
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	s2 := connectAndJoin(t, ts, tok2, "u2", "ORD-1")
	s1 := connectAndJoin(t, ts, tok1, "u1", "ORD-1")

	msgs := make(chan model.NewMessage, 4)
	s2.On(model.EventNewMessage, func(raw json.RawMessage) {
		var ev model.NewMessage
		if json.Unmarshal(raw, &ev) == nil {
			msgs <- ev
		}
	})
	notifs := make(chan model.Notification, 4)
	s2.On(model.EventNotification, func(raw json.RawMessage) {
		var n model.Notification
		if json.Unmarshal(raw, &n) == nil {
			notifs <- n
		}
	})
	reads := make(chan model.MessageRead, 4)
	s1.On(model.EventMessageRead, func(raw json.RawMessage) {
		var ev model.MessageRead
		if json.Unmarshal(raw, &ev) == nil {
			reads <- ev
		}
	})

	api1 := chat.NewClient(ts.URL, tok1)
	api2 := chat.NewClient(ts.URL, tok2)

	sent, err := api1.SendMessage(context.Background(), "ORD-1", "permit approved")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ID == 0 || sent.SenderID != "u1" {
		t.Fatalf("bad echo: %+v", sent)
	}

	select {
	case ev := <-msgs:
		if ev.OrderID != "ORD-1" || ev.Message.ID != sent.ID || ev.Message.Body != "permit approved" {
			t.Fatalf("bad new-message: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u2 never received new-message")
	}
	select {
	case n := <-notifs:
		if n.RecipientID != "u2" || n.Type != model.NotifyNewMessage {
			t.Fatalf("bad notification: %+v", n)
		}
		if n.Metadata["order_id"] != "ORD-1" {
			t.Fatalf("notification metadata = %v", n.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u2 never received notification")
	}

	if count, err := api2.UnreadCount(context.Background(), "ORD-1"); err != nil || count != 1 {
		t.Fatalf("u2 unread = %d (err %v), want 1", count, err)
	}
	if count, err := api1.UnreadCount(context.Background(), "ORD-1"); err != nil || count != 0 {
		t.Fatalf("u1 unread = %d (err %v), want 0", count, err)
	}

	history, err := api2.History(context.Background(), "ORD-1")
	if err != nil || len(history) != 1 || history[0].ID != sent.ID {
		t.Fatalf("history = %v (err %v)", history, err)
	}

	// u2 marks the channel read: counter resets and the room gets the echo.
	if err := s2.Emit(model.EventMarkRead, model.RoomRef{OrderID: "ORD-1"}); err != nil {
		t.Fatalf("mark-read: %v", err)
	}
	select {
	case ev := <-reads:
		if ev.OrderID != "ORD-1" || ev.UserID != "u2" {
			t.Fatalf("bad message-read: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u1 never received message-read")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := api2.UnreadCount(context.Background(), "ORD-1")
		if err == nil && count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("u2 unread never reset (last %d, err %v)", count, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewayTypingRelay(t *testing.T) {
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	s2 := connectAndJoin(t, ts, tok2, "u2", "ORD-1")
	s1 := connectAndJoin(t, ts, tok1, "u1", "ORD-1")

	typing := make(chan model.UserTyping, 4)
	s2.On(model.EventUserTyping, func(raw json.RawMessage) {
		var ev model.UserTyping
		if json.Unmarshal(raw, &ev) == nil {
			typing <- ev
		}
	})

	sig := model.TypingSignal{OrderID: "ORD-1", UserID: "u1", Email: "u1@x.com"}
	if err := s1.Emit(model.EventTypingStart, sig); err != nil {
		t.Fatalf("typing-start: %v", err)
	}
	select {
	case ev := <-typing:
		if !ev.IsTyping || ev.Email != "u1@x.com" || ev.OrderID != "ORD-1" {
			t.Fatalf("bad user-typing: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing-start never relayed")
	}

	if err := s1.Emit(model.EventTypingStop, sig); err != nil {
		t.Fatalf("typing-stop: %v", err)
	}
	select {
	case ev := <-typing:
		if ev.IsTyping {
			t.Fatalf("expected stop, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing-stop never relayed")
	}
}

func TestGatewayRoomIsolation(t *testing.T) {
	// Messages for one order must not reach sockets joined to another.
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	s2 := connectAndJoin(t, ts, tok2, "u2", "ORD-B")
	connectAndJoin(t, ts, tok1, "u1", "ORD-A")

	leaked := make(chan model.NewMessage, 1)
	s2.On(model.EventNewMessage, func(raw json.RawMessage) {
		var ev model.NewMessage
		if json.Unmarshal(raw, &ev) == nil {
			leaked <- ev
		}
	})

	api1 := chat.NewClient(ts.URL, tok1)
	if _, err := api1.SendMessage(context.Background(), "ORD-A", "hello A"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case ev := <-leaked:
		t.Fatalf("ORD-A message leaked into ORD-B socket: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestGatewayPresenceFollowsLifecycle(t *testing.T) {
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	connectAndJoin(t, ts, tok1, "u1", "ORD-1")
	s2 := connectAndJoin(t, ts, tok2, "u2", "ORD-1")

	api := chat.NewClient(ts.URL, tok1)
	members := presence(t, api, "ORD-1")
	if !slices.Contains(members, "u1") || !slices.Contains(members, "u2") {
		t.Fatalf("members = %v, want both users", members)
	}

	// A dropped connection leaves all its rooms.
	s2.Disconnect()
	deadline := time.Now().Add(2 * time.Second)
	for {
		members = presence(t, api, "ORD-1")
		if !slices.Contains(members, "u2") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("u2 still present after disconnect: %v", members)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewayOrderStatusBroadcast(t *testing.T) {
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	s2 := connectAndJoin(t, ts, tok2, "u2", "ORD-1")
	connectAndJoin(t, ts, tok1, "u1", "ORD-1")

	updates := make(chan model.OrderUpdated, 2)
	s2.On(model.EventOrderUpdated, func(raw json.RawMessage) {
		var ev model.OrderUpdated
		if json.Unmarshal(raw, &ev) == nil {
			updates <- ev
		}
	})
	notifs := make(chan model.Notification, 2)
	s2.On(model.EventNotification, func(raw json.RawMessage) {
		var n model.Notification
		if json.Unmarshal(raw, &n) == nil {
			notifs <- n
		}
	})

	api1 := chat.NewClient(ts.URL, tok1)
	if err := api1.UpdateOrderStatus(context.Background(), "ORD-1", "approved"); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	select {
	case ev := <-updates:
		if ev.OrderID != "ORD-1" || ev.Status != "approved" {
			t.Fatalf("bad order-updated: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("order-updated never relayed")
	}
	select {
	case n := <-notifs:
		if n.Type != model.NotifyOrderUpdated || n.Metadata["status"] != "approved" {
			t.Fatalf("bad notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status notification never delivered")
	}
}

func TestGatewayRejectsUnauthenticated(t *testing.T) {
	ts := newGateway(t)

	s := chat.NewSocket(wsURL(ts), nil)
	if err := s.Connect(context.Background(), "not-a-token"); err == nil {
		t.Fatal("expected handshake rejection for a bad token")
	}

	resp, err := http.Get(ts.URL + "/notifications")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGatewayNotificationEndpoints(t *testing.T) {
	ts := newGateway(t)
	tok1 := login(t, ts, "u1", "u1@x.com")
	tok2 := login(t, ts, "u2", "u2@x.com")

	connectAndJoin(t, ts, tok2, "u2", "ORD-1")

	// Two messages from u1 produce two notifications for u2.
	api1 := chat.NewClient(ts.URL, tok1)
	for _, body := range []string{"first", "second"} {
		if _, err := api1.SendMessage(context.Background(), "ORD-1", body); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	api2 := chat.NewClient(ts.URL, tok2)
	page, err := api2.Notifications(context.Background(), chat.NotificationQuery{Page: 1, PerPage: 20, UnreadOnly: true})
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", page.Total, len(page.Items))
	}

	if err := api2.MarkNotificationsRead(context.Background(), []string{page.Items[0].ID}); err != nil {
		t.Fatalf("MarkNotificationsRead: %v", err)
	}
	page, err = api2.Notifications(context.Background(), chat.NotificationQuery{UnreadOnly: true})
	if err != nil || page.Total != 1 {
		t.Fatalf("unread total after mark = %d (err %v), want 1", page.Total, err)
	}

	if err := api2.MarkAllNotificationsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllNotificationsRead: %v", err)
	}
	page, err = api2.Notifications(context.Background(), chat.NotificationQuery{UnreadOnly: true})
	if err != nil || page.Total != 0 {
		t.Fatalf("unread total after mark-all = %d (err %v), want 0", page.Total, err)
	}

	page, err = api2.Notifications(context.Background(), chat.NotificationQuery{})
	if err != nil || len(page.Items) != 2 {
		t.Fatalf("all notifications = %d (err %v), want 2", len(page.Items), err)
	}
	if err := api2.RemoveNotification(context.Background(), page.Items[0].ID); err != nil {
		t.Fatalf("RemoveNotification: %v", err)
	}
	page, err = api2.Notifications(context.Background(), chat.NotificationQuery{})
	if err != nil || page.Total != 1 {
		t.Fatalf("total after remove = %d (err %v), want 1", page.Total, err)
	}
}
