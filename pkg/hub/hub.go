// Package hub is the reference chat gateway: a single-process peer for the
// pkg/chat client core, used for local development and end-to-end tests. The
// production backend is a separate system; this one keeps everything in
// memory and speaks the same wire protocol.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freightdesk/permitchat/pkg/model"
	"github.com/freightdesk/permitchat/pkg/snowflake"
)

// Hub routes live events between connected clients. Rooms are keyed by order
// id; a second map tracks every connection per user for session-wide pushes
// (notifications), mirroring the channel/user split of the gateway it grew
// out of.
type Hub struct {
	logger   *slog.Logger
	store    *Store
	presence Presence
	bridge   *Bridge
	node     *snowflake.Node

	mu          sync.RWMutex
	rooms       map[string]map[*client]bool
	userClients map[string]map[*client]bool
}

// Config assembles a Hub. Store and Presence default to in-memory
// implementations; Bridge is optional.
type Config struct {
	Store    *Store
	Presence Presence
	Bridge   *Bridge
	NodeID   int64
	Logger   *slog.Logger
}

func New(cfg Config) (*Hub, error) {
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Presence == nil {
		cfg.Presence = NewMemoryPresence()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		logger:      cfg.Logger,
		store:       cfg.Store,
		presence:    cfg.Presence,
		bridge:      cfg.Bridge,
		node:        node,
		rooms:       make(map[string]map[*client]bool),
		userClients: make(map[string]map[*client]bool),
	}
	if h.bridge != nil {
		h.bridge.start(h)
	}
	return h, nil
}

// Store exposes the hub's backing store to the REST layer.
func (h *Hub) Store() *Store { return h.store }

// Presence exposes the presence backend to the REST layer.
func (h *Hub) Presence() Presence { return h.presence }

// Close stops the bridge, if any.
func (h *Hub) Close() error {
	if h.bridge != nil {
		return h.bridge.Close()
	}
	return nil
}

// AcceptMessage assigns an id and timestamps to a sent message, records it,
// bumps recipients' unread counters, and fans out the new-message event plus
// a notification per recipient. Called by the REST send handler.
func (h *Hub) AcceptMessage(orderID string, sender Participant, body string, kind model.MessageKind) model.Message {
	if kind == "" {
		kind = model.KindText
	}
	now := time.Now()
	msg := model.Message{
		ID:          h.node.Generate(),
		OrderID:     orderID,
		SenderID:    sender.UserID,
		SenderEmail: sender.Email,
		Body:        body,
		Kind:        kind,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	h.store.AddParticipant(orderID, sender)
	h.store.AppendMessage(msg)
	h.store.IncrementUnread(orderID, sender.UserID)

	h.dispatchRoom(orderID, model.EventNewMessage, model.NewMessage{OrderID: orderID, Message: msg})

	for _, p := range h.store.Participants(orderID) {
		if p.UserID == sender.UserID {
			continue
		}
		h.Notify(model.Notification{
			ID:          uuid.NewString(),
			RecipientID: p.UserID,
			Type:        model.NotifyNewMessage,
			Status:      model.StatusUnread,
			Title:       "New message",
			Body:        sender.Email + " sent a message",
			Metadata:    map[string]string{"order_id": orderID},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return msg
}

// Notify records a notification and pushes it to every live connection of
// its recipient.
func (h *Hub) Notify(n model.Notification) {
	h.store.AddNotification(n)
	h.dispatchUser(n.RecipientID, model.EventNotification, n)
}

// UpdateOrderStatus fans an order-updated event out to the order's room and
// notifies every participant except the actor.
func (h *Hub) UpdateOrderStatus(orderID string, actor Participant, status string) {
	h.dispatchRoom(orderID, model.EventOrderUpdated, model.OrderUpdated{OrderID: orderID, Status: status})

	now := time.Now()
	for _, p := range h.store.Participants(orderID) {
		if p.UserID == actor.UserID {
			continue
		}
		h.Notify(model.Notification{
			ID:          uuid.NewString(),
			RecipientID: p.UserID,
			Type:        model.NotifyOrderUpdated,
			Status:      model.StatusUnread,
			Title:       "Order " + orderID + " is now " + status,
			Body:        actor.Email + " changed the order status",
			Metadata:    map[string]string{"order_id": orderID, "status": status},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if h.userClients[c.userID] == nil {
		h.userClients[c.userID] = make(map[*client]bool)
	}
	h.userClients[c.userID][c] = true
	h.mu.Unlock()
	h.logger.Info("client connected", "user_id", c.userID)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	var joined []string
	for orderID := range c.rooms {
		joined = append(joined, orderID)
		if room, ok := h.rooms[orderID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, orderID)
			}
		}
	}
	if conns, ok := h.userClients[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userClients, c.userID)
		}
	}
	h.mu.Unlock()

	for _, orderID := range joined {
		if err := h.presence.Leave(context.Background(), orderID, c.userID); err != nil {
			h.logger.Warn("presence leave failed", "user_id", c.userID, "error", err)
		}
	}
	h.logger.Info("client disconnected", "user_id", c.userID)
}

func (h *Hub) join(c *client, orderID string) {
	h.mu.Lock()
	if h.rooms[orderID] == nil {
		h.rooms[orderID] = make(map[*client]bool)
	}
	h.rooms[orderID][c] = true
	c.rooms[orderID] = true
	h.mu.Unlock()

	h.store.AddParticipant(orderID, Participant{UserID: c.userID, Email: c.email})
	if err := h.presence.Join(context.Background(), orderID, c.userID); err != nil {
		h.logger.Warn("presence join failed", "user_id", c.userID, "error", err)
	}
	h.logger.Info("joined order room", "user_id", c.userID, "order_id", orderID)
}

func (h *Hub) leave(c *client, orderID string) {
	h.mu.Lock()
	delete(c.rooms, orderID)
	if room, ok := h.rooms[orderID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	h.mu.Unlock()

	if err := h.presence.Leave(context.Background(), orderID, c.userID); err != nil {
		h.logger.Warn("presence leave failed", "user_id", c.userID, "error", err)
	}
	h.logger.Info("left order room", "user_id", c.userID, "order_id", orderID)
}

// markRead resets the reader's counter and echoes message-read to the room.
func (h *Hub) markRead(c *client, orderID string) {
	h.store.ResetUnread(orderID, c.userID)
	h.dispatchRoom(orderID, model.EventMessageRead, model.MessageRead{
		OrderID:   orderID,
		UserID:    c.userID,
		Timestamp: time.Now(),
	})
}

// dispatchRoom routes an event to a room, through the bridge when one is
// configured so every gateway instance fans it out.
func (h *Hub) dispatchRoom(orderID, event string, payload any) {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return
	}
	if h.bridge != nil {
		h.bridge.publish(bridgeFrame{Room: orderID, Envelope: env})
		return
	}
	h.fanoutRoom(orderID, env)
}

func (h *Hub) dispatchUser(userID, event string, payload any) {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return
	}
	if h.bridge != nil {
		h.bridge.publish(bridgeFrame{User: userID, Envelope: env})
		return
	}
	h.fanoutUser(userID, env)
}

func (h *Hub) fanoutRoom(orderID string, env model.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[orderID] {
		c.enqueue(raw)
	}
}

func (h *Hub) fanoutUser(userID string, env model.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.userClients[userID] {
		c.enqueue(raw)
	}
}
