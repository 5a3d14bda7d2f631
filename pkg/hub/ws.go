package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev gateway: allow all origins
	},
}

// client is the middleman between one websocket connection and the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID string
	email  string

	// rooms the connection has joined; guarded by hub.mu.
	rooms map[string]bool
}

func (c *client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		// Slow consumer: drop the connection rather than block the hub.
		c.conn.Close()
	}
}

// readPump consumes frames from the connection and applies them to the hub.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.hub.logger.Warn("dropping malformed frame", "user_id", c.userID, "error", err)
			continue
		}
		c.handle(env)
	}
}

func (c *client) handle(env model.Envelope) {
	switch env.Event {
	case model.EventJoinOrderRoom:
		var ref model.RoomRef
		if json.Unmarshal(env.Data, &ref) == nil && ref.OrderID != "" {
			c.hub.join(c, ref.OrderID)
		}
	case model.EventLeaveOrderRoom:
		var ref model.RoomRef
		if json.Unmarshal(env.Data, &ref) == nil && ref.OrderID != "" {
			c.hub.leave(c, ref.OrderID)
		}
	case model.EventTypingStart, model.EventTypingStop:
		var sig model.TypingSignal
		if json.Unmarshal(env.Data, &sig) != nil || sig.OrderID == "" {
			return
		}
		c.hub.dispatchRoom(sig.OrderID, model.EventUserTyping, model.UserTyping{
			OrderID:  sig.OrderID,
			UserID:   c.userID,
			Email:    c.email,
			IsTyping: env.Event == model.EventTypingStart,
		})
	case model.EventMarkRead:
		var ref model.RoomRef
		if json.Unmarshal(env.Data, &ref) == nil && ref.OrderID != "" {
			c.hub.markRead(c, ref.OrderID)
		}
	default:
		c.hub.logger.Warn("unknown event", "event", env.Event, "user_id", c.userID)
	}
}

// writePump pumps hub events to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS authenticates and upgrades a websocket request. The token travels
// in the Authorization header, with a query-param fallback for clients that
// cannot set headers.
func ServeWS(h *Hub, mgr *auth.Manager, w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := mgr.Validate(tokenString)
	if err != nil {
		h.logger.Warn("rejecting connection", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: claims.UserID,
		email:  claims.Email,
		rooms:  make(map[string]bool),
	}
	h.add(c)

	go c.writePump()
	go c.readPump()
}

func bearerToken(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}
	return tokenString
}
