package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/model"
)

// Server is the dev gateway's HTTP surface: the REST chat/notification API
// and the websocket endpoint.
type Server struct {
	hub    *Hub
	auth   *auth.Manager
	logger *slog.Logger
}

func NewServer(h *Hub, mgr *auth.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: h, auth: mgr, logger: logger}
}

// Routes builds the gateway's mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(s.hub, s.auth, w, r)
	})

	mux.Handle("GET /chat/orders/{orderID}/messages", s.requireAuth(s.handleHistory))
	mux.Handle("POST /chat/messages", s.requireAuth(s.handleSend))
	mux.Handle("GET /chat/orders/{orderID}/unread-count", s.requireAuth(s.handleUnreadCount))
	mux.Handle("GET /orders/{orderID}/presence", s.requireAuth(s.handlePresence))
	mux.Handle("POST /orders/{orderID}/status", s.requireAuth(s.handleOrderStatus))

	mux.Handle("GET /notifications", s.requireAuth(s.handleNotifications))
	mux.Handle("PATCH /notifications/mark-read", s.requireAuth(s.handleMarkRead))
	mux.Handle("PATCH /notifications/mark-all-read", s.requireAuth(s.handleMarkAllRead))
	mux.Handle("DELETE /notifications/{id}", s.requireAuth(s.handleRemoveNotification))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := s.auth.Validate(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	return claims, ok
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin issues dev tokens. The production system has a real identity
// provider; this exists so the client core has something to handshake with.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		req.Email = req.UserID + "@dev.local"
	}

	token, err := s.auth.Generate(req.UserID, req.Email)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, loginResponse{Token: token})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	messages := s.hub.Store().History(orderID)
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, messages)
}

type sendRequest struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.Message == "" {
		http.Error(w, "order_id and message are required", http.StatusBadRequest)
		return
	}

	sender := Participant{UserID: claims.UserID, Email: claims.Email}
	msg := s.hub.AcceptMessage(req.OrderID, sender, req.Message, model.KindText)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	orderID := r.PathValue("orderID")
	writeJSON(w, map[string]int{"count": s.hub.Store().Unread(orderID, claims.UserID)})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	members, err := s.hub.Presence().Members(r.Context(), orderID)
	if err != nil {
		s.logger.Warn("presence fetch failed", "order_id", orderID, "error", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, members)
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// handleOrderStatus changes an order's status: the room gets an order-updated
// event and every participant but the actor gets a notification. In production
// the permitting service drives this; here it exists so status flows can be
// exercised end to end.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	orderID := r.PathValue("orderID")
	s.hub.UpdateOrderStatus(orderID, Participant{UserID: claims.UserID, Email: claims.Email}, req.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	unreadOnly := q.Get("unread_only") == "true"
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	items, total := s.hub.Store().NotificationsFor(claims.UserID, unreadOnly, page, perPage)
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, map[string]any{
		"items":    items,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

type markReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.hub.Store().MarkNotificationsRead(claims.UserID, req.NotificationIDs)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.hub.Store().MarkAllNotificationsRead(claims.UserID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.hub.Store().RemoveNotification(claims.UserID, r.PathValue("id")) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
