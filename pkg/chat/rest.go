package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/freightdesk/permitchat/pkg/model"
)

// Client is the REST client for the chat and notification endpoints. The live
// stream and the REST surface are independent: a send can succeed server-side
// even while the session connection is down.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a REST client rooted at baseURL, authenticating every
// request with the given bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// History fetches the full ordered message history for an order. No
// pagination cursor: the backend returns the whole history in one call.
func (c *Client) History(ctx context.Context, orderID string) ([]model.Message, error) {
	var messages []model.Message
	path := "/chat/orders/" + url.PathEscape(orderID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return messages, nil
}

type sendMessageRequest struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// SendMessage posts a new message and returns the server's echo of it.
func (c *Client) SendMessage(ctx context.Context, orderID, body string) (model.Message, error) {
	var created model.Message
	req := sendMessageRequest{OrderID: orderID, Message: body}
	if err := c.do(ctx, http.MethodPost, "/chat/messages", req, &created); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	return created, nil
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount fetches the unread counter for a freshly joined order.
func (c *Client) UnreadCount(ctx context.Context, orderID string) (int, error) {
	var resp unreadCountResponse
	path := "/chat/orders/" + url.PathEscape(orderID) + "/unread-count"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}
	return resp.Count, nil
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus pushes a status change for an order. The room receives an
// order-updated event; participants are notified.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	path := "/orders/" + url.PathEscape(orderID) + "/status"
	if err := c.do(ctx, http.MethodPost, path, orderStatusRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// Presence lists the user ids currently joined to an order's room.
func (c *Client) Presence(ctx context.Context, orderID string) ([]string, error) {
	var members []string
	path := "/orders/" + url.PathEscape(orderID) + "/presence"
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	return members, nil
}

// NotificationQuery filters the bulk notification fetch.
type NotificationQuery struct {
	Page       int
	PerPage    int
	UnreadOnly bool
}

// NotificationPage is one page of notifications plus pagination metadata.
type NotificationPage struct {
	Items   []model.Notification `json:"items"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
	Total   int                  `json:"total"`
}

// Notifications fetches notifications in bulk.
func (c *Client) Notifications(ctx context.Context, q NotificationQuery) (NotificationPage, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.UnreadOnly {
		v.Set("unread_only", "true")
	}
	path := "/notifications"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page NotificationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return NotificationPage{}, fmt.Errorf("fetch notifications: %w", err)
	}
	return page, nil
}

type markReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

// MarkNotificationsRead flips the given notifications to read on the backend.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) error {
	if err := c.do(ctx, http.MethodPatch, "/notifications/mark-read", markReadRequest{NotificationIDs: ids}, nil); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead flips every notification to read on the backend.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPatch, "/notifications/mark-all-read", nil, nil); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// RemoveNotification forwards an explicit removal request to the backend.
func (c *Client) RemoveNotification(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("remove notification: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(detail))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
