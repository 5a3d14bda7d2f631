// Interactive terminal client for the order chat: connect, join an order's
// room, chat, watch typing indicators and notifications. Mainly a development
// tool for exercising a gateway end to end.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/chat"
	"github.com/freightdesk/permitchat/pkg/model"
)

type options struct {
	apiAddr string
	wsURL   string
	userID  string
	email   string
	orderID string
	token   string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:          "permitchat",
		Short:        "Terminal client for the order chat gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	root.Flags().StringVar(&opts.apiAddr, "api", "http://localhost:8080", "REST API base URL")
	root.Flags().StringVar(&opts.wsURL, "gateway", "ws://localhost:8080/ws", "gateway websocket URL")
	root.Flags().StringVar(&opts.userID, "user", "user1", "user id (dev login)")
	root.Flags().StringVar(&opts.email, "email", "", "email (dev login, defaults to <user>@dev.local)")
	root.Flags().StringVar(&opts.orderID, "order", "ORD-1", "order id to chat on")
	root.Flags().StringVar(&opts.token, "token", "", "bearer token (skips dev login)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, email string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID, "email": email})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// terminalAlerter prints notification toasts inline.
type terminalAlerter struct{}

func (terminalAlerter) Toast(n model.Notification) {
	line := fmt.Sprintf("\r[%s] %s: %s", n.Type, n.Title, n.Body)
	if n.ActionURL != "" {
		label := n.ActionLabel
		if label == "" {
			label = "open"
		}
		line += fmt.Sprintf(" (%s: %s)", label, n.ActionURL)
	}
	fmt.Println(line)
	fmt.Print("> ")
}

// terminalChime rings the terminal bell.
type terminalChime struct{}

func (terminalChime) Play() error {
	_, err := os.Stdout.WriteString("\a")
	return err
}

func run(ctx context.Context, opts *options) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	token := opts.token
	if token == "" {
		var err error
		token, err = login(opts.apiAddr, opts.userID, opts.email)
		if err != nil {
			return err
		}
	}

	identity, err := auth.IdentityFromToken(token)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	socket := chat.NewSocket(opts.wsURL, logger)
	defer socket.Disconnect()

	api := chat.NewClient(opts.apiAddr, token)

	center := chat.NewNotificationCenter(chat.NotificationCenterConfig{
		Transport: socket,
		API:       api,
		Alerter:   terminalAlerter{},
		Chime:     terminalChime{},
		Logger:    logger,
	})
	center.Open()
	defer center.Close()

	var lastShown int
	session := chat.NewSession(chat.SessionConfig{
		OrderID:   opts.orderID,
		Self:      identity,
		Transport: socket,
		API:       api,
		Logger:    logger,
		OnChange: func(snap chat.Snapshot) {
			for _, m := range snap.Messages[min(lastShown, len(snap.Messages)):] {
				fmt.Printf("\r%s: %s\n> ", m.SenderEmail, m.Body)
			}
			lastShown = len(snap.Messages)
			if label := chat.TypingLabel(snap.TypingUsers); label != "" {
				fmt.Printf("\r%s %s\n> ", label, chat.TypingDots(0))
			}
		},
	})

	offUpdates := socket.On(model.EventOrderUpdated, func(raw json.RawMessage) {
		var ev model.OrderUpdated
		if json.Unmarshal(raw, &ev) != nil || ev.OrderID != opts.orderID {
			return
		}
		fmt.Printf("\rorder %s is now %s\n> ", ev.OrderID, ev.Status)
	})
	defer offUpdates()

	if err := socket.Connect(ctx, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	session.Open(ctx)
	defer session.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Printf("connected as %s on %s %s\n> ", identity.Email, opts.orderID, chat.Badge(center.HasUnread()))
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
			case text == "/quit":
				return
			case text == "/typing":
				session.StartTyping()
			case text == "/read":
				if err := session.MarkRead(); err != nil {
					fmt.Printf("\rmark read: %v\n", err)
				}
			case text == "/notifications":
				for _, n := range center.Notifications() {
					marker := " "
					if n.Unread() {
						marker = "*"
					}
					fmt.Printf("\r%s %s %s\n", marker, n.Title, n.Body)
				}
				fmt.Printf("badge %s\n", chat.Badge(center.HasUnread()))
			case text == "/read-all":
				if err := center.MarkAllAsRead(ctx); err != nil {
					fmt.Printf("\rmark all read: %v\n", err)
				}
			case strings.HasPrefix(text, "/status "):
				status := strings.TrimSpace(strings.TrimPrefix(text, "/status "))
				if err := api.UpdateOrderStatus(ctx, opts.orderID, status); err != nil {
					fmt.Printf("\rstatus update: %v\n", err)
				}
			default:
				if err := session.SendMessage(ctx, text); err != nil {
					// Input stays available for a retry.
					fmt.Printf("\rsend failed: %v\n", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		fmt.Println("\rinterrupt")
	case <-ctx.Done():
	}

	// Leave the room (emitting a courtesy typing-stop if mid-compose) before
	// dropping the connection.
	session.Close()
	time.Sleep(100 * time.Millisecond)
	return nil
}
