// Package chat implements the real-time order chat core: the session
// connection, per-order room state (history, typing presence, read tracking)
// and the session-wide notification fan-in.
package chat

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected is returned when an emit is attempted while the session
	// connection is down. Nothing is buffered; the event is simply lost.
	ErrNotConnected = errors.New("chat: transport not connected")

	// ErrEmptyMessage is returned by SendMessage for empty or whitespace-only
	// bodies, before any network call is made.
	ErrEmptyMessage = errors.New("chat: message body is empty")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("chat: session closed")
)

// ConnState is the session connection's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handler receives the raw payload of a dispatched event.
type Handler func(data json.RawMessage)

// Transport is the injected session-connection capability. There is exactly
// one per authenticated identity; all order rooms multiplex over it. Tests
// substitute a fake.
type Transport interface {
	// Connect establishes the connection, authenticating with the supplied
	// bearer token during the handshake. Idempotent: a no-op while a connect
	// is in flight or established. There is no automatic retry on failure.
	Connect(ctx context.Context, token string) error

	// Disconnect tears down the connection and clears all registered
	// handlers. Safe to call when already disconnected.
	Disconnect()

	// Connected reports whether the connection is established.
	Connected() bool

	// State returns the current lifecycle state.
	State() ConnState

	// On registers a handler for an event and returns its unsubscribe func.
	On(event string, h Handler) (off func())

	// Off removes every handler registered for an event.
	Off(event string)

	// Emit sends an event over the connection. Returns ErrNotConnected while
	// the connection is down.
	Emit(event string, payload any) error
}
