// Package transport defines the duplex message channel the session core
// drives: open/read/send/dispose plus a state and event stream (spec.md
// §1 "Transport factory and concrete transport", an out-of-scope
// collaborator whose interface — not its concrete cloud protocol — the
// core depends on).
//
// This mirrors the shape of the teacher's pkg/transport package (public,
// reusable transport types live outside internal/) but replaces its flat
// stub Message/AudioMessage/WSHandler types with the typed, path-based
// frame the protocol actually needs.
package transport

import (
	"context"

	"github.com/sttcore/session/internal/protocol"
)

// State is the transport-level connection state (§3 "ConnectionState").
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "None"
	}
}

// Event is a transport-level occurrence (connects, disconnects, errors)
// that ConnectionManager records into session telemetry (§4.1 step 5).
// The core does not re-publish these events on a stream of its own.
type Event struct {
	Name   string
	Detail map[string]any
}

// AuthInfo is the credential handed to a Factory after a successful
// auth.fetch/fetchOnExpiry (spec.md §1 "Authentication token acquisition").
type AuthInfo struct {
	Token string
}

// Connection is one physical duplex channel to the cloud speech service.
type Connection interface {
	// ID is the client-generated connection id this connection was created
	// with (echoed by the service via X-ConnectionId, §6).
	ID() string

	// Open performs the handshake and returns the resulting HTTP-style
	// status: 200 on success, 403 on auth rejection, any other value on a
	// different failure (§4.1 step 6).
	Open(ctx context.Context) (status int, err error)

	// Send transmits one frame. Callers do not serialize Sends: the
	// UpstreamPump, the downstream dispatcher's telemetry flush, the
	// Configurator and SessionController may send on the same Connection
	// concurrently, so implementations must be safe for concurrent Send.
	Send(ctx context.Context, f protocol.Frame) error

	// Read returns the next frame, or (nil, nil) to signal a transport-level
	// drain marker (§4.6 "Draining").
	Read(ctx context.Context) (*protocol.Frame, error)

	// State reports the current ConnectionState.
	State() State

	// Events returns a channel of transport-level events, closed on
	// Dispose.
	Events() <-chan Event

	// Dispose releases the connection's resources. Idempotent.
	Dispose() error
}

// Factory creates a new, not-yet-opened Connection.
type Factory interface {
	Create(ctx context.Context, cfg protocol.RecognizerConfig, auth AuthInfo, connectionID string) (Connection, error)
}
