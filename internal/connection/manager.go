// Package connection implements ConnectionManager (C4): the single-flight
// owner of the physical Connection, including auth fetch, one-shot 403
// re-auth, and transparent redial after a disconnect (spec.md §4.1).
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff"

	"github.com/sttcore/session/internal/auth"
	"github.com/sttcore/session/internal/ids"
	"github.com/sttcore/session/internal/logging"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

// Manager owns the single-flight connect() future (§5 "Single-flight").
// Repeated Connect calls return the same in-flight or completed result
// unless the stored connection has failed or gone Disconnected, in which
// case a fresh attempt begins.
type Manager struct {
	factory transport.Factory
	authn   auth.Authenticator
	cfg     protocol.RecognizerConfig
	log     logging.Logger

	mu      sync.Mutex
	pending *connectResult
}

type connectResult struct {
	once sync.Once
	conn transport.Connection
	err  error
	done chan struct{}
}

// NewManager builds a ConnectionManager for one RequestSession's lifetime.
func NewManager(factory transport.Factory, authn auth.Authenticator, cfg protocol.RecognizerConfig, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop{}
	}
	return &Manager{factory: factory, authn: authn, cfg: cfg, log: log}
}

// Connect resolves to the single shared, open Connection, dialing or
// redialing as necessary (§4.1).
func (m *Manager) Connect(ctx context.Context, sess *session.RequestSession) (transport.Connection, error) {
	m.mu.Lock()
	if m.pending != nil {
		existing := m.pending
		m.mu.Unlock()
		<-existing.done
		if existing.err == nil && existing.conn.State() == transport.StateDisconnected {
			m.mu.Lock()
			if m.pending == existing {
				m.pending = nil
			}
			m.mu.Unlock()
		} else {
			return existing.conn, existing.err
		}
		m.mu.Lock()
	}

	result := &connectResult{done: make(chan struct{})}
	m.pending = result
	m.mu.Unlock()

	conn, err := m.dial(ctx, sess, false)
	result.conn, result.err = conn, err
	close(result.done)

	if err != nil {
		m.mu.Lock()
		if m.pending == result {
			m.pending = nil
		}
		m.mu.Unlock()
	}
	return conn, err
}

// Reset clears any cached connection, forcing the next Connect to redial.
// SessionController calls this when starting a fresh recognize().
func (m *Manager) Reset() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

// dial performs one end-to-end connect attempt: mint ids, fetch auth,
// create the transport connection, subscribe telemetry, and open it. A
// 403 on a first attempt triggers exactly one fetchOnExpiry + redial
// (§4.1 step 6, property 7).
func (m *Manager) dial(ctx context.Context, sess *session.RequestSession, isRetry bool) (transport.Connection, error) {
	authFetchEventID := ids.New()
	connectionID := ids.New()
	sess.OnPreConnectionStart(authFetchEventID, connectionID)

	var authInfo transport.AuthInfo
	var err error
	if isRetry {
		authInfo, err = m.authn.FetchOnExpiry(ctx, connectionID)
	} else {
		authInfo, err = m.authn.Fetch(ctx, connectionID)
	}
	if err != nil {
		sess.OnAuthCompleted(true, err)
		return nil, fmt.Errorf("connection: auth fetch failed: %w", err)
	}
	sess.OnAuthCompleted(false, nil)

	conn, err := m.factory.Create(ctx, m.cfg, authInfo, connectionID)
	if err != nil {
		return nil, fmt.Errorf("connection: creating connection: %w", err)
	}

	go m.forwardEvents(conn, sess)

	status, err := conn.Open(ctx)
	sess.OnConnectionEstablishCompleted(status, errString(err))

	switch {
	case status == 200 && err == nil:
		return conn, nil
	case status == 403 && !isRetry:
		m.log.Warnf("connection: auth rejected (403), retrying once with fetchOnExpiry")
		conn.Dispose()
		return m.retryAfterExpiry(ctx, sess)
	default:
		conn.Dispose()
		return nil, fmt.Errorf("connection: open to %s failed with status %d: %w", m.cfg.Endpoint, status, err)
	}
}

// retryAfterExpiry performs the single permitted 403 re-auth attempt.
// backoff.Retry runs the re-auth dial once; the StopBackOff policy stops
// it from running again if that dial fails (§9 Non-goals: no built-in
// retry backoff schedule beyond this one path).
func (m *Manager) retryAfterExpiry(ctx context.Context, sess *session.RequestSession) (transport.Connection, error) {
	var conn transport.Connection
	policy := &backoff.StopBackOff{}
	err := backoff.Retry(func() error {
		c, dialErr := m.dial(ctx, sess, true)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *Manager) forwardEvents(conn transport.Connection, sess *session.RequestSession) {
	for ev := range conn.Events() {
		sess.ListenForServiceTelemetry(ev.Name, ev.Detail)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
