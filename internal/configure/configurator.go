// Package configure implements the Configurator (C5): the single-flight
// owner of a configured connection, guaranteeing speech.config always
// precedes speech.context (spec.md §4.2).
package configure

import (
	"context"
	"fmt"
	"sync"

	"github.com/sttcore/session/internal/connection"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

// Configurator resolves to a Connection on which speech.config and
// speech.context have both been sent. Idempotent with the same
// reset-on-disconnect/error rule as ConnectionManager (§5 "Single-flight").
type Configurator struct {
	conns *connection.Manager
	cfg   protocol.RecognizerConfig

	mu      sync.Mutex
	pending *configureResult

	// sentConfig tracks which connection ids have already received
	// speech.config, enforcing "at most once per connection" (§3
	// invariants, property 3) even across multiple turns on one connection.
	sentConfig map[string]bool
}

type configureResult struct {
	conn transport.Connection
	err  error
	done chan struct{}
}

// NewConfigurator builds a Configurator backed by the given ConnectionManager.
func NewConfigurator(conns *connection.Manager, cfg protocol.RecognizerConfig) *Configurator {
	return &Configurator{conns: conns, cfg: cfg, sentConfig: make(map[string]bool)}
}

// Reset clears the cached configured-connection future. SessionController
// calls this on a fresh recognize() to force a re-send of config+context.
func (c *Configurator) Reset() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Configure obtains a connection, sends speech.config (once per physical
// connection) then speech.context, and resolves with the connection. The
// result is cached: later calls return the cached connection without
// sending anything, until Reset is called, the cached attempt failed, or
// its connection is Disconnected.
func (c *Configurator) Configure(ctx context.Context, sess *session.RequestSession, builder *protocol.DynamicGrammarBuilder, device protocol.AudioDeviceInfo) (transport.Connection, error) {
	c.mu.Lock()
	if c.pending != nil {
		existing := c.pending
		c.mu.Unlock()
		<-existing.done
		if existing.err == nil && existing.conn.State() == transport.StateDisconnected {
			c.mu.Lock()
			if c.pending == existing {
				c.pending = nil
			}
			c.mu.Unlock()
		} else {
			return existing.conn, existing.err
		}
		c.mu.Lock()
	}

	result := &configureResult{done: make(chan struct{})}
	c.pending = result
	c.mu.Unlock()

	conn, err := c.doConfigure(ctx, sess, builder, device)
	result.conn, result.err = conn, err
	close(result.done)

	if err != nil {
		c.mu.Lock()
		if c.pending == result {
			c.pending = nil
		}
		c.mu.Unlock()
	}
	return conn, err
}

func (c *Configurator) doConfigure(ctx context.Context, sess *session.RequestSession, builder *protocol.DynamicGrammarBuilder, device protocol.AudioDeviceInfo) (transport.Connection, error) {
	sess.SetPhase(session.Configuring)

	conn, err := c.conns.Connect(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("configure: %w", err)
	}

	c.mu.Lock()
	needConfig := !c.sentConfig[conn.ID()]
	c.mu.Unlock()

	if needConfig {
		body, err := protocol.BuildSpeechConfig(c.cfg, device)
		if err != nil {
			return nil, fmt.Errorf("configure: building speech.config: %w", err)
		}
		if err := conn.Send(ctx, protocol.Frame{
			Kind:        protocol.Text,
			Path:        protocol.PathSpeechConfig,
			RequestID:   sess.RequestID(),
			ContentType: protocol.ContentTypeJSON,
			Body:        body,
		}); err != nil {
			return nil, fmt.Errorf("configure: sending speech.config: %w", err)
		}
		c.mu.Lock()
		c.sentConfig[conn.ID()] = true
		c.mu.Unlock()
	}

	ctxBody, err := protocol.BuildSpeechContext(builder, device)
	if err != nil {
		return nil, fmt.Errorf("configure: building speech.context: %w", err)
	}
	if err := conn.Send(ctx, protocol.Frame{
		Kind:        protocol.Text,
		Path:        protocol.PathSpeechContext,
		RequestID:   sess.RequestID(),
		ContentType: protocol.ContentTypeJSON,
		Body:        ctxBody,
	}); err != nil {
		return nil, fmt.Errorf("configure: sending speech.context: %w", err)
	}

	sess.SetPhase(session.Streaming)
	return conn, nil
}
