package configure

import (
	"context"
	"sync"

	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/pkg/transport"
)

type testAuth struct{}

func (testAuth) Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return transport.AuthInfo{Token: "tok"}, nil
}

func (testAuth) FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return transport.AuthInfo{Token: "tok"}, nil
}

type testFactory struct {
	status int
	n      int
}

func newTestFactory(status int) *testFactory { return &testFactory{status: status} }

func (f *testFactory) Create(ctx context.Context, cfg protocol.RecognizerConfig, auth transport.AuthInfo, connectionID string) (transport.Connection, error) {
	f.n++
	return &testConnection{id: connectionID, status: f.status, events: make(chan transport.Event, 4)}, nil
}

type testConnection struct {
	id     string
	status int
	events chan transport.Event

	mu    sync.Mutex
	state transport.State
	sent  []protocol.Frame
}

func (c *testConnection) ID() string { return c.id }

func (c *testConnection) Open(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.state = transport.StateConnected
	c.mu.Unlock()
	return c.status, nil
}

func (c *testConnection) Send(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *testConnection) Read(ctx context.Context) (*protocol.Frame, error) { return nil, nil }

func (c *testConnection) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *testConnection) Events() <-chan transport.Event { return c.events }

func (c *testConnection) Dispose() error { return nil }
