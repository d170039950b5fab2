package connection

import (
	"context"
	"sync"

	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/pkg/transport"
)

// fakeAuth returns a fixed token; FetchOnExpiry is counted separately so
// tests can assert it was called exactly once (property 7).
type fakeAuth struct {
	mu             sync.Mutex
	fetchCalls     int
	fetchOnExpiryN int
	failFetch      bool
}

func (a *fakeAuth) Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchCalls++
	if a.failFetch {
		return transport.AuthInfo{}, errAuth
	}
	return transport.AuthInfo{Token: "tok"}, nil
}

func (a *fakeAuth) FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchOnExpiryN++
	return transport.AuthInfo{Token: "tok2"}, nil
}

var errAuth = &fakeErr{"auth failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

// fakeFactory hands out fakeConnections, one per Create call, with a
// scripted sequence of open statuses (by call order across all connections
// it creates).
type fakeFactory struct {
	mu        sync.Mutex
	statuses  []int // status to return on each successive Open call, across connections
	openCalls int
	created   []*fakeConnection
}

func (f *fakeFactory) Create(ctx context.Context, cfg protocol.RecognizerConfig, auth transport.AuthInfo, connectionID string) (transport.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConnection{id: connectionID, factory: f, events: make(chan transport.Event, 4)}
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeFactory) nextStatus() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openCalls >= len(f.statuses) {
		return 200
	}
	s := f.statuses[f.openCalls]
	f.openCalls++
	return s
}

type fakeConnection struct {
	id      string
	factory *fakeFactory
	events  chan transport.Event

	mu       sync.Mutex
	state    transport.State
	sent     []protocol.Frame
	disposed bool
}

func (c *fakeConnection) ID() string { return c.id }

func (c *fakeConnection) Open(ctx context.Context) (int, error) {
	status := c.factory.nextStatus()
	c.mu.Lock()
	if status == 200 {
		c.state = transport.StateConnected
	} else {
		c.state = transport.StateDisconnected
	}
	c.mu.Unlock()
	if status != 200 {
		return status, &fakeErr{"rejected"}
	}
	return status, nil
}

func (c *fakeConnection) Send(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConnection) Read(ctx context.Context) (*protocol.Frame, error) {
	return nil, nil
}

func (c *fakeConnection) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConnection) Events() <-chan transport.Event { return c.events }

func (c *fakeConnection) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disposed {
		c.disposed = true
		close(c.events)
	}
	return nil
}
