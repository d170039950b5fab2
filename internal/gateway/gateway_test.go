package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/pkg/transport"
)

type fakeAuthn struct{}

func (fakeAuthn) Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return transport.AuthInfo{Token: "tok"}, nil
}
func (fakeAuthn) FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return transport.AuthInfo{Token: "tok"}, nil
}

type fakeFactory struct{}

func (fakeFactory) Create(ctx context.Context, cfg protocol.RecognizerConfig, auth transport.AuthInfo, connectionID string) (transport.Connection, error) {
	return &fakeConn{id: connectionID}, nil
}

// fakeConn scripts the same single-shot happy path as recognizer's own
// controller test: once speech.context lands, it queues turn.start,
// speech.startdetected(0), speech.enddetected(10_000_000), turn.end.
type fakeConn struct {
	id string

	mu       sync.Mutex
	queued   []*protocol.Frame
	scripted bool
}

func (c *fakeConn) ID() string                            { return c.id }
func (c *fakeConn) Open(ctx context.Context) (int, error) { return 200, nil }
func (c *fakeConn) State() transport.State                { return transport.StateConnected }
func (c *fakeConn) Events() <-chan transport.Event        { return nil }
func (c *fakeConn) Dispose() error                        { return nil }

func offsetBody(offset int64) []byte {
	b, _ := json.Marshal(protocol.OffsetBody{Offset: offset})
	return b
}

func (c *fakeConn) Send(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Path == protocol.PathSpeechContext && !c.scripted {
		c.scripted = true
		c.queued = []*protocol.Frame{
			{Kind: protocol.Text, Path: protocol.PathTurnStart, RequestID: f.RequestID},
			{Kind: protocol.Text, Path: protocol.PathSpeechStartDetected, RequestID: f.RequestID, Body: offsetBody(0)},
			{Kind: protocol.Text, Path: protocol.PathSpeechEndDetected, RequestID: f.RequestID, Body: offsetBody(10_000_000)},
			{Kind: protocol.Text, Path: protocol.PathTurnEnd, RequestID: f.RequestID},
		}
	}
	return nil
}

func (c *fakeConn) Read(ctx context.Context) (*protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queued) == 0 {
		return nil, nil
	}
	f := c.queued[0]
	c.queued = c.queued[1:]
	return f, nil
}

func TestGatewaySingleShotHappyPath(t *testing.T) {
	gw := New(fakeFactory{}, fakeAuthn{}, protocol.DefaultRecognizerConfig(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/init", gw.InitializeSession)
	mux.HandleFunc("/ws/session/", gw.HandleWebSocket)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/session/init", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	var created CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode init response: %v", err)
	}
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + created.WebSocketURL
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 32000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g := gw.lookup(created.SessionID)
		if g == nil {
			break
		}
		g.mu.RLock()
		status := g.status
		g.mu.RUnlock()
		if status == "disconnected" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	gs := gw.lookup(created.SessionID)
	if gs == nil {
		t.Fatal("session vanished from registry")
	}
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	if gs.status != "disconnected" {
		t.Fatalf("expected session disconnected after recognize completed, got %s", gs.status)
	}
}

func TestGatewayInitializeSessionRejectsWrongMethod(t *testing.T) {
	gw := New(fakeFactory{}, fakeAuthn{}, protocol.DefaultRecognizerConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/session/init", nil)
	w := httptest.NewRecorder()
	gw.InitializeSession(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestGatewayStatusUnknownSession(t *testing.T) {
	gw := New(fakeFactory{}, fakeAuthn{}, protocol.DefaultRecognizerConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/session/status?session_id=missing", nil)
	w := httptest.NewRecorder()
	gw.GetSessionStatus(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
