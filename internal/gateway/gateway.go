// Package gateway implements the inbound ingress that bridges a browser or
// phone audio client to one recognizer.Controller per connection, adapted
// from the teacher's InterviewManager: a session map guarded by a mutex,
// HTTP handlers for session lifecycle, and a gorilla/websocket upgrader for
// the audio-streaming connection itself.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sttcore/session/internal/auth"
	"github.com/sttcore/session/internal/ids"
	"github.com/sttcore/session/internal/logging"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/recognizer"
	"github.com/sttcore/session/pkg/transport"
)

// CreateSessionRequest is the body accepted by InitializeSession. An empty
// or absent body falls back to the package defaults.
type CreateSessionRequest struct {
	Continuous bool `json:"continuous,omitempty"`
}

// CreateSessionResponse is returned once a session is registered and ready
// for its WebSocket to connect.
type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
	Status       string `json:"status"`
}

// SessionStatusResponse reports a session's lifecycle position.
type SessionStatusResponse struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Phase       string    `json:"phase"`
	StartTime   time.Time `json:"start_time"`
	ResultCount int       `json:"result_count"`
}

// outboundMessage is written to the client WebSocket as JSON, carrying
// either a lifecycle event or a forwarded recognition result.
type outboundMessage struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Offset    int64           `json:"offset,omitempty"`
	Path      string          `json:"path,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// gatewaySession is one registered client: a recognizer.Controller paired
// with the WebSocket it is currently (or will be) streaming over.
type gatewaySession struct {
	id        string
	startTime time.Time
	ctrl      *recognizer.Controller

	mu          sync.RWMutex
	status      string
	resultCount int
	wsConn      *websocket.Conn
	source      *wsAudioSource
	cancel      context.CancelFunc
	onResult    recognizer.OnResultFunc
	onError     recognizer.OnErrorFunc
}

func (s *gatewaySession) send(msg outboundMessage) {
	s.mu.RLock()
	conn := s.wsConn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(msg)
}

// Gateway manages one session per connected client (component at the edge
// of spec.md §1, bridging the out-of-scope audio-capture collaborator to
// SessionController).
type Gateway struct {
	factory transport.Factory
	authn   auth.Authenticator
	cfg     protocol.RecognizerConfig
	log     logging.Logger

	mu       sync.RWMutex
	sessions map[string]*gatewaySession
	upgrader websocket.Upgrader
}

// New builds a Gateway that mints one recognizer.Controller per registered
// session against factory/authn/cfg.
func New(factory transport.Factory, authn auth.Authenticator, cfg protocol.RecognizerConfig, log logging.Logger) *Gateway {
	if log == nil {
		log = logging.Nop{}
	}
	return &Gateway{
		factory:  factory,
		authn:    authn,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*gatewaySession),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// InitializeSession registers a new gateway session and returns the
// WebSocket URL the client should connect its audio stream to.
func (g *Gateway) InitializeSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	cfg := g.cfg
	cfg.Continuous = req.Continuous

	sessionID := ids.New()
	gs := &gatewaySession{id: sessionID, startTime: time.Now(), status: "initialized"}

	onEvent := func(ev recognizer.Event) {
		gs.send(outboundMessage{Type: "event", Name: ev.Name, SessionID: ev.SessionID, Offset: ev.Offset})
	}
	onResult := func(res recognizer.Result) {
		gs.mu.Lock()
		gs.resultCount++
		gs.mu.Unlock()
		gs.send(outboundMessage{Type: "result", Path: res.Path, Body: res.Body})
	}
	onError := func(err error) {
		gs.send(outboundMessage{Type: "error", Error: err.Error()})
	}

	gs.ctrl = recognizer.New(sessionID, cfg, g.factory, g.authn, protocol.NewDynamicGrammarBuilder(), nil, onEvent, nil, g.log)

	// onResult/onError are per-call recognize() callbacks (§4.7), captured
	// here for the goroutine HandleWebSocket spawns rather than wired into
	// New itself.
	gs.onResult, gs.onError = onResult, onError

	g.mu.Lock()
	g.sessions[sessionID] = gs
	g.mu.Unlock()

	g.log.Infof("gateway: session initialized: %s", sessionID)

	writeJSON(w, http.StatusOK, CreateSessionResponse{
		SessionID:    sessionID,
		WebSocketURL: fmt.Sprintf("/ws/session/%s", sessionID),
		Status:       "initialized",
	})
}

// GetSessionStatus reports a session's current lifecycle position.
func (g *Gateway) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	gs := g.lookup(sessionID)
	if gs == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	gs.mu.RLock()
	resp := SessionStatusResponse{
		SessionID:   gs.id,
		Status:      gs.status,
		Phase:       gs.ctrl.Phase().String(),
		StartTime:   gs.startTime,
		ResultCount: gs.resultCount,
	}
	gs.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// HandleWebSocket upgrades the client's audio connection and drives one
// full Recognize() call over it, forwarding lifecycle events and results
// back as JSON text frames.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	gs := g.lookup(sessionID)
	if gs == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	gs.mu.Lock()
	if gs.status == "connected" {
		gs.mu.Unlock()
		http.Error(w, "session already connected", http.StatusConflict)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gs.mu.Unlock()
		g.log.Errorf("gateway: upgrade failed for session %s: %v", sessionID, err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	source := newWSAudioSource()
	gs.wsConn = conn
	gs.source = source
	gs.cancel = cancel
	gs.status = "connected"
	gs.mu.Unlock()

	g.log.Infof("gateway: websocket connected for session %s", sessionID)

	go func() {
		_, _ = gs.ctrl.Recognize(ctx, source, gs.onResult, gs.onError)

		gs.mu.Lock()
		gs.status = "disconnected"
		gs.mu.Unlock()
		_ = conn.Close()
		g.log.Infof("gateway: recognition finished for session %s", sessionID)
	}()

	g.readAudioLoop(gs, conn, source)
}

// readAudioLoop drains binary frames from the client connection into the
// session's audio source until the socket closes, then signals end of
// stream (§4.4's upstream-pump source never blocks past EOS for long).
func (g *Gateway) readAudioLoop(gs *gatewaySession, conn *websocket.Conn, source *wsAudioSource) {
	defer func() {
		source.end()
		source.Close()

		gs.mu.Lock()
		gs.status = "disconnected"
		if gs.cancel != nil {
			gs.cancel()
		}
		gs.mu.Unlock()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Infof("gateway: websocket closed normally for session %s", gs.id)
			} else {
				g.log.Warnf("gateway: websocket read error for session %s: %v", gs.id, err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		source.push(data)
	}
}

// CloseSession stops recognition, disconnects the transport, and removes
// the session from the registry.
func (g *Gateway) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	g.mu.Lock()
	gs, exists := g.sessions[sessionID]
	if exists {
		delete(g.sessions, sessionID)
	}
	g.mu.Unlock()

	if !exists {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	gs.mu.Lock()
	conn := gs.wsConn
	cancel := gs.cancel
	gs.wsConn = nil
	gs.status = "disconnected"
	gs.mu.Unlock()

	gs.ctrl.StopRecognizing(r.Context())
	gs.ctrl.Disconnect(r.Context())
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	g.log.Infof("gateway: session closed: %s", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "session_id": sessionID})
}

func (g *Gateway) lookup(sessionID string) *gatewaySession {
	if sessionID == "" {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[sessionID]
}
