package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/sttcore/session/internal/protocol"
)

// WSFactory creates connections to a cloud speech endpoint over
// github.com/coder/websocket, grounded on the teacher's own streaming STT
// client (internal/audio/stt/streaming.go), which dials this same library
// with a context-first Dial/Read/Write/CloseStatus shape.
type WSFactory struct {
	Endpoint string
	Params   Params
}

// NewWSFactory returns a factory for the given endpoint and base query
// parameters (deployment id, format, language, etc. — §6).
func NewWSFactory(endpoint string, params Params) *WSFactory {
	return &WSFactory{Endpoint: endpoint, Params: params}
}

// Create builds the connection URL and headers but does not dial; dialing
// happens in Connection.Open (§4.1 step 6).
func (f *WSFactory) Create(ctx context.Context, cfg protocol.RecognizerConfig, auth AuthInfo, connectionID string) (Connection, error) {
	u, err := url.Parse(f.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", f.Endpoint, err)
	}
	params := f.Params
	if params.Language == "" {
		params.Language = cfg.Language
	}
	qs, err := params.Encode()
	if err != nil {
		return nil, fmt.Errorf("transport: encoding query params: %w", err)
	}
	u.RawQuery = qs

	header := http.Header{}
	if auth.Token != "" {
		header.Set("Authorization", "Bearer "+auth.Token)
	}
	header.Set("X-ConnectionId", connectionID)

	return &wsConnection{
		url:          u.String(),
		header:       header,
		connectionID: connectionID,
		endpoint:     f.Endpoint,
		events:       make(chan Event, 16),
	}, nil
}

// wsConnection is the coder/websocket-backed Connection.
type wsConnection struct {
	url          string
	header       http.Header
	connectionID string
	endpoint     string

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	events    chan Event
	closeOnce sync.Once
}

func (c *wsConnection) ID() string { return c.connectionID }

// Open dials the endpoint and reports the response status the way the
// cloud protocol's handshake does: a successful WebSocket upgrade (HTTP
// 101 Switching Protocols) is reported as 200 success; any other HTTP
// status the server answered with (notably 403) is passed through
// verbatim so ConnectionManager can apply §4.1's re-auth/fail rules.
func (c *wsConnection) Open(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header})

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit("open.failed", map[string]any{"status": status, "endpoint": c.endpoint, "error": err.Error()})
		if status == 0 {
			return 0, fmt.Errorf("transport: dial %s failed: %w", c.endpoint, err)
		}
		return status, fmt.Errorf("transport: dial %s returned status %d: %w", c.endpoint, status, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.emit("open.succeeded", map[string]any{"status": status})

	if status == http.StatusSwitchingProtocols || status == 0 {
		return 200, nil
	}
	return status, nil
}

func (c *wsConnection) Send(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: send on unopened connection")
	}

	kind := websocket.MessageText
	data := encodeTextFrame(f)
	if f.Kind == protocol.Binary {
		kind = websocket.MessageBinary
		var err error
		data, err = encodeBinaryFrame(f)
		if err != nil {
			return fmt.Errorf("transport: encoding path %s: %w", f.Path, err)
		}
	}
	if err := conn.Write(ctx, kind, data); err != nil {
		c.markDisconnected()
		return fmt.Errorf("transport: send path %s: %w", f.Path, err)
	}
	return nil
}

// Read returns the next frame, decoding the Path/X-RequestId/Content-Type
// header block every frame carries (§6 "Transport framing (unchanged from
// the source protocol)"). Read returns (nil, nil) once the connection is
// closed normally, signaling the drain marker of §4.6.
func (c *wsConnection) Read(ctx context.Context) (*protocol.Frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("transport: read on unopened connection")
	}

	kind, data, err := conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, nil
		}
		c.markDisconnected()
		return nil, fmt.Errorf("transport: read: %w", err)
	}

	var frame protocol.Frame
	if kind == websocket.MessageBinary {
		frame, err = decodeBinaryFrame(data)
	} else {
		frame, err = decodeTextFrame(data)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: decoding frame: %w", err)
	}
	return &frame, nil
}

func (c *wsConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsConnection) Events() <-chan Event { return c.events }

func (c *wsConnection) Dispose() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.closeOnce.Do(func() { close(c.events) })
	return err
}

func (c *wsConnection) markDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.emit("disconnected", nil)
}

func (c *wsConnection) emit(name string, detail map[string]any) {
	select {
	case c.events <- Event{Name: name, Detail: detail}:
	default:
	}
}

// Wire framing (§6 "Transport framing (unchanged from the source
// protocol)"): every frame carries a Path/X-RequestId/Content-Type header
// block ahead of its body, the same framing the cognitive-services speech
// protocol uses on its WebSocket connection. A text frame's headers are
// terminated by a blank line (CRLF CRLF) before the UTF-8 body; a binary
// frame instead prefixes the header block with its own length as a
// 2-byte big-endian integer, since CRLF CRLF is not a reliable delimiter
// inside an arbitrary binary payload.
const (
	headerPath        = "Path"
	headerRequestID   = "X-RequestId"
	headerContentType = "Content-Type"
	headerSeparator   = "\r\n"
	headerTerminator  = "\r\n\r\n"
)

func encodeTextFrame(f protocol.Frame) []byte {
	var b bytes.Buffer
	writeHeaderLines(&b, f)
	b.WriteString(headerSeparator)
	b.Write(f.Body)
	return b.Bytes()
}

func encodeBinaryFrame(f protocol.Frame) ([]byte, error) {
	var hb bytes.Buffer
	writeHeaderLines(&hb, f)

	if hb.Len() > 0xFFFF {
		return nil, fmt.Errorf("header block of %d bytes exceeds the 16-bit length prefix", hb.Len())
	}

	out := make([]byte, 2+hb.Len()+len(f.Body))
	binary.BigEndian.PutUint16(out[:2], uint16(hb.Len()))
	copy(out[2:], hb.Bytes())
	copy(out[2+hb.Len():], f.Body)
	return out, nil
}

func writeHeaderLines(b *bytes.Buffer, f protocol.Frame) {
	fmt.Fprintf(b, "%s:%s%s", headerPath, f.Path, headerSeparator)
	fmt.Fprintf(b, "%s:%s%s", headerRequestID, f.RequestID, headerSeparator)
	if f.ContentType != "" {
		fmt.Fprintf(b, "%s:%s%s", headerContentType, f.ContentType, headerSeparator)
	}
}

func decodeTextFrame(data []byte) (protocol.Frame, error) {
	idx := bytes.Index(data, []byte(headerTerminator))
	if idx < 0 {
		return protocol.Frame{}, fmt.Errorf("text frame missing header terminator")
	}
	f := protocol.Frame{Kind: protocol.Text, Body: data[idx+len(headerTerminator):]}
	parseHeaderLines(&f, data[:idx])
	return f, nil
}

func decodeBinaryFrame(data []byte) (protocol.Frame, error) {
	if len(data) < 2 {
		return protocol.Frame{}, fmt.Errorf("binary frame too short to carry a header length")
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+headerLen {
		return protocol.Frame{}, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(data))
	}
	f := protocol.Frame{Kind: protocol.Binary, Body: data[2+headerLen:]}
	parseHeaderLines(&f, data[2:2+headerLen])
	return f, nil
}

func parseHeaderLines(f *protocol.Frame, block []byte) {
	for _, line := range strings.Split(string(block), headerSeparator) {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case strings.EqualFold(key, headerPath):
			f.Path = val
		case strings.EqualFold(key, headerRequestID):
			f.RequestID = val
		case strings.EqualFold(key, headerContentType):
			f.ContentType = val
		}
	}
}
