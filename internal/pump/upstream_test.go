package pump

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sttcore/session/internal/audio"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

type fakeSource struct {
	chunks   []audio.Chunk
	idx      int
	realtime bool
}

func (f *fakeSource) Read(ctx context.Context) (audio.Chunk, error) {
	if f.idx >= len(f.chunks) {
		return audio.Chunk{}, io.EOF
	}
	c := f.chunks[f.idx]
	f.idx++
	return c, nil
}
func (f *fakeSource) Realtime() bool                         { return f.realtime }
func (f *fakeSource) DeviceInfo() protocol.AudioDeviceInfo    { return protocol.AudioDeviceInfo{Type: "File"} }

type recordingConn struct {
	mu   sync.Mutex
	sent []protocol.Frame
	id   string
}

func (c *recordingConn) ID() string {
	if c.id != "" {
		return c.id
	}
	return "conn-1"
}
func (c *recordingConn) Open(ctx context.Context) (int, error)        { return 200, nil }
func (c *recordingConn) Read(ctx context.Context) (*protocol.Frame, error) { return nil, nil }
func (c *recordingConn) State() transport.State                       { return transport.StateConnected }
func (c *recordingConn) Events() <-chan transport.Event                { return nil }
func (c *recordingConn) Dispose() error                                { return nil }
func (c *recordingConn) Send(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func chunkOf(size int) audio.Chunk { return audio.Chunk{Data: make([]byte, size)} }

func TestPumpSendsAllChunksThenEOS(t *testing.T) {
	src := &fakeSource{chunks: []audio.Chunk{chunkOf(100), chunkOf(100), {IsEnd: true}}, realtime: true}
	replayable := audio.NewReplayable(src, 1000)
	sess := session.New("mic-1")
	sess.StartNewRecognition()
	conn := &recordingConn{}

	p := New(replayable, sess, func(ctx context.Context) (transport.Connection, error) {
		return conn, nil
	}, protocol.DefaultRecognizerConfig(), func() bool { return false })

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) != 3 {
		t.Fatalf("expected 3 frames (2 audio + EOS), got %d", len(conn.sent))
	}
	if !conn.sent[2].IsAudioEndOfStream() {
		t.Fatalf("expected last frame to be the EOS marker")
	}
	if !sess.IsSpeechEnded() {
		t.Fatal("expected OnSpeechEnded to have been called")
	}
}

func TestPumpStopsWhenSuperseded(t *testing.T) {
	src := &fakeSource{chunks: []audio.Chunk{chunkOf(100), chunkOf(100)}, realtime: true}
	replayable := audio.NewReplayable(src, 1000)
	sess := session.New("mic-1")
	sess.StartNewRecognition()
	conn := &recordingConn{}

	p := New(replayable, sess, func(ctx context.Context) (transport.Connection, error) {
		return conn, nil
	}, protocol.DefaultRecognizerConfig(), func() bool { return false })

	sess.StartNewRecognition() // supersedes: bumps recogNumber past what Run captured

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) != 0 {
		t.Fatalf("expected superseded pump to send nothing, got %d frames", len(conn.sent))
	}
}

func TestPumpStopsWhenNotRecognizing(t *testing.T) {
	src := &fakeSource{chunks: []audio.Chunk{chunkOf(100)}, realtime: true}
	replayable := audio.NewReplayable(src, 1000)
	sess := session.New("mic-1")
	sess.StartNewRecognition()
	sess.OnStopRecognizing()
	conn := &recordingConn{}

	p := New(replayable, sess, func(ctx context.Context) (transport.Connection, error) {
		return conn, nil
	}, protocol.DefaultRecognizerConfig(), func() bool { return false })

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) != 0 {
		t.Fatalf("expected no sends once isRecognizing is false, got %d", len(conn.sent))
	}
}

func TestPumpRewindsReplayBufferOnReconnect(t *testing.T) {
	// Four chunks; the fetcher swaps to a new connection id right after the
	// second chunk is sent, simulating a mid-stream reconnect. The pump
	// must notice the id change before its next read and replay the
	// buffered chunks instead of only sending fresh ones — a reconnect
	// must not silently drop already-sent-but-possibly-lost audio (§4.4
	// scenario S4).
	src := &fakeSource{chunks: []audio.Chunk{chunkOf(10), chunkOf(10), chunkOf(10), {IsEnd: true}}, realtime: true}
	replayable := audio.NewReplayable(src, 1000)
	sess := session.New("mic-1")
	sess.StartNewRecognition()

	connA := &recordingConn{id: "conn-a"}
	connB := &recordingConn{id: "conn-b"}
	fetchCount := 0
	fetch := func(ctx context.Context) (transport.Connection, error) {
		fetchCount++
		if fetchCount <= 2 {
			return connA, nil
		}
		return connB, nil
	}

	p := New(replayable, sess, fetch, protocol.DefaultRecognizerConfig(), func() bool { return false })

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	connA.mu.Lock()
	sentOnA := len(connA.sent)
	connA.mu.Unlock()
	if sentOnA != 2 {
		t.Fatalf("expected 2 frames sent before the reconnect, got %d", sentOnA)
	}

	connB.mu.Lock()
	defer connB.mu.Unlock()
	// After the reconnect, Rewind replays the buffered chunks (chunk 1 and
	// chunk 2, still within the 1000-byte window) before the fresh chunk 3
	// and the EOS marker.
	if len(connB.sent) != 4 {
		t.Fatalf("expected 2 replayed + 1 fresh audio frame + EOS on the new connection, got %d", len(connB.sent))
	}
	if !connB.sent[3].IsAudioEndOfStream() {
		t.Fatalf("expected the last frame on the new connection to be the EOS marker")
	}
}

func TestPumpFastLaneIsUnthrottled(t *testing.T) {
	// avgBytesPerSec=32000, fastLaneMs=5000 -> maxUnthrottled=160000 bytes.
	cfg := protocol.DefaultRecognizerConfig()
	src := &fakeSource{chunks: []audio.Chunk{chunkOf(160000), {IsEnd: true}}, realtime: false}
	replayable := audio.NewReplayable(src, 1<<20)
	sess := session.New("mic-1")
	sess.StartNewRecognition()
	conn := &recordingConn{}

	slept := false
	p := New(replayable, sess, func(ctx context.Context) (transport.Connection, error) {
		return conn, nil
	}, cfg, func() bool { return false })
	p.sleeper = func(d time.Duration) { slept = true }

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slept {
		t.Fatal("expected the first chunk, fully within the fast lane budget, to be sent without a sleep")
	}
}
