package gateway

import (
	"context"
	"io"

	"github.com/sttcore/session/internal/audio"
	"github.com/sttcore/session/internal/protocol"
)

// wsAudioSource adapts one inbound WebSocket connection's binary frames into
// an audio.Source (spec.md §1's audio-capture collaborator, here a browser
// or phone microphone reached over the wire rather than a local device).
// Gateway.readAudioLoop feeds it; Recognize's upstream pump drains it.
type wsAudioSource struct {
	chunks chan audio.Chunk
	closed chan struct{}
}

func newWSAudioSource() *wsAudioSource {
	return &wsAudioSource{
		chunks: make(chan audio.Chunk, 32),
		closed: make(chan struct{}),
	}
}

// push enqueues a captured audio frame. Once Close has run it never
// blocks, and the frame may be dropped.
func (s *wsAudioSource) push(data []byte) {
	select {
	case s.chunks <- audio.Chunk{Data: data}:
	case <-s.closed:
	}
}

// end enqueues the end-of-stream marker.
func (s *wsAudioSource) end() {
	select {
	case s.chunks <- audio.Chunk{IsEnd: true}:
	case <-s.closed:
	}
}

// Close unblocks any pending Read with io.EOF. Safe to call more than once.
func (s *wsAudioSource) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *wsAudioSource) Read(ctx context.Context) (audio.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			return audio.Chunk{}, io.EOF
		}
		return c, nil
	case <-s.closed:
		return audio.Chunk{}, io.EOF
	case <-ctx.Done():
		return audio.Chunk{}, ctx.Err()
	}
}

func (s *wsAudioSource) Realtime() bool { return true }

func (s *wsAudioSource) DeviceInfo() protocol.AudioDeviceInfo {
	return protocol.AudioDeviceInfo{Type: "Microphones"}
}
