// Package audio defines the audio source seam the upstream pump reads
// from, and the ReplayableAudioSource wrapper (component C2) that lets a
// mid-stream reconnect re-send recently-read bytes.
//
// Audio capture and decoding themselves are an out-of-scope collaborator
// (spec.md §1): this package only describes the interface the core
// consumes, not how bytes are captured or decoded.
package audio

import (
	"context"

	"github.com/sttcore/session/internal/protocol"
)

// Chunk is one unit yielded by a Source: either a payload to send, or the
// end-of-stream marker (IsEnd true, Data empty or nil).
type Chunk struct {
	Data  []byte
	IsEnd bool
}

// Source is the audio stream node the upstream pump reads from.
type Source interface {
	// Read blocks until the next chunk is available, the stream ends, or
	// ctx is canceled.
	Read(ctx context.Context) (Chunk, error)

	// Realtime reports whether this source is bounded by wall clock (e.g.
	// a microphone) and must never be paced with a timer (§4.4, GLOSSARY
	// "Realtime audio source").
	Realtime() bool

	// DeviceInfo describes the source for the speech.context/speech.config
	// audio device payload (§4.2, §4.7).
	DeviceInfo() protocol.AudioDeviceInfo
}
