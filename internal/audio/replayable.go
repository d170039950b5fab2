package audio

import (
	"context"
	"sync"

	"github.com/sttcore/session/internal/protocol"
)

// Replayable wraps a raw Source so that a mid-stream reconnect can re-send
// chunks already read but lost in transit (component C2, §4.5). The replay
// window is bounded by windowBytes (the transmit-before-throttle byte
// budget, §4.4), beyond which the oldest buffered chunks are dropped.
//
// The pump benefits opaquely: Read has the same signature and semantics as
// the wrapped Source's Read, it just may replay already-seen bytes after
// Rewind is called.
type Replayable struct {
	inner       Source
	windowBytes int

	mu       sync.Mutex
	buffered []Chunk
	bufBytes int
	cursor   int
}

// NewReplayable wraps inner with a replay window of windowBytes.
func NewReplayable(inner Source, windowBytes int) *Replayable {
	if windowBytes <= 0 {
		windowBytes = 1
	}
	return &Replayable{inner: inner, windowBytes: windowBytes}
}

// Read returns the next buffered-but-unreplayed chunk if one is pending
// replay (after Rewind); otherwise it reads a fresh chunk from the
// underlying source and buffers it, trimming the buffer to the replay
// window.
func (r *Replayable) Read(ctx context.Context) (Chunk, error) {
	r.mu.Lock()
	if r.cursor < len(r.buffered) {
		c := r.buffered[r.cursor]
		r.cursor++
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := r.inner.Read(ctx)
	if err != nil {
		return Chunk{}, err
	}

	r.mu.Lock()
	r.buffered = append(r.buffered, c)
	r.bufBytes += len(c.Data)
	r.trimLocked()
	r.cursor = len(r.buffered)
	r.mu.Unlock()

	return c, nil
}

// trimLocked drops the oldest buffered chunks until the buffer fits within
// windowBytes. Must be called with mu held.
func (r *Replayable) trimLocked() {
	for r.bufBytes > r.windowBytes && len(r.buffered) > 1 {
		dropped := r.buffered[0]
		r.buffered = r.buffered[1:]
		r.bufBytes -= len(dropped.Data)
		if r.cursor > 0 {
			r.cursor--
		}
	}
}

// Rewind arms replay: the next len(buffered) calls to Read return the
// currently buffered chunks (oldest first) before any fresh read happens.
// The upstream pump calls this when it notices fetchConnection() produced
// a new connection after a mid-stream disconnect (§4.4 "Reconnect
// behavior").
func (r *Replayable) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
}

// Acknowledge drops the buffered chunks that lie entirely within the first
// offset bytes of the buffer, counted from the oldest chunk still
// buffered (not from the start of the stream). A chunk only partly
// covered is kept (§4.5).
func (r *Replayable) Acknowledge(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acked := int64(0)
	for len(r.buffered) > 0 {
		n := int64(len(r.buffered[0].Data))
		if acked+n > offset {
			break
		}
		acked += n
		r.buffered = r.buffered[1:]
		r.bufBytes -= int(n)
		if r.cursor > 0 {
			r.cursor--
		}
	}
}

func (r *Replayable) Realtime() bool { return r.inner.Realtime() }

func (r *Replayable) DeviceInfo() protocol.AudioDeviceInfo {
	info := r.inner.DeviceInfo()
	info.Replay = true
	return info
}
