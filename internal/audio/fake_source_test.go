package audio

import (
	"context"
	"io"

	"github.com/sttcore/session/internal/protocol"
)

// fakeSource yields a fixed sequence of chunks, then returns io.EOF.
type fakeSource struct {
	chunks   []Chunk
	idx      int
	realtime bool
}

func (f *fakeSource) Read(ctx context.Context) (Chunk, error) {
	if f.idx >= len(f.chunks) {
		return Chunk{}, io.EOF
	}
	c := f.chunks[f.idx]
	f.idx++
	return c, nil
}

func (f *fakeSource) Realtime() bool { return f.realtime }

func (f *fakeSource) DeviceInfo() protocol.AudioDeviceInfo {
	return protocol.AudioDeviceInfo{Type: "File"}
}
