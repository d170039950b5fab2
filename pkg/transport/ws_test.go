package transport

import (
	"testing"

	"github.com/sttcore/session/internal/protocol"
)

func TestEncodeDecodeTextFrameRoundTrips(t *testing.T) {
	f := protocol.Frame{
		Kind:        protocol.Text,
		Path:        protocol.PathSpeechConfig,
		RequestID:   "abc123",
		ContentType: protocol.ContentTypeJSON,
		Body:        []byte(`{"context":{}}`),
	}

	data := encodeTextFrame(f)

	got, err := decodeTextFrame(data)
	if err != nil {
		t.Fatalf("decodeTextFrame: %v", err)
	}
	if got.Path != f.Path || got.RequestID != f.RequestID || got.ContentType != f.ContentType {
		t.Fatalf("headers did not round-trip: got %+v, want path/reqid/ct %q/%q/%q", got, f.Path, f.RequestID, f.ContentType)
	}
	if string(got.Body) != string(f.Body) {
		t.Fatalf("body did not round-trip: got %q, want %q", got.Body, f.Body)
	}
}

func TestEncodeDecodeBinaryFrameRoundTrips(t *testing.T) {
	f := protocol.Frame{
		Kind:      protocol.Binary,
		Path:      protocol.PathAudio,
		RequestID: "req-9",
		Body:      []byte{0x00, 0x01, 0xFF, 0x0D, 0x0A, 0x0D, 0x0A}, // deliberately contains CRLF CRLF bytes
	}

	data, err := encodeBinaryFrame(f)
	if err != nil {
		t.Fatalf("encodeBinaryFrame: %v", err)
	}

	got, err := decodeBinaryFrame(data)
	if err != nil {
		t.Fatalf("decodeBinaryFrame: %v", err)
	}
	if got.Path != f.Path || got.RequestID != f.RequestID {
		t.Fatalf("headers did not round-trip: got %+v", got)
	}
	if string(got.Body) != string(f.Body) {
		t.Fatalf("binary body did not round-trip (header-length prefix must not be fooled by CRLF CRLF inside the body): got %v, want %v", got.Body, f.Body)
	}
}

func TestEncodeBinaryFrameEndOfAudioHasEmptyBody(t *testing.T) {
	f := protocol.Frame{Kind: protocol.Binary, Path: protocol.PathAudio, RequestID: "req-1"}

	data, err := encodeBinaryFrame(f)
	if err != nil {
		t.Fatalf("encodeBinaryFrame: %v", err)
	}
	got, err := decodeBinaryFrame(data)
	if err != nil {
		t.Fatalf("decodeBinaryFrame: %v", err)
	}
	if !got.IsAudioEndOfStream() {
		t.Fatalf("expected decoded empty-body audio frame to report IsAudioEndOfStream, got %+v", got)
	}
}

func TestDecodeTextFrameMissingTerminatorErrors(t *testing.T) {
	if _, err := decodeTextFrame([]byte("Path:turn.start\r\nX-RequestId:x")); err == nil {
		t.Fatal("expected an error for a text frame with no header/body terminator")
	}
}

func TestDecodeBinaryFrameTooShortErrors(t *testing.T) {
	if _, err := decodeBinaryFrame([]byte{0x00}); err == nil {
		t.Fatal("expected an error for a binary frame too short to carry its header length")
	}
}
