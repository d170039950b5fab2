// Package stt wraps AssemblyAI's batch transcription REST client. It backs
// cmd/batchcheck only: the live session core talks the vendor-neutral
// framed protocol of pkg/transport and internal/protocol, not this package.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/AssemblyAI/assemblyai-go-sdk"
)

// STT is a batch Speech-to-Text client backed by AssemblyAI.
type STT struct {
	client *assemblyai.Client
}

// NewSTT builds an STT client from the ASSEMBLYAI_API_KEY environment
// variable.
func NewSTT() *STT {
	apiKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if apiKey == "" {
		panic("ASSEMBLYAI_API_KEY environment variable is not set")
	}

	return &STT{client: assemblyai.NewClient(apiKey)}
}

// Transcribe converts in-memory audio data to text.
func (s *STT) Transcribe(audioData []byte) (string, error) {
	return s.transcribeFromReader(bytes.NewReader(audioData), nil)
}

// TranscribeFile transcribes audio read from a file path.
func (s *STT) TranscribeFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	return s.transcribeFromReader(file, nil)
}

// TranscribeFromURL transcribes audio already reachable at a URL.
func (s *STT) TranscribeFromURL(audioURL string) (string, error) {
	transcript, err := s.client.Transcripts.TranscribeFromURL(context.Background(), audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio from URL: %w", err)
	}
	if transcript.Text == nil {
		return "", fmt.Errorf("transcription completed but no text was returned")
	}
	return *transcript.Text, nil
}

// TranscribeStream transcribes audio read from an arbitrary io.Reader.
func (s *STT) TranscribeStream(reader io.Reader) (string, error) {
	return s.transcribeFromReader(reader, nil)
}

// TranscribeWithOptions transcribes audio data with custom AssemblyAI
// options.
func (s *STT) TranscribeWithOptions(audioData []byte, opts *assemblyai.TranscriptOptionalParams) (string, error) {
	return s.transcribeFromReader(bytes.NewReader(audioData), opts)
}

func (s *STT) transcribeFromReader(r io.Reader, opts *assemblyai.TranscriptOptionalParams) (string, error) {
	transcript, err := s.client.Transcripts.TranscribeFromReader(context.Background(), r, opts)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	if transcript.Text == nil {
		return "", fmt.Errorf("transcription completed but no text was returned")
	}
	return *transcript.Text, nil
}
