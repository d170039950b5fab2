// Package session implements RequestSession (component C1): the
// in-memory, per-recognition state machine shared by the upstream pump and
// downstream dispatcher. It performs no I/O.
package session

import (
	"sync"

	"github.com/sttcore/session/internal/ids"
	"github.com/sttcore/session/internal/telemetry"
)

// RequestSession is created once alongside the core and reused across
// recognitions; its fields reset on every StartNewRecognition (§3
// "Lifecycle").
//
// The source model is single-threaded cooperative (spec.md §5), so no
// locking is required there. The Go translation runs the upstream pump and
// downstream dispatcher as genuinely concurrent goroutines, so this type
// guards its fields with a mutex to preserve the same "safe to touch from
// both loops" guarantee under real parallelism.
type RequestSession struct {
	mu sync.Mutex

	audioSourceID string

	sessionID string
	requestID string

	recogNumber int64

	bytesSent              int64
	currentTurnAudioOffset int64

	isRecognizing bool
	isSpeechEnded bool

	phase Phase

	telemetry *telemetry.Accumulator
}

// New creates a RequestSession for the given stable audio source id.
func New(audioSourceID string) *RequestSession {
	return &RequestSession{
		audioSourceID: audioSourceID,
		telemetry:     telemetry.New(),
		phase:         Idle,
	}
}

// StartNewRecognition resets ids, counters, and flags, and increments
// RecogNumber so any pump still running from a superseded recognition can
// detect it has been superseded (§3 invariants, §4.4).
func (s *RequestSession) StartNewRecognition() (sessionID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = ids.New()
	s.requestID = ids.New()
	s.recogNumber++
	s.bytesSent = 0
	s.currentTurnAudioOffset = 0
	s.isRecognizing = true
	s.isSpeechEnded = false
	s.phase = Authenticating
	return s.sessionID, s.requestID
}

// SessionID returns the current recognition's session id.
func (s *RequestSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// RequestID returns the current turn's request id.
func (s *RequestSession) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// AudioSourceID returns the stable id supplied at construction.
func (s *RequestSession) AudioSourceID() string {
	return s.audioSourceID
}

// RecogNumber returns the monotonically increasing recognition counter.
func (s *RequestSession) RecogNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recogNumber
}

// IsRecognizing reports whether the session is between StartNewRecognition
// and OnStopRecognizing/Dispose.
func (s *RequestSession) IsRecognizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRecognizing
}

// IsSpeechEnded reports whether the audio stream has signaled end-of-stream.
func (s *RequestSession) IsSpeechEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSpeechEnded
}

// BytesSent returns cumulative bytes of binary audio emitted for the
// current request.
func (s *RequestSession) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// CurrentTurnAudioOffset returns the cumulative audio offset across
// concluded turns within one continuous recognition.
func (s *RequestSession) CurrentTurnAudioOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurnAudioOffset
}

// Phase returns the derived SessionState (§3).
func (s *RequestSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase transitions the derived SessionState. Components call this as
// they move through §4's sequencing; it performs no validation beyond what
// spec.md describes as guarded transitions, since those guards live in the
// calling components (ConnectionManager, Configurator, pump, dispatcher).
func (s *RequestSession) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// OnPreConnectionStart records the start of an auth+connect attempt.
func (s *RequestSession) OnPreConnectionStart(authFetchEventID, connectionID string) {
	s.telemetry.Record("connection.start", map[string]any{
		"authFetchEventId": authFetchEventID,
		"connectionId":     connectionID,
	})
}

// OnAuthCompleted records the outcome of an auth fetch.
func (s *RequestSession) OnAuthCompleted(failed bool, err error) {
	detail := map[string]any{"failed": failed}
	if err != nil {
		detail["error"] = err.Error()
	}
	s.telemetry.Record("auth.completed", detail)
}

// OnConnectionEstablishCompleted records the outcome of a transport open.
func (s *RequestSession) OnConnectionEstablishCompleted(status int, reason string) {
	detail := map[string]any{"status": status}
	if reason != "" {
		detail["reason"] = reason
	}
	s.telemetry.Record("connection.established", detail)
}

// OnAudioSourceAttachCompleted records that an audio source finished
// attaching, noting whether it was wrapped for replay.
func (s *RequestSession) OnAudioSourceAttachCompleted(nodeID string, isReplay bool) {
	s.telemetry.Record("audio.attach", map[string]any{"node": nodeID, "replay": isReplay})
}

// OnAudioSent adds n to the cumulative bytes-sent counter for the current
// request (§4.4).
func (s *RequestSession) OnAudioSent(n int) {
	s.mu.Lock()
	s.bytesSent += int64(n)
	first := s.bytesSent == int64(n)
	s.mu.Unlock()
	if first {
		s.telemetry.Record("audio.first", nil)
	}
}

// OnServiceRecognized advances CurrentTurnAudioOffset by offsetTicks; used
// only in continuous mode on speech.enddetected (§4.3, §4.6).
func (s *RequestSession) OnServiceRecognized(offsetTicks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTurnAudioOffset += offsetTicks
	s.telemetry.Record("speech.recognized", map[string]any{"offset": s.currentTurnAudioOffset})
}

// OnServiceTurnEndResponse implements the turn.end state transition of
// §4.3: in continuous mode, when speech has not ended, a new turn begins
// (fresh RequestID, per-turn counters reset, CurrentTurnAudioOffset
// retained); otherwise recognition stops. Returns the new turn's
// RequestID when a new turn began, or "" when recognition stopped.
func (s *RequestSession) OnServiceTurnEndResponse(continuous bool) (newRequestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.telemetry.Record("turn.end", nil)

	if continuous && !s.isSpeechEnded {
		s.requestID = ids.New()
		s.bytesSent = 0
		s.phase = Configuring
		return s.requestID
	}

	s.isRecognizing = false
	s.phase = Draining
	return ""
}

// OnSpeechEnded marks that the audio stream has signaled end-of-stream.
func (s *RequestSession) OnSpeechEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSpeechEnded = true
}

// OnStopRecognizing marks the session stopped, independent of turn.end
// bookkeeping (used by SessionController.stopRecognizing/cancelLocal).
func (s *RequestSession) OnStopRecognizing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRecognizing = false
	s.phase = Terminated
}

// ListenForServiceTelemetry records a forwarded transport event by name.
func (s *RequestSession) ListenForServiceTelemetry(eventName string, detail map[string]any) {
	s.telemetry.Record("transport."+eventName, detail)
}

// GetTelemetry returns the serialized telemetry payload and clears the
// buffer, or (nil, false) when there is nothing to flush (§6 "empty
// flushes are suppressed").
func (s *RequestSession) GetTelemetry() ([]byte, bool) {
	return s.telemetry.MarshalFlush()
}
