// Package pump implements UpstreamPump (C6): the read-and-upload loop that
// sends captured audio upstream with fast-lane/throttled pacing and
// reconnect-safe scheduling (spec.md §4.4).
package pump

import (
	"context"
	"fmt"
	"time"

	"github.com/sttcore/session/internal/audio"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

// ConnectionFetcher is the fetchConnection() helper of §4.4 — under the
// hood this is Configurator.Configure, re-invoked every cycle so a
// transparently-redialed connection gets speech.config/speech.context
// re-sent before the next chunk is sent.
type ConnectionFetcher func(ctx context.Context) (transport.Connection, error)

// Pump drives one recognition's upstream send loop.
type Pump struct {
	source  *audio.Replayable
	sess    *session.RequestSession
	fetch   ConnectionFetcher
	cfg     protocol.RecognizerConfig
	sleeper func(d time.Duration)

	// disposed is checked at the top of every cycle (§4.4 "Termination
	// conditions": the core is disposed).
	disposed func() bool
}

// New builds an UpstreamPump. disposed reports whether the owning core has
// been torn down; sleeper defaults to time.Sleep and is overridable for
// tests.
func New(source *audio.Replayable, sess *session.RequestSession, fetch ConnectionFetcher, cfg protocol.RecognizerConfig, disposed func() bool) *Pump {
	return &Pump{source: source, sess: sess, fetch: fetch, cfg: cfg, disposed: disposed, sleeper: time.Sleep}
}

// Run executes the read-and-upload cycle until EOS, supersession,
// disposal, or an unrecoverable error. startRecogNumber is captured once
// at pump start (§3 invariant: "recogNumber captured at pump start").
func (p *Pump) Run(ctx context.Context) error {
	startRecogNumber := p.sess.RecogNumber()
	maxUnthrottled := int64(p.cfg.Audio.AvgBytesPerSec) * int64(p.cfg.TransmitLengthBeforeThrottle()) / 1000

	var lastConnID string

	for {
		if p.shouldStop(startRecogNumber) {
			return nil
		}

		conn, err := p.fetch(ctx)
		if err != nil {
			return fmt.Errorf("pump: fetching configured connection: %w", err)
		}

		// fetchConnection() transparently re-dials on a detected disconnect
		// (Configurator.Configure); a changed connection id means the
		// service may have lost audio sent on the previous connection, so
		// replay the buffered window before sending anything new (§4.4
		// "Reconnect behavior", §4.5).
		if lastConnID != "" && conn.ID() != lastConnID {
			p.source.Rewind()
		}
		lastConnID = conn.ID()

		chunk, err := p.source.Read(ctx)
		if err != nil {
			if p.sess.IsSpeechEnded() {
				return nil
			}
			return fmt.Errorf("pump: reading audio chunk: %w", err)
		}

		if chunk.IsEnd {
			if err := conn.Send(ctx, protocol.Frame{Kind: protocol.Binary, Path: protocol.PathAudio, RequestID: p.sess.RequestID()}); err != nil {
				return fmt.Errorf("pump: sending end-of-stream frame: %w", err)
			}
			p.sess.OnSpeechEnded()
			return nil
		}

		if err := conn.Send(ctx, protocol.Frame{
			Kind:      protocol.Binary,
			Path:      protocol.PathAudio,
			RequestID: p.sess.RequestID(),
			Body:      chunk.Data,
		}); err != nil {
			return fmt.Errorf("pump: sending audio chunk: %w", err)
		}
		p.sess.OnAudioSent(len(chunk.Data))

		if p.source.Realtime() {
			continue
		}

		delay := p.nextDelay(maxUnthrottled, int64(len(chunk.Data)))
		if delay > 0 {
			p.sleeper(delay)
		}
	}
}

// nextDelay implements §4.4's pacing formula. While bytesSent is within the
// fast-lane budget, sends are unthrottled (zero delay). Afterwards, target
// twice real-time: nextSendTime = now + (L*1000)/(avgBytesPerSec*2); the
// factor of 2 is deliberate (§9 open question: preserve for compatibility).
func (p *Pump) nextDelay(maxUnthrottled, sentLen int64) time.Duration {
	if p.sess.BytesSent() <= maxUnthrottled {
		return 0
	}
	avg := int64(p.cfg.Audio.AvgBytesPerSec)
	if avg <= 0 {
		return 0
	}
	millis := (sentLen * 1000) / (avg * 2)
	if millis <= 0 {
		return 0
	}
	return time.Duration(millis) * time.Millisecond
}

// shouldStop checks the four termination conditions of §4.4 at the top of
// each cycle.
func (p *Pump) shouldStop(startRecogNumber int64) bool {
	if p.disposed != nil && p.disposed() {
		return true
	}
	if p.sess.IsSpeechEnded() {
		return true
	}
	if !p.sess.IsRecognizing() {
		return true
	}
	if p.sess.RecogNumber() != startRecogNumber {
		return true
	}
	return false
}
