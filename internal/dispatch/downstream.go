// Package dispatch implements DownstreamDispatcher (C7): the receive loop
// that reads framed messages from the connection and dispatches protocol
// control messages, delegating anything else to a capability hook
// (spec.md §4.6, §4.8).
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sttcore/session/internal/cancel"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

// Sink receives the events the dispatcher emits directly (§4.6): speech
// boundary detection and session-stopped. sessionStarted is emitted by
// SessionController, not here.
type Sink interface {
	SpeechStartDetected(sessionID string, offset int64)
	SpeechEndDetected(sessionID string, offset int64)
	SessionStopped(sessionID string)
}

// Canceler issues a local cancellation (§4.7 cancelRecognitionLocal).
type Canceler interface {
	CancelRecognitionLocal(ctx context.Context, info cancel.Info)
}

// MessageHandler is the subclass hook of §4.8
// (processTypeSpecificMessages): the sole extension point for downstream
// paths this dispatcher does not itself understand.
type MessageHandler interface {
	HandleMessage(ctx context.Context, frame protocol.Frame) error
}

// Reconfigurer re-obtains a configured connection, re-sending
// speech.config (if needed) and speech.context. SessionController builds
// it from Configurator.Reset followed by Configurator.Configure.
type Reconfigurer func(ctx context.Context) (transport.Connection, error)

// Acknowledger drops already-sent audio the service has confirmed receipt
// of, so a reconnect's replay window (internal/audio/replayable.go) only
// resends what hasn't been acknowledged yet (§4.5). offsetBytes is the
// number of additional bytes acknowledged since the previous call, not a
// running total.
type Acknowledger interface {
	Acknowledge(offsetBytes int64)
}

// Dispatcher drives one recognition's downstream receive loop.
type Dispatcher struct {
	conn          transport.Connection
	sess          *session.RequestSession
	continuous    bool
	sink          Sink
	canceler      Canceler
	handler       MessageHandler
	reconfigure   Reconfigurer
	cfg           protocol.RecognizerConfig
	acker         Acknowledger
	mustReportEOS bool
	bytesAcked    int64
}

// New builds a DownstreamDispatcher bound to an already-configured
// connection. handler may be nil, in which case unrecognized paths are
// silently ignored. acker may be nil, in which case speech.enddetected
// acknowledgments are not forwarded to the replay buffer.
func New(conn transport.Connection, sess *session.RequestSession, continuous bool, sink Sink, canceler Canceler, handler MessageHandler, reconfigure Reconfigurer, cfg protocol.RecognizerConfig, acker Acknowledger) *Dispatcher {
	return &Dispatcher{
		conn:        conn,
		sess:        sess,
		continuous:  continuous,
		sink:        sink,
		canceler:    canceler,
		handler:     handler,
		reconfigure: reconfigure,
		cfg:         cfg,
		acker:       acker,
	}
}

// Run reads and dispatches messages until the turn (single-shot) or
// session (continuous) ends, or the session is no longer recognizing.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if !d.sess.IsRecognizing() {
			return nil
		}

		frame, err := d.conn.Read(ctx)
		if err != nil {
			if d.sess.IsSpeechEnded() {
				return nil
			}
			return fmt.Errorf("dispatch: read: %w", err)
		}

		if frame == nil {
			// A nil frame signals the transport is draining (§4.6
			// "Draining"). Preserve the open question's resolution:
			// recurse while still recognizing, stop otherwise.
			if d.sess.IsRecognizing() {
				continue
			}
			return nil
		}

		if !strings.EqualFold(frame.RequestID, d.sess.RequestID()) {
			continue
		}

		done, err := d.dispatch(ctx, *frame)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// dispatch handles one frame. Returns done=true when the loop should
// resolve (session or turn has concluded).
func (d *Dispatcher) dispatch(ctx context.Context, frame protocol.Frame) (done bool, err error) {
	switch strings.ToLower(frame.Path) {
	case protocol.PathTurnStart:
		d.mustReportEOS = true
		return false, nil

	case protocol.PathSpeechStartDetected:
		ob, err := protocol.ParseOffsetBody(frame.Body)
		if err != nil {
			return false, fmt.Errorf("dispatch: parsing speech.startdetected: %w", err)
		}
		d.sink.SpeechStartDetected(d.sess.SessionID(), ob.Offset)
		return false, nil

	case protocol.PathSpeechEndDetected:
		ob, err := protocol.ParseOffsetBody(frame.Body)
		if err != nil {
			return false, fmt.Errorf("dispatch: parsing speech.enddetected: %w", err)
		}
		absolute := ob.Offset
		if d.continuous {
			d.sess.OnServiceRecognized(ob.Offset)
			absolute = d.sess.CurrentTurnAudioOffset()
		}
		d.acknowledge(absolute)
		d.sink.SpeechEndDetected(d.sess.SessionID(), absolute)
		return false, nil

	case protocol.PathTurnEnd:
		return d.onTurnEnd(ctx)

	default:
		if d.handler == nil {
			return false, nil
		}
		if err := d.handler.HandleMessage(ctx, frame); err != nil {
			return false, fmt.Errorf("dispatch: handling path %s: %w", frame.Path, err)
		}
		return false, nil
	}
}

// onTurnEnd implements §4.6's turn.end branch, explicitly not falling
// through to the subclass hook (§9 open question 1: treat turn.end as
// terminal-for-dispatch).
func (d *Dispatcher) onTurnEnd(ctx context.Context) (bool, error) {
	d.flushTelemetry(ctx)

	if d.sess.IsSpeechEnded() && d.mustReportEOS {
		d.mustReportEOS = false
		d.canceler.CancelRecognitionLocal(ctx, cancel.Info{Reason: cancel.ReasonEndOfStream, Code: cancel.CodeNoError})
	}

	d.sess.OnServiceTurnEndResponse(d.continuous)

	if !d.continuous || d.sess.IsSpeechEnded() {
		d.sink.SessionStopped(d.sess.SessionID())
		return true, nil
	}

	conn, err := d.reconfigure(ctx)
	if err != nil {
		return false, fmt.Errorf("dispatch: re-configuring for next turn: %w", err)
	}
	d.conn = conn
	return false, nil
}

// acknowledge converts a cumulative tick offset into bytes and forwards
// only the newly-acknowledged delta to the replay buffer (§4.5), since
// ReplayableAudioSource.Acknowledge drops bytes relative to its current
// buffered window rather than an absolute stream position.
func (d *Dispatcher) acknowledge(offsetTicks int64) {
	if d.acker == nil {
		return
	}
	ackBytes := protocol.TicksToBytes(offsetTicks, d.cfg.Audio.AvgBytesPerSec)
	delta := ackBytes - d.bytesAcked
	if delta <= 0 {
		return
	}
	d.acker.Acknowledge(delta)
	d.bytesAcked = ackBytes
}

// flushTelemetry sends the accumulated telemetry as a Text frame on path
// "telemetry" (§6 outbound paths), suppressing empty flushes (§6).
func (d *Dispatcher) flushTelemetry(ctx context.Context) {
	body, ok := d.sess.GetTelemetry()
	if !ok {
		return
	}
	d.conn.Send(ctx, protocol.Frame{
		Kind:        protocol.Text,
		Path:        protocol.PathTelemetry,
		RequestID:   d.sess.RequestID(),
		ContentType: protocol.ContentTypeJSON,
		Body:        body,
	})
}
