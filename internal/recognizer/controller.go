// Package recognizer implements SessionController (C8): the public
// recognize/stop/connect/disconnect surface that sequences
// ConnectionManager, Configurator, the upstream pump, and the downstream
// dispatcher (spec.md §4.7).
package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sttcore/session/internal/audio"
	"github.com/sttcore/session/internal/cancel"
	"github.com/sttcore/session/internal/configure"
	"github.com/sttcore/session/internal/connection"
	"github.com/sttcore/session/internal/dispatch"
	"github.com/sttcore/session/internal/logging"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/internal/pump"
	"github.com/sttcore/session/internal/session"
	"github.com/sttcore/session/pkg/transport"
)

// Controller is the session core: one per logical recognition client,
// reused across recognize() calls the way RequestSession is (§3
// "Lifecycle").
type Controller struct {
	sess         *session.RequestSession
	cfg          protocol.RecognizerConfig
	conns        *connection.Manager
	configurator *configure.Configurator
	builder      *protocol.DynamicGrammarBuilder
	log          logging.Logger

	onEvent  OnEventFunc
	onCancel OnCancelFunc
	handler  dispatch.MessageHandler

	mu         sync.Mutex
	disposed   bool
	activeConn transport.Connection
	replayable *audio.Replayable
}

// OnEventFunc receives the lifecycle events of events.go.
type OnEventFunc func(Event)

// OnCancelFunc receives the cancellation info of cancelRecognitionLocal
// (§4.7), the structured counterpart to a recognizer subtype's
// cancelRecognition mapping. It is distinct from OnEventFunc: a
// cancellation during normal end-of-stream does not by itself imply a
// second sessionStopped event, since the dispatcher already emits one.
type OnCancelFunc func(cancel.Info)

// New builds a SessionController. handler implements §4.8's subclass
// hook. With a nil handler, Recognize uses a PassthroughHandler that
// forwards every delegated frame to its onResult callback.
func New(audioSourceID string, cfg protocol.RecognizerConfig, factory transport.Factory, authn connectionAuthenticator, builder *protocol.DynamicGrammarBuilder, handler dispatch.MessageHandler, onEvent OnEventFunc, onCancel OnCancelFunc, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop{}
	}
	sess := session.New(audioSourceID)
	conns := connection.NewManager(factory, authn, cfg, log)
	configurator := configure.NewConfigurator(conns, cfg)
	return &Controller{
		sess:         sess,
		cfg:          cfg,
		conns:        conns,
		onCancel:     onCancel,
		configurator: configurator,
		builder:      builder,
		handler:      handler,
		onEvent:      onEvent,
		log:          log,
	}
}

// connectionAuthenticator mirrors auth.Authenticator without importing the
// auth package, so callers can supply any compatible implementation.
type connectionAuthenticator interface {
	Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error)
	FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error)
}

// Recognize drives one end-to-end recognition: resets the configured-
// connection cache, starts a new recognition, attaches the audio source
// (wrapped for replay), configures the connection, and runs the upstream
// pump and downstream dispatcher concurrently until both complete (§4.7).
func (c *Controller) Recognize(ctx context.Context, source audio.Source, onResult OnResultFunc, onError OnErrorFunc) (bool, error) {
	c.conns.Reset()
	c.configurator.Reset()

	c.sess.StartNewRecognition()

	windowBytes := c.cfg.Audio.AvgBytesPerSec * c.cfg.TransmitLengthBeforeThrottle() / 1000
	replayable := audio.NewReplayable(source, windowBytes)
	c.mu.Lock()
	c.replayable = replayable
	c.mu.Unlock()

	device := replayable.DeviceInfo()
	c.sess.OnAudioSourceAttachCompleted(c.sess.AudioSourceID(), device.Replay)

	handler := c.handler
	if handler == nil {
		handler = NewPassthroughHandler(c.sess.SessionID(), onResult)
	}

	conn, err := c.configurator.Configure(ctx, c.sess, c.builder, device)
	if err != nil {
		info := cancel.Info{Reason: cancel.ReasonError, Code: cancel.CodeConnectionFailure, Err: err}
		c.CancelRecognitionLocal(ctx, info)
		if onError != nil {
			onError(err)
		}
		return false, fmt.Errorf("recognizer: configure failed: %w", err)
	}

	c.mu.Lock()
	c.activeConn = conn
	c.mu.Unlock()

	c.emit(Event{Name: EventSessionStarted, SessionID: c.sess.SessionID()})

	fetch := func(ctx context.Context) (transport.Connection, error) {
		conn, err := c.configurator.Configure(ctx, c.sess, c.builder, device)
		if err == nil {
			c.mu.Lock()
			c.activeConn = conn
			c.mu.Unlock()
		}
		return conn, err
	}

	// A new turn needs its own speech.context, so the dispatcher's
	// reconfigure drops the cached configured connection first.
	reconfigure := func(ctx context.Context) (transport.Connection, error) {
		c.configurator.Reset()
		return fetch(ctx)
	}

	upstream := pump.New(replayable, c.sess, fetch, c.cfg, c.isDisposed)
	downstream := dispatch.New(conn, c.sess, c.cfg.Continuous, c, c, handler, reconfigure, c.cfg, replayable)

	var wg sync.WaitGroup
	var pumpErr, dispatchErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		pumpErr = upstream.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatchErr = downstream.Run(ctx)
	}()
	wg.Wait()

	if pumpErr != nil {
		c.CancelRecognitionLocal(ctx, cancel.Info{Reason: cancel.ReasonError, Code: cancel.CodeRuntimeError, Err: pumpErr})
		if onError != nil {
			onError(pumpErr)
		}
		return false, pumpErr
	}
	if dispatchErr != nil {
		c.CancelRecognitionLocal(ctx, cancel.Info{Reason: cancel.ReasonError, Code: cancel.CodeRuntimeError, Err: dispatchErr})
		if onError != nil {
			onError(dispatchErr)
		}
		return false, dispatchErr
	}
	return true, nil
}

// StopRecognizing marks the session stopped (phase Terminated), flushes
// telemetry, and sends a final empty-audio frame on the active connection
// (§4.7). The connection itself stays open.
func (c *Controller) StopRecognizing(ctx context.Context) {
	if !c.sess.IsRecognizing() {
		return
	}
	c.sess.OnStopRecognizing()

	c.mu.Lock()
	conn := c.activeConn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	if body, ok := c.sess.GetTelemetry(); ok {
		conn.Send(ctx, protocol.Frame{
			Kind:        protocol.Text,
			Path:        protocol.PathTelemetry,
			RequestID:   c.sess.RequestID(),
			ContentType: protocol.ContentTypeJSON,
			Body:        body,
		})
	}
	conn.Send(ctx, protocol.Frame{Kind: protocol.Binary, Path: protocol.PathAudio, RequestID: c.sess.RequestID()})
}

// Connect force-establishes the connection eagerly, with no audio
// attached yet (§4.7).
func (c *Controller) Connect(ctx context.Context) (transport.Connection, error) {
	conn, err := c.conns.Connect(ctx, c.sess)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.activeConn = conn
	c.mu.Unlock()
	return conn, nil
}

// Disconnect issues a local cancellation with NoError/"Disconnecting" and
// disposes the stored connection (§4.7).
func (c *Controller) Disconnect(ctx context.Context) {
	c.CancelRecognitionLocal(ctx, cancel.Info{Reason: cancel.ReasonNoError, Message: "Disconnecting"})

	c.mu.Lock()
	conn := c.activeConn
	c.activeConn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Dispose()
	}
}

// CancelRecognitionLocal implements dispatch.Canceler: if recognizing,
// mark stopped, flush telemetry, and report the cancellation (§4.7).
func (c *Controller) CancelRecognitionLocal(ctx context.Context, info cancel.Info) {
	if c.sess.IsRecognizing() {
		c.sess.OnStopRecognizing()
		c.mu.Lock()
		conn := c.activeConn
		c.mu.Unlock()
		if conn != nil {
			if body, ok := c.sess.GetTelemetry(); ok {
				conn.Send(ctx, protocol.Frame{
					Kind:        protocol.Text,
					Path:        protocol.PathTelemetry,
					RequestID:   c.sess.RequestID(),
					ContentType: protocol.ContentTypeJSON,
					Body:        body,
				})
			}
		}
	}
	c.log.Infof("recognizer: local cancellation reason=%s code=%s message=%s", info.Reason, info.Code, info.Message)
	if c.onCancel != nil {
		c.onCancel(info)
	}
}

// Phase returns the session's derived lifecycle phase (§3).
func (c *Controller) Phase() session.Phase {
	return c.sess.Phase()
}

// Dispose marks the core disposed; any in-flight pump/dispatcher notice at
// their next checkpoint.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.disposed = true
	conn := c.activeConn
	c.mu.Unlock()
	c.sess.OnStopRecognizing()
	if conn != nil {
		conn.Dispose()
	}
}

func (c *Controller) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// SpeechStartDetected implements dispatch.Sink.
func (c *Controller) SpeechStartDetected(sessionID string, offset int64) {
	c.emit(Event{Name: EventSpeechStartDetected, SessionID: sessionID, Offset: offset})
}

// SpeechEndDetected implements dispatch.Sink.
func (c *Controller) SpeechEndDetected(sessionID string, offset int64) {
	c.emit(Event{Name: EventSpeechEndDetected, SessionID: sessionID, Offset: offset})
}

// SessionStopped implements dispatch.Sink.
func (c *Controller) SessionStopped(sessionID string) {
	c.emit(Event{Name: EventSessionStopped, SessionID: sessionID})
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
