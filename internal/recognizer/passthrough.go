package recognizer

import (
	"context"

	"github.com/sttcore/session/internal/protocol"
)

// OnResultFunc and OnErrorFunc are the recognize() callbacks of §4.7.
type OnResultFunc func(Result)
type OnErrorFunc func(error)

// PassthroughHandler is the default MessageHandler (§4.8, §9 "Abstract
// class + subclass hook" redesign note: the extension point is a strategy
// injected into the core, not inheritance). It forwards every
// unrecognized path straight to onResult without type-specific parsing,
// suitable for a generic STT/translation-agnostic core; recognizer
// subtypes needing speech.phrase/translation.phrase semantics supply their
// own MessageHandler instead.
type PassthroughHandler struct {
	SessionID string
	OnResult  OnResultFunc
}

// NewPassthroughHandler builds a MessageHandler that reports every
// delegated frame as a Result.
func NewPassthroughHandler(sessionID string, onResult OnResultFunc) *PassthroughHandler {
	return &PassthroughHandler{SessionID: sessionID, OnResult: onResult}
}

func (h *PassthroughHandler) HandleMessage(ctx context.Context, frame protocol.Frame) error {
	if h.OnResult != nil {
		h.OnResult(Result{SessionID: h.SessionID, Path: frame.Path, Body: frame.Body})
	}
	return nil
}
