// Package telemetry accumulates per-recognition phase timings and observed
// transport events into the JSON document flushed on turn.end and cancel
// (§3 "Telemetry accumulator", §6 "Telemetry payload").
//
// This replaces the source's global, process-wide telemetryData /
// telemetryDataEnabled hook (see spec.md §9 "Global mutable telemetry
// hook") with an injectable, per-core accumulator: the core holds no
// process-global state.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is a single named occurrence with a timestamp, used both for phase
// markers (auth start/end, connection start/end, first audio, phrase
// received) and for forwarded transport events.
type Event struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Accumulator collects events for one recognition and serializes them into
// a flush-and-clear payload. Safe for concurrent use by the upstream pump
// and downstream dispatcher.
type Accumulator struct {
	mu     sync.Mutex
	events []Event
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Record appends a named event with optional structured detail.
func (a *Accumulator) Record(name string, detail map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, Event{Name: name, Timestamp: now(), Detail: detail})
}

// now is a seam so tests can avoid real wall-clock timestamps if ever
// needed; production always uses time.Now.
var now = time.Now

// Payload is the JSON-serializable telemetry summary (§6).
type Payload struct {
	Events []Event `json:"events"`
}

// Flush returns the accumulated events as a Payload and clears the buffer,
// or returns (nil, false) when there is nothing to report — empty flushes
// are suppressed per §6.
func (a *Accumulator) Flush() (*Payload, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return nil, false
	}
	p := &Payload{Events: a.events}
	a.events = nil
	return p, true
}

// MarshalFlush flushes and serializes to JSON in one step, returning
// (nil, false) when the flush was empty.
func (a *Accumulator) MarshalFlush() ([]byte, bool) {
	p, ok := a.Flush()
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, false
	}
	return b, true
}
