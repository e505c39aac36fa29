// Package events carries the structured records the engine emits for a
// presentation layer: resolution outcomes, tier decisions, previews, per-action
// results, run control notices and gate explanations.
package events

import (
	"sync"
	"time"
)

// Type names an engine event.
type Type string

const (
	Resolution      Type = "resolution"
	TierDecision    Type = "tier_decision"
	Preview         Type = "preview"
	ActionStarted   Type = "action_started"
	ActionSucceeded Type = "action_succeeded"
	ActionFailed    Type = "action_failed"
	ActionSkipped   Type = "action_skipped"
	PolicyBlocked   Type = "policy_blocked"
	AwaitingChoice  Type = "awaiting_choice"
	AwaitingConfirm Type = "awaiting_confirm"
	Guided          Type = "guided"
	GateDetected    Type = "gate_detected"
	ContextMismatch Type = "context_mismatch"
	Paused          Type = "paused"
	Resumed         Type = "resumed"
	Stopped         Type = "stopped"
	Completed       Type = "completed"
	Halted          Type = "halted"
	Notice          Type = "notice"
)

// Event is one structured record. Message is user-facing; Data carries the
// machine-readable detail.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	StepIndex int            `json:"step_index"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller for long.
type Sink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(evt Event) { f(evt) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(evt Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(evt)
		}
	}
}

// DefaultBufferSize is the per-session capacity of a Buffer.
const DefaultBufferSize = 256

// Buffer keeps the most recent events per session in memory.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	sessions map[string][]Event
}

// NewBuffer creates a buffer holding up to capacity events per session.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{capacity: capacity, sessions: make(map[string][]Event)}
}

func (b *Buffer) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.sessions[evt.SessionID], evt)
	if len(list) > b.capacity {
		list = append([]Event(nil), list[len(list)-b.capacity:]...)
	}
	b.sessions[evt.SessionID] = list
}

// Recent returns up to limit events for session, oldest first.
func (b *Buffer) Recent(sessionID string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.sessions[sessionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Event, limit)
	copy(out, list[len(list)-limit:])
	return out
}

// Clear drops the events of a session.
func (b *Buffer) Clear(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}
