// Package events provides the workflow event types and the synchronous
// fan-out bus that delivers them to subscribed observers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a workflow event.
type Type string

const (
	// PhaseEntered fires when the session enters a new phase.
	PhaseEntered Type = "PHASE_ENTERED"
	// ArtifactCreated fires when the engine writes a prompt, response, or
	// code file.
	ArtifactCreated Type = "ARTIFACT_CREATED"
	// ArtifactApproved fires after an approved response has been hashed and
	// its write plan materialized.
	ArtifactApproved Type = "ARTIFACT_APPROVED"
	// ApprovalRequired fires when the workflow suspends waiting for a human.
	ApprovalRequired Type = "APPROVAL_REQUIRED"
	// ApprovalGranted fires when an approval gate passes.
	ApprovalGranted Type = "APPROVAL_GRANTED"
	// WorkflowCompleted fires when the session reaches COMPLETE or CANCELLED.
	WorkflowCompleted Type = "WORKFLOW_COMPLETED"
	// WorkflowFailed fires when a run-time error is recorded on the session.
	WorkflowFailed Type = "WORKFLOW_FAILED"
	// IterationStarted fires when the review verdict sends the session into
	// a new revision iteration.
	IterationStarted Type = "ITERATION_STARTED"
)

// ValidTypes returns all event types.
func ValidTypes() []Type {
	return []Type{
		PhaseEntered, ArtifactCreated, ArtifactApproved, ApprovalRequired,
		ApprovalGranted, WorkflowCompleted, WorkflowFailed, IterationStarted,
	}
}

// Event is a single workflow occurrence.
type Event struct {
	Type         Type           `json:"type"`
	SessionID    string         `json:"sessionId"`
	Time         time.Time      `json:"timestamp"`
	Phase        string         `json:"phase,omitempty"`
	Iteration    int            `json:"iteration,omitempty"`
	ArtifactPath string         `json:"artifactPath,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// New creates an event stamped with the current time.
func New(t Type, sessionID string) Event {
	return Event{Type: t, SessionID: sessionID, Time: time.Now().UTC()}
}

// Emitter is the narrow surface the orchestrator publishes through.
type Emitter interface {
	Emit(Event)
}

// Observer receives events. Observers run synchronously on the emitting
// goroutine and must not block for long.
type Observer func(Event)

type subscription struct {
	id    int
	fn    Observer
	types map[Type]bool // nil means all types
}

// Bus is an in-memory emitter that fans events out to observers in
// subscription order. Delivery is best-effort: a panicking observer is
// logged and skipped, and never prevents delivery to later observers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers an observer for the given event types, or for all
// events when no types are given. The returned function cancels the
// subscription.
func (b *Bus) Subscribe(fn Observer, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every matching observer, in order.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		b.deliver(sub, event)
	}
}

// deliver invokes one observer, isolating panics so a broken observer
// cannot take down the workflow.
func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked",
				"type", event.Type, "sessionId", event.SessionID, "panic", r)
		}
	}()
	sub.fn(event)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(Event) {}
