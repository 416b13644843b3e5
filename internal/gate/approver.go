// Package gate runs the approval gate after every content-producing action:
// it collects the evaluation inputs, invokes the configured approver, and
// turns the verdict into a continuation the orchestrator interprets.
package gate

import (
	"context"
	"sort"
	"sync"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
)

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionPending  Decision = "PENDING"
)

// Result is what an approver returns. Feedback and SuggestedContent are
// optional.
type Result struct {
	Decision         Decision
	Feedback         string
	SuggestedContent string
}

// Request carries the evaluation inputs to an approver. Files maps
// session-relative paths to contents; a nil content marks a file that should
// exist but does not, which an approver may treat as a signal.
type Request struct {
	Phase   session.Phase
	Stage   session.Stage
	Files   map[string]*string
	Context map[string]any
}

// Approver evaluates one gate.
type Approver interface {
	Name() string
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Registry maps approver keys to approvers.
type Registry struct {
	mu        sync.RWMutex
	approvers map[string]Approver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{approvers: make(map[string]Approver)}
}

// Register adds an approver under its name. Later registrations win.
func (r *Registry) Register(a Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvers[a.Name()] = a
}

// Get resolves an approver by key.
func (r *Registry) Get(key string) (Approver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.approvers[key]
	if !ok {
		return nil, errors.ErrProviderNotFound(key)
	}
	return a, nil
}

// Keys returns the registered approver keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.approvers))
	for k := range r.approvers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the current approver map for later Restore.
func (r *Registry) Snapshot() map[string]Approver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]Approver, len(r.approvers))
	for k, v := range r.approvers {
		snap[k] = v
	}
	return snap
}

// Restore replaces the approver map with a snapshot.
func (r *Registry) Restore(snap map[string]Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvers = make(map[string]Approver, len(snap))
	for k, v := range snap {
		r.approvers[k] = v
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

func init() {
	defaultRegistry.Register(skipApprover{})
	defaultRegistry.Register(manualApprover{})
}

// skipApprover approves everything. Used when a gate is formality.
type skipApprover struct{}

func (skipApprover) Name() string { return "skip" }

func (skipApprover) Evaluate(_ context.Context, _ Request) (Result, error) {
	return Result{Decision: DecisionApproved}, nil
}

// manualApprover always defers to a human.
type manualApprover struct{}

func (manualApprover) Name() string { return "manual" }

func (manualApprover) Evaluate(_ context.Context, _ Request) (Result, error) {
	return Result{Decision: DecisionPending}, nil
}
