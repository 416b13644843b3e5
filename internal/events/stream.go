package events

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// StreamObserver renders events as single [EVENT] lines on a writer,
// typically stderr, so automation can follow the workflow without parsing
// the --json envelope.
type StreamObserver struct {
	out   io.Writer
	mu    sync.Mutex
	color bool
}

// StreamOption configures a StreamObserver.
type StreamOption func(*StreamObserver)

// WithColor forces color output on or off instead of auto-detecting a TTY.
func WithColor(enabled bool) StreamOption {
	return func(s *StreamObserver) { s.color = enabled }
}

// NewStreamObserver creates an observer that writes to out. Color is enabled
// automatically when out is a terminal.
func NewStreamObserver(out io.Writer, opts ...StreamOption) *StreamObserver {
	s := &StreamObserver{out: out, color: isTerminal(out)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe is the Observer function to subscribe on a Bus.
func (s *StreamObserver) Observe(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label := string(event.Type)
	if s.color {
		label = colorFor(event.Type) + label + "\x1b[0m"
	}

	fmt.Fprintf(s.out, "[EVENT] %s", label)
	if event.Phase != "" {
		fmt.Fprintf(s.out, " phase=%s", event.Phase)
	}
	if event.Iteration > 0 {
		fmt.Fprintf(s.out, " iteration=%d", event.Iteration)
	}
	if event.ArtifactPath != "" {
		fmt.Fprintf(s.out, " path=%s", event.ArtifactPath)
	}
	fmt.Fprintln(s.out)
}

func colorFor(t Type) string {
	switch t {
	case WorkflowCompleted, ApprovalGranted, ArtifactApproved:
		return "\x1b[32m" // green
	case WorkflowFailed:
		return "\x1b[31m" // red
	case ApprovalRequired:
		return "\x1b[33m" // yellow
	default:
		return "\x1b[36m" // cyan
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
