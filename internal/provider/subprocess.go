package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aiwf/aiwf/internal/errors"
)

// stderrTailLimit bounds how much stderr is folded into an error message.
const stderrTailLimit = 2048

// Subprocess runs a configured command with the prompt on stdin and treats
// stdout as the response. The command is an argv slice, never a shell line.
type Subprocess struct {
	argv              []string
	connectionTimeout *int
	responseTimeout   *int
	fsAbility         string
}

// NewSubprocess returns a subprocess provider for the given argv.
func NewSubprocess(argv []string, opts ...SubprocessOption) (*Subprocess, error) {
	if len(argv) == 0 {
		return nil, errors.ErrConfigInvalid("command", "subprocess provider needs a non-empty argv")
	}
	s := &Subprocess{argv: argv, fsAbility: FSNone}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubprocessOption configures a Subprocess.
type SubprocessOption func(*Subprocess)

// WithResponseTimeout sets the response timeout in seconds.
func WithResponseTimeout(seconds int) SubprocessOption {
	return func(s *Subprocess) { s.responseTimeout = &seconds }
}

// WithConnectionTimeout sets the process-start timeout in seconds.
func WithConnectionTimeout(seconds int) SubprocessOption {
	return func(s *Subprocess) { s.connectionTimeout = &seconds }
}

func newSubprocessFromConfig(cfg map[string]any) (ResponseProvider, error) {
	rawCmd, ok := cfg["command"].([]any)
	if !ok || len(rawCmd) == 0 {
		return nil, errors.ErrConfigInvalid("command", "subprocess provider needs a non-empty \"command\" list")
	}
	argv := make([]string, 0, len(rawCmd))
	for _, v := range rawCmd {
		s, ok := v.(string)
		if !ok {
			return nil, errors.ErrConfigInvalid("command", "command entries must be strings")
		}
		argv = append(argv, s)
	}

	var opts []SubprocessOption
	if n, ok := intFromConfig(cfg["responseTimeout"]); ok {
		opts = append(opts, WithResponseTimeout(n))
	}
	if n, ok := intFromConfig(cfg["connectionTimeout"]); ok {
		opts = append(opts, WithConnectionTimeout(n))
	}
	return NewSubprocess(argv, opts...)
}

// intFromConfig accepts the numeric shapes YAML decoding produces.
func intFromConfig(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (s *Subprocess) Metadata() Metadata {
	return Metadata{
		Name:              "subprocess",
		ConnectionTimeout: s.connectionTimeout,
		ResponseTimeout:   s.responseTimeout,
		FSAbility:         s.fsAbility,
	}
}

// Validate checks the command binary is on PATH.
func (s *Subprocess) Validate(_ context.Context) error {
	if _, err := exec.LookPath(s.argv[0]); err != nil {
		return fmt.Errorf("command %q not found: %w", s.argv[0], err)
	}
	return nil
}

func (s *Subprocess) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	runCtx, cancel := timeoutContext(ctx, req.ResponseTimeout)
	defer cancel()

	// No dedicated system-prompt flag on an arbitrary command, so the
	// system prompt is prepended to the stdin payload.
	input := req.Prompt
	if req.SystemPrompt != "" {
		input = req.SystemPrompt + "\n\n" + req.Prompt
	}

	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		seconds := 0
		if req.ResponseTimeout != nil {
			seconds = *req.ResponseTimeout
		}
		return nil, errors.ErrTimeout(fmt.Sprintf("subprocess %q", s.argv[0]), seconds)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s", err, stderrTail(stderr.Bytes()))
	}
	return &GenerateResult{ResponseText: stdout.String()}, nil
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTailLimit {
		s = s[len(s)-stderrTailLimit:]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
