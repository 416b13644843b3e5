package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aiwf/aiwf/internal/errors"
)

// Static serves canned responses, used in demos and tests. Responses are
// keyed by phase name (PLAN, GENERATE, REVIEW, REVISE); a "default" entry
// backstops any phase without its own response.
type Static struct {
	responses map[string]string
}

// NewStatic returns a static provider serving the given responses. Keys are
// upper-cased on lookup.
func NewStatic(responses map[string]string) *Static {
	norm := make(map[string]string, len(responses))
	for k, v := range responses {
		norm[strings.ToUpper(k)] = v
	}
	return &Static{responses: norm}
}

func newStaticFromConfig(cfg map[string]any) (ResponseProvider, error) {
	raw, ok := cfg["responses"].(map[string]any)
	if !ok {
		return nil, errors.ErrConfigInvalid("responses", "static provider needs a \"responses\" map")
	}
	responses := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, errors.ErrConfigInvalid("responses."+k, "static response must be a string")
		}
		responses[k] = s
	}
	return NewStatic(responses), nil
}

func (s *Static) Metadata() Metadata {
	return Metadata{
		Name:      "static",
		FSAbility: FSNone,
	}
}

func (s *Static) Validate(_ context.Context) error { return nil }

func (s *Static) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	key := s.lookupKey(req.Context)
	text, ok := s.responses[key]
	if !ok {
		text, ok = s.responses["DEFAULT"]
	}
	if !ok {
		return nil, fmt.Errorf("no static response for phase %s", key)
	}
	return &GenerateResult{ResponseText: text}, nil
}

// lookupKey prefers the phase the executor passes in the context, falling
// back to sniffing the prompt-file basename.
func (s *Static) lookupKey(ctx map[string]any) string {
	if phase, ok := ctx["phase"].(string); ok && phase != "" {
		return strings.ToUpper(phase)
	}
	if pf, ok := ctx["promptFile"].(string); ok && pf != "" {
		base := strings.ToLower(filepath.Base(pf))
		switch {
		case strings.Contains(base, "planning"):
			return "PLAN"
		case strings.Contains(base, "generation"):
			return "GENERATE"
		case strings.Contains(base, "review"):
			return "REVIEW"
		case strings.Contains(base, "revision"):
			return "REVISE"
		}
	}
	return "DEFAULT"
}
