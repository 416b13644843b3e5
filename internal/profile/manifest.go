package profile

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Prompt template keys in a manifest.
const (
	promptPlanning   = "planning"
	promptGeneration = "generation"
	promptReview     = "review"
	promptRevision   = "revision"
	promptRegenerate = "regenerate"
)

// ParsingRules configures how a manifest profile reads structured content
// out of AI responses. Paths use gjson syntax against the first fenced
// ```json block of the response (or the whole response when it is JSON).
type ParsingRules struct {
	// VerdictPath locates the PASS/FAIL verdict in a review response.
	VerdictPath string `yaml:"verdictPath,omitempty"`
	// FilesPath locates the write-plan array in generation and revision
	// responses. Each element carries "path" and "content".
	FilesPath string `yaml:"filesPath,omitempty"`
}

// Manifest is the YAML shape of a declarative profile.
type Manifest struct {
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description,omitempty"`
	StandardsProvider string            `yaml:"standardsProvider,omitempty"`
	StandardsConfig   map[string]any    `yaml:"standardsConfig,omitempty"`
	ContextSchema     Schema            `yaml:"contextSchema"`
	Prompts           map[string]string `yaml:"prompts"`
	Parsing           ParsingRules      `yaml:"parsing,omitempty"`
}

// ManifestProfile implements Profile from a declarative manifest.
type ManifestProfile struct {
	manifest Manifest
}

// NewManifestProfile validates a manifest and wraps it as a Profile.
func NewManifestProfile(m Manifest) (*ManifestProfile, error) {
	if m.Name == "" {
		return nil, errors.ErrConfigInvalid("profile.name", "must not be empty")
	}
	for _, key := range []string{promptPlanning, promptGeneration, promptReview, promptRevision} {
		if strings.TrimSpace(m.Prompts[key]) == "" {
			return nil, errors.ErrConfigInvalid(
				fmt.Sprintf("profile %s", m.Name),
				fmt.Sprintf("missing prompt template %q", key))
		}
	}
	if m.StandardsProvider == "" {
		m.StandardsProvider = "dir"
	}
	if m.Parsing.VerdictPath == "" {
		m.Parsing.VerdictPath = "verdict"
	}
	if m.Parsing.FilesPath == "" {
		m.Parsing.FilesPath = "files"
	}
	return &ManifestProfile{manifest: m}, nil
}

// Metadata implements Profile.
func (p *ManifestProfile) Metadata() Metadata {
	_, canRegen := p.manifest.Prompts[promptRegenerate]
	return Metadata{
		Name:                 p.manifest.Name,
		Description:          p.manifest.Description,
		ContextSchema:        p.manifest.ContextSchema,
		CanRegeneratePrompts: canRegen,
	}
}

// ValidateContext implements Profile.
func (p *ManifestProfile) ValidateContext(context map[string]any) []errors.FieldError {
	return p.manifest.ContextSchema.Validate(context)
}

// DefaultStandardsProviderKey implements Profile.
func (p *ManifestProfile) DefaultStandardsProviderKey() string {
	return p.manifest.StandardsProvider
}

// StandardsConfig implements Profile.
func (p *ManifestProfile) StandardsConfig() map[string]any {
	return p.manifest.StandardsConfig
}

func (p *ManifestProfile) GeneratePlanningPrompt(in PromptInput) (string, error) {
	return p.render(promptPlanning, in)
}

func (p *ManifestProfile) GenerateGenerationPrompt(in PromptInput) (string, error) {
	return p.render(promptGeneration, in)
}

func (p *ManifestProfile) GenerateReviewPrompt(in PromptInput) (string, error) {
	return p.render(promptReview, in)
}

func (p *ManifestProfile) GenerateRevisionPrompt(in PromptInput) (string, error) {
	return p.render(promptRevision, in)
}

// render substitutes {{KEY}} placeholders in the named template.
func (p *ManifestProfile) render(name string, in PromptInput) (string, error) {
	tmpl, ok := p.manifest.Prompts[name]
	if !ok {
		return "", errors.ErrInternal(fmt.Sprintf("profile %s has no %q template", p.manifest.Name, name), nil)
	}
	return Render(tmpl, renderVars(in)), nil
}

// Render substitutes {{KEY}} placeholders in content.
func Render(content string, vars map[string]string) string {
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content
}

// renderVars exposes the context fields (uppercased) plus the engine-owned
// ITERATION, FEEDBACK, and SESSION_DIR variables.
func renderVars(in PromptInput) map[string]string {
	vars := make(map[string]string, len(in.Context)+3)
	for key, value := range in.Context {
		vars[strings.ToUpper(key)] = fmt.Sprintf("%v", value)
	}
	vars["ITERATION"] = strconv.Itoa(in.Iteration)
	vars["FEEDBACK"] = in.Feedback
	vars["SESSION_DIR"] = in.SessionDir
	return vars
}

// ProcessPlanningResponse implements Profile. A planning response has no
// structured payload; any non-empty text is accepted.
func (p *ManifestProfile) ProcessPlanningResponse(text string) (ProcessResult, error) {
	if strings.TrimSpace(text) == "" {
		return ProcessResult{Status: StatusError, Messages: []string{"planning response is empty"}}, nil
	}
	return ProcessResult{Status: StatusOK, Messages: []string{"planning response accepted"}}, nil
}

// ProcessGenerationResponse implements Profile.
func (p *ManifestProfile) ProcessGenerationResponse(text, sessionDir string, iteration int) (ProcessResult, error) {
	return p.extractWritePlan(text)
}

// ProcessRevisionResponse implements Profile.
func (p *ManifestProfile) ProcessRevisionResponse(text, sessionDir string, iteration int) (ProcessResult, error) {
	return p.extractWritePlan(text)
}

func (p *ManifestProfile) extractWritePlan(text string) (ProcessResult, error) {
	block := firstJSONBlock(text)
	if block == "" {
		return ProcessResult{
			Status:   StatusError,
			Messages: []string{"response carries no JSON block with a write plan"},
		}, nil
	}

	files := gjson.Get(block, p.manifest.Parsing.FilesPath)
	if !files.Exists() || !files.IsArray() {
		return ProcessResult{
			Status:   StatusError,
			Messages: []string{fmt.Sprintf("no write plan at %q in response JSON", p.manifest.Parsing.FilesPath)},
		}, nil
	}

	var plan []WriteEntry
	var badEntry string
	files.ForEach(func(_, entry gjson.Result) bool {
		path := entry.Get("path").String()
		content := entry.Get("content")
		if path == "" || !content.Exists() {
			badEntry = entry.Raw
			return false
		}
		plan = append(plan, WriteEntry{Path: path, Content: content.String()})
		return true
	})
	if badEntry != "" {
		return ProcessResult{
			Status:   StatusError,
			Messages: []string{"write plan entry missing path or content: " + badEntry},
		}, nil
	}

	return ProcessResult{
		Status:    StatusOK,
		Messages:  []string{fmt.Sprintf("write plan with %d file(s)", len(plan))},
		WritePlan: plan,
	}, nil
}

// verdictLineRE is the plain-text fallback when the review response has no
// JSON block, e.g. "VERDICT: PASS".
var verdictLineRE = regexp.MustCompile(`(?m)^\s*VERDICT:\s*(PASS|FAIL)\s*$`)

// ProcessReviewResponse implements Profile.
func (p *ManifestProfile) ProcessReviewResponse(text string) (ReviewResult, error) {
	verdict := ""
	if block := firstJSONBlock(text); block != "" {
		verdict = strings.ToUpper(gjson.Get(block, p.manifest.Parsing.VerdictPath).String())
	}
	if verdict == "" {
		if m := verdictLineRE.FindStringSubmatch(text); m != nil {
			verdict = m[1]
		}
	}

	switch verdict {
	case "PASS", "FAIL":
		return ReviewResult{
			Status:   StatusOK,
			Approved: verdict == "PASS",
			Verdict:  verdict,
			Metadata: map[string]any{"verdict": verdict},
		}, nil
	default:
		return ReviewResult{
			Status:   StatusError,
			Metadata: map[string]any{},
		}, errors.ErrProviderFailed(p.manifest.Name, "review response carries no PASS/FAIL verdict")
	}
}

// RegeneratePrompt implements Profile. Supported only when the manifest
// declares a "regenerate" template.
func (p *ManifestProfile) RegeneratePrompt(phase session.Phase, feedback string, in PromptInput) (string, error) {
	tmpl, ok := p.manifest.Prompts[promptRegenerate]
	if !ok {
		return "", errors.ErrNotImplemented("prompt regeneration for profile " + p.manifest.Name)
	}
	in.Feedback = feedback
	vars := renderVars(in)
	vars["PHASE"] = string(phase)
	return Render(tmpl, vars), nil
}

// jsonFenceRE matches a fenced ```json block.
var jsonFenceRE = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")

// firstJSONBlock returns the body of the first fenced ```json block, or the
// whole text when it is itself valid JSON, or "".
func firstJSONBlock(text string) string {
	if m := jsonFenceRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	trimmed := strings.TrimSpace(text)
	if gjson.Valid(trimmed) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		return trimmed
	}
	return ""
}

// LoadManifestFile reads one manifest file into a profile.
func LoadManifestFile(path string) (*ManifestProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.ErrConfigInvalid(path, err.Error())
	}
	return NewManifestProfile(m)
}

// loadManifestDir loads every *.yaml/*.yml manifest in dir. A missing
// directory is not an error.
func loadManifestDir(dir string) ([]*ManifestProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	var profiles []*ManifestProfile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := LoadManifestFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// loadBuiltins loads the embedded builtin manifests.
func loadBuiltins() ([]*ManifestProfile, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	var profiles []*ManifestProfile
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse builtin profile %s: %w", e.Name(), err)
		}
		p, err := NewManifestProfile(m)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// RegisterAll populates a registry from, in order of increasing precedence:
// embedded builtins, $HOME/.aiwf/profiles, then the project profiles
// directory. Later registrations win by name.
func RegisterAll(reg *Registry, projectDir string) error {
	builtins, err := loadBuiltins()
	if err != nil {
		return fmt.Errorf("load builtin profiles: %w", err)
	}
	for _, p := range builtins {
		reg.Register(p)
	}

	if home, err := os.UserHomeDir(); err == nil {
		globals, err := loadManifestDir(filepath.Join(home, ".aiwf", "profiles"))
		if err != nil {
			return err
		}
		for _, p := range globals {
			reg.Register(p)
		}
	}

	if projectDir != "" {
		locals, err := loadManifestDir(projectDir)
		if err != nil {
			return err
		}
		for _, p := range locals {
			reg.Register(p)
		}
	}
	return nil
}
