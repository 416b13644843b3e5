package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
)

func testManifest() Manifest {
	return Manifest{
		Name: "test-profile",
		ContextSchema: Schema{
			"entity": {Type: TypeString, Required: true},
		},
		Prompts: map[string]string{
			"planning":   "plan {{ENTITY}} iteration {{ITERATION}}",
			"generation": "generate {{ENTITY}}",
			"review":     "review {{ENTITY}}",
			"revision":   "revise {{ENTITY}}: {{FEEDBACK}}",
		},
	}
}

func mustProfile(t *testing.T, m Manifest) *ManifestProfile {
	t.Helper()
	p, err := NewManifestProfile(m)
	if err != nil {
		t.Fatalf("NewManifestProfile: %v", err)
	}
	return p
}

func TestManifestRequiresCorePrompts(t *testing.T) {
	m := testManifest()
	delete(m.Prompts, "review")
	if _, err := NewManifestProfile(m); !errors.HasCode(err, errors.CodeConfigInvalid) {
		t.Errorf("missing review template error = %v, want CONFIG_INVALID", err)
	}
}

func TestPromptRendering(t *testing.T) {
	p := mustProfile(t, testManifest())
	in := PromptInput{Context: map[string]any{"entity": "Tier"}, Iteration: 2}

	got, err := p.GeneratePlanningPrompt(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != "plan Tier iteration 2" {
		t.Errorf("planning prompt = %q", got)
	}

	in.Feedback = "missing null checks"
	got, err = p.GenerateRevisionPrompt(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != "revise Tier: missing null checks" {
		t.Errorf("revision prompt = %q", got)
	}
}

func TestProcessGenerationResponse(t *testing.T) {
	p := mustProfile(t, testManifest())

	text := "Here is the implementation.\n\n```json\n" +
		`{"files":[{"path":"Tier.java","content":"class Tier {}"}]}` +
		"\n```\n"

	res, err := p.ProcessGenerationResponse(text, "/tmp/s", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q, messages = %v", res.Status, res.Messages)
	}
	if len(res.WritePlan) != 1 || res.WritePlan[0].Path != "Tier.java" ||
		res.WritePlan[0].Content != "class Tier {}" {
		t.Errorf("write plan = %+v", res.WritePlan)
	}
}

func TestProcessGenerationResponseBareJSON(t *testing.T) {
	p := mustProfile(t, testManifest())

	res, err := p.ProcessGenerationResponse(`{"files":[{"path":"a.go","content":"x"}]}`, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK || len(res.WritePlan) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessGenerationResponseErrors(t *testing.T) {
	p := mustProfile(t, testManifest())

	tests := []struct {
		name string
		text string
	}{
		{"no json", "just prose, no block"},
		{"no files key", "```json\n{\"other\": 1}\n```"},
		{"entry missing path", "```json\n{\"files\":[{\"content\":\"x\"}]}\n```"},
		{"entry missing content", "```json\n{\"files\":[{\"path\":\"a.go\"}]}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.ProcessGenerationResponse(tt.text, "", 1)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != StatusError {
				t.Errorf("status = %q, want error", res.Status)
			}
		})
	}
}

func TestProcessReviewResponse(t *testing.T) {
	p := mustProfile(t, testManifest())

	tests := []struct {
		name     string
		text     string
		verdict  string
		approved bool
		wantErr  bool
	}{
		{"json pass", "Looks good.\n```json\n{\"verdict\": \"PASS\"}\n```", "PASS", true, false},
		{"json fail", "```json\n{\"verdict\": \"FAIL\"}\n```", "FAIL", false, false},
		{"lowercase verdict", "```json\n{\"verdict\": \"pass\"}\n```", "PASS", true, false},
		{"plain line pass", "All checks passed.\nVERDICT: PASS\n", "PASS", true, false},
		{"plain line fail", "VERDICT: FAIL", "FAIL", false, false},
		{"no verdict", "nothing conclusive here", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.ProcessReviewResponse(tt.text)
			if tt.wantErr {
				if !errors.HasCode(err, errors.CodeProviderError) {
					t.Errorf("error = %v, want PROVIDER_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.Verdict != tt.verdict || res.Approved != tt.approved {
				t.Errorf("verdict = %q approved = %v", res.Verdict, res.Approved)
			}
		})
	}
}

func TestRegeneratePrompt(t *testing.T) {
	// Without a regenerate template the capability is absent.
	p := mustProfile(t, testManifest())
	if p.Metadata().CanRegeneratePrompts {
		t.Error("CanRegeneratePrompts true without template")
	}
	_, err := p.RegeneratePrompt(session.PhasePlan, "fb", PromptInput{})
	if !errors.HasCode(err, errors.CodeNotImplemented) {
		t.Errorf("RegeneratePrompt error = %v, want NOT_IMPLEMENTED", err)
	}

	m := testManifest()
	m.Prompts["regenerate"] = "redo {{PHASE}} because {{FEEDBACK}}"
	p = mustProfile(t, m)
	if !p.Metadata().CanRegeneratePrompts {
		t.Error("CanRegeneratePrompts false with template")
	}
	got, err := p.RegeneratePrompt(session.PhaseGenerate, "too vague", PromptInput{Context: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "redo GENERATE because too vague" {
		t.Errorf("regenerated prompt = %q", got)
	}
}

func TestBuiltinCodeGenProfile(t *testing.T) {
	builtins, err := loadBuiltins()
	if err != nil {
		t.Fatal(err)
	}
	var codeGen *ManifestProfile
	for _, p := range builtins {
		if p.Metadata().Name == "code-gen" {
			codeGen = p
		}
	}
	if codeGen == nil {
		t.Fatal("builtin code-gen profile missing")
	}

	ctx := map[string]any{
		"entity":          "Tier",
		"table":           "app.tiers",
		"scope":           "domain",
		"bounded_context": "pricing",
		"schema_file":     "schema.sql",
	}
	if errs := codeGen.ValidateContext(ctx); len(errs) != 0 {
		t.Errorf("builtin schema rejects a valid context: %v", errs)
	}

	prompt, err := codeGen.GenerateGenerationPrompt(PromptInput{Context: ctx, Iteration: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Tier") || !strings.Contains(prompt, "app.tiers") {
		t.Errorf("generation prompt did not render context: %q", prompt)
	}
}

func TestRegisterAllPrecedence(t *testing.T) {
	dir := t.TempDir()
	override := `
name: code-gen
contextSchema:
  entity: {type: string, required: true}
prompts:
  planning: project planning
  generation: project generation
  review: project review
  revision: project revision
`
	if err := os.WriteFile(filepath.Join(dir, "code-gen.yaml"), []byte(override), 0644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	if err := RegisterAll(reg, dir); err != nil {
		t.Fatal(err)
	}

	p, err := reg.Get("code-gen")
	if err != nil {
		t.Fatal(err)
	}
	prompt, err := p.GeneratePlanningPrompt(PromptInput{Context: map[string]any{"entity": "X"}})
	if err != nil {
		t.Fatal(err)
	}
	if prompt != "project planning" {
		t.Errorf("project profile did not win over builtin: %q", prompt)
	}
}
