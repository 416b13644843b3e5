package provider

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aiwf/aiwf/internal/errors"
)

// failing always errors with a fixed message.
type failing struct{ msg string }

func (f *failing) Metadata() Metadata                { return Metadata{Name: "failing"} }
func (f *failing) Validate(_ context.Context) error  { return nil }
func (f *failing) Generate(_ context.Context, _ GenerateRequest) (*GenerateResult, error) {
	return nil, stderrors.New(f.msg)
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterInstance("m", NewManual())

	if _, err := reg.Get("m"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get("nope"); !errors.HasCode(err, errors.CodeProviderNotFound) {
		t.Errorf("Get(nope) = %v, want PROVIDER_NOT_FOUND", err)
	}
}

func TestRegistryBuildFromConfig(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("manual", newManualFromConfig)
	reg.RegisterFactory("static", newStaticFromConfig)

	cfg := map[string]map[string]any{
		"human": {"type": "manual"},
		"demo": {
			"type": "static",
			"responses": map[string]any{
				"PLAN":    "the plan",
				"default": "fallback",
			},
		},
	}
	if err := reg.BuildFromConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if got := reg.Keys(); len(got) != 2 || got[0] != "demo" || got[1] != "human" {
		t.Errorf("Keys = %v", got)
	}

	err := reg.BuildFromConfig(map[string]map[string]any{"bad": {"model": "x"}})
	if !errors.HasCode(err, errors.CodeConfigInvalid) {
		t.Errorf("missing type error = %v, want CONFIG_INVALID", err)
	}
}

func TestRegistrySnapshotRestore(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterInstance("a", NewManual())
	snap := reg.Snapshot()

	reg.RegisterInstance("b", NewManual())
	reg.Restore(snap)
	if got := reg.Keys(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Keys after restore = %v", got)
	}
}

func TestManualAwaitsResponse(t *testing.T) {
	res, err := NewManual().Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.AwaitingResponse || res.ResponseText != "" {
		t.Errorf("result = %+v, want awaiting response", res)
	}
}

func TestStaticPhaseLookup(t *testing.T) {
	s := NewStatic(map[string]string{
		"plan":    "plan text",
		"default": "fallback",
	})

	res, err := s.Generate(context.Background(), GenerateRequest{Context: map[string]any{"phase": "PLAN"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "plan text" {
		t.Errorf("PLAN response = %q", res.ResponseText)
	}

	res, err = s.Generate(context.Background(), GenerateRequest{Context: map[string]any{"phase": "REVIEW"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "fallback" {
		t.Errorf("fallback response = %q", res.ResponseText)
	}

	res, err = s.Generate(context.Background(), GenerateRequest{
		Context: map[string]any{"promptFile": "iteration-1/generation-prompt.md"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "fallback" {
		t.Errorf("basename fallback = %q", res.ResponseText)
	}

	empty := NewStatic(map[string]string{"plan": "x"})
	if _, err := empty.Generate(context.Background(), GenerateRequest{Context: map[string]any{"phase": "REVIEW"}}); err == nil {
		t.Error("expected error for unmapped phase without default")
	}
}

func TestSubprocessEcho(t *testing.T) {
	s, err := NewSubprocess([]string{"cat"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(context.Background()); err != nil {
		t.Skipf("cat unavailable: %v", err)
	}

	res, err := s.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "hello" {
		t.Errorf("response = %q", res.ResponseText)
	}

	res, err = s.Generate(context.Background(), GenerateRequest{Prompt: "body", SystemPrompt: "sys"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "sys\n\nbody" {
		t.Errorf("system-prompt response = %q", res.ResponseText)
	}
}

func TestSubprocessFailure(t *testing.T) {
	s, err := NewSubprocess([]string{"sh", "-c", "echo boom >&2; exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want stderr tail", err)
	}
}

func TestSubprocessTimeout(t *testing.T) {
	s, err := NewSubprocess([]string{"sleep", "5"})
	if err != nil {
		t.Fatal(err)
	}
	one := 1
	_, err = s.Generate(context.Background(), GenerateRequest{Prompt: "x", ResponseTimeout: &one})
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Errorf("error = %v, want TIMEOUT", err)
	}
}

func TestExecutorWrapsProviderError(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterInstance("bad", &failing{msg: "rate limited"})
	exec := NewExecutor(reg)

	_, err := exec.Execute(context.Background(), "bad", "p", nil, "")
	if !errors.HasCode(err, errors.CodeProviderError) {
		t.Fatalf("error = %v, want PROVIDER_ERROR", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("provider message not preserved: %v", err)
	}

	_, err = exec.Execute(context.Background(), "missing", "p", nil, "")
	if !errors.HasCode(err, errors.CodeProviderNotFound) {
		t.Errorf("error = %v, want PROVIDER_NOT_FOUND", err)
	}
}

func TestExecutorSystemPromptFolding(t *testing.T) {
	reg := NewRegistry()
	var got GenerateRequest
	reg.RegisterInstance("spy", &spyProvider{onGenerate: func(req GenerateRequest) { got = req }})
	exec := NewExecutor(reg)

	if _, err := exec.Execute(context.Background(), "spy", "body", nil, "sys"); err != nil {
		t.Fatal(err)
	}
	if got.SystemPrompt != "" || got.Prompt != "sys\n\nbody" {
		t.Errorf("request = %+v, want system prompt folded into prompt", got)
	}
}

type spyProvider struct {
	onGenerate func(GenerateRequest)
}

func (s *spyProvider) Metadata() Metadata               { return Metadata{Name: "spy"} }
func (s *spyProvider) Validate(_ context.Context) error { return nil }
func (s *spyProvider) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	if s.onGenerate != nil {
		s.onGenerate(req)
	}
	return &GenerateResult{ResponseText: "ok"}, nil
}

// fakeMessages returns a canned SDK message.
type fakeMessages struct {
	gotParams sdk.MessageNewParams
	text      string
	err       error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.gotParams = body
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: f.text}},
	}, nil
}

func TestAnthropicGenerate(t *testing.T) {
	fake := &fakeMessages{text: "claude says hi"}
	p := NewAnthropic(fake, "claude-test", 1024, nil)

	res, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hi", SystemPrompt: "be terse"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "claude says hi" {
		t.Errorf("response = %q", res.ResponseText)
	}
	if fake.gotParams.Model != "claude-test" || fake.gotParams.MaxTokens != 1024 {
		t.Errorf("params = %+v", fake.gotParams)
	}
	if len(fake.gotParams.System) != 1 || fake.gotParams.System[0].Text != "be terse" {
		t.Errorf("system = %+v", fake.gotParams.System)
	}
}

func TestAnthropicError(t *testing.T) {
	fake := &fakeMessages{err: stderrors.New("overloaded")}
	p := NewAnthropic(fake, "", 0, nil)
	reg := NewRegistry()
	reg.RegisterInstance("claude", p)

	_, err := NewExecutor(reg).Execute(context.Background(), "claude", "hi", nil, "")
	if !errors.HasCode(err, errors.CodeProviderError) {
		t.Fatalf("error = %v, want PROVIDER_ERROR", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("message not preserved: %v", err)
	}
}
