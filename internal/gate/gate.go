package gate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aiwf/aiwf/internal/config"
	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/storage"
)

// Outcome is the continuation the orchestrator interprets after a gate run.
type Outcome int

const (
	// OutcomeAdvanced means the gate approved: pre-transition handling and
	// the next transition follow.
	OutcomeAdvanced Outcome = iota
	// OutcomePaused means the session is waiting on a human: persist and
	// return.
	OutcomePaused
	// OutcomeRetryCall means a RESPONSE rejection with retries remaining:
	// re-execute CALL_AI and re-run the gate.
	OutcomeRetryCall
	// OutcomeHalted means the approver itself failed: the gate error is
	// recorded on the session, persist and return.
	OutcomeHalted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvanced:
		return "advanced"
	case OutcomePaused:
		return "paused"
	case OutcomeRetryCall:
		return "retry-call"
	case OutcomeHalted:
		return "halted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RunInput is one gate evaluation request.
type RunInput struct {
	Session *session.Session
	Profile profile.Profile
	Spec    config.GateSpec
}

// Service evaluates approval gates. It mutates the session (approval state,
// messages, lastError) and leaves persistence to the caller, which saves the
// session before every return to its own caller.
type Service struct {
	files     *storage.Files
	approvers *Registry
	emitter   events.Emitter
	logger    *slog.Logger
}

// NewService builds a gate service. A nil registry means the default one; a
// nil emitter means events are dropped.
func NewService(files *storage.Files, approvers *Registry, emitter events.Emitter, logger *slog.Logger) *Service {
	if approvers == nil {
		approvers = Default()
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{files: files, approvers: approvers, emitter: emitter, logger: logger}
}

// Run evaluates the gate for the session's current state.
func (s *Service) Run(ctx context.Context, in RunInput) (Outcome, error) {
	sess := in.Session

	approver, err := s.approvers.Get(in.Spec.Approver)
	if err != nil {
		return s.halt(sess, err)
	}

	files, err := s.collectInputs(sess)
	if err != nil {
		return OutcomeHalted, err
	}
	req := Request{
		Phase:   sess.Phase,
		Stage:   sess.Stage,
		Files:   files,
		Context: s.approvalContext(sess, in.Spec),
	}

	res, err := approver.Evaluate(ctx, req)
	if err != nil {
		return s.halt(sess, errors.ErrGateFailed(string(sess.Phase), string(sess.Stage), err))
	}

	switch res.Decision {
	case DecisionApproved:
		s.approve(sess)
		return OutcomeAdvanced, nil

	case DecisionPending:
		return s.pause(sess, res.Feedback), nil

	case DecisionRejected:
		if sess.Stage == session.StagePrompt {
			return s.rejectedPrompt(ctx, in, approver, req, res)
		}
		return s.rejectedResponse(sess, in.Spec, res), nil

	default:
		return s.halt(sess, errors.ErrGateFailed(string(sess.Phase), string(sess.Stage),
			fmt.Errorf("approver %q returned unknown decision %q", approver.Name(), res.Decision)))
	}
}

func (s *Service) approve(sess *session.Session) {
	sess.Approval.Clear()
	e := events.New(events.ApprovalGranted, sess.ID)
	e.Phase = string(sess.Phase)
	e.Iteration = sess.CurrentIteration
	s.emitter.Emit(e)
}

// halt records a gate error on the session. The workflow stops without
// advancing; status stays IN_PROGRESS so the human can retry.
func (s *Service) halt(sess *session.Session, err error) (Outcome, error) {
	sess.LastError = err.Error()
	sess.AppendMessage(fmt.Sprintf("Approval gate failed at %s: %s", sess.StateString(), err.Error()))
	s.logger.Error("gate evaluation failed",
		"session", sess.ID, "state", sess.StateString(), "error", err)
	return OutcomeHalted, nil
}

// pause marks the approval pending and emits APPROVAL_REQUIRED.
func (s *Service) pause(sess *session.Session, feedback string) Outcome {
	sess.Approval.Pending = true
	if feedback != "" {
		sess.Approval.Feedback = feedback
		sess.AppendMessage(fmt.Sprintf("Approval pending at %s: %s", sess.StateString(), feedback))
	}
	e := events.New(events.ApprovalRequired, sess.ID)
	e.Phase = string(sess.Phase)
	e.Iteration = sess.CurrentIteration
	s.emitter.Emit(e)
	return OutcomePaused
}

// rejectedPrompt tries rewrite, then regeneration, then falls back to a
// pending approval carrying the feedback.
func (s *Service) rejectedPrompt(ctx context.Context, in RunInput, approver Approver, req Request, res Result) (Outcome, error) {
	sess := in.Session

	if res.SuggestedContent != "" && in.Spec.AllowRewrite {
		if err := s.files.WritePrompt(sess.ID, sess.CurrentIteration, sess.Phase, res.SuggestedContent); err != nil {
			return OutcomeHalted, err
		}
		sess.Approval.Feedback = res.Feedback
		sess.AppendMessage(fmt.Sprintf("Prompt at %s rewritten by approver; awaiting re-approval", sess.StateString()))
		return s.pause(sess, ""), nil
	}

	if in.Profile != nil && in.Profile.Metadata().CanRegeneratePrompts {
		out, done, err := s.regenerate(ctx, in, approver, req, res)
		if done {
			return out, err
		}
	}

	return s.pause(sess, res.Feedback), nil
}

// regenerate rewrites the prompt from approver feedback and re-evaluates,
// bounded by maxRetries via approval.retryCount. done=false means the
// profile does not actually implement the capability and the caller falls
// through to pending.
func (s *Service) regenerate(ctx context.Context, in RunInput, approver Approver, req Request, res Result) (Outcome, bool, error) {
	sess := in.Session

	for {
		if in.Spec.MaxRetries <= 0 || sess.Approval.RetryCount >= in.Spec.MaxRetries {
			return s.pause(sess, res.Feedback), true, nil
		}

		text, err := in.Profile.RegeneratePrompt(sess.Phase, res.Feedback, profile.PromptInput{
			Context:    sess.Context,
			Iteration:  sess.CurrentIteration,
			SessionDir: s.files.SessionDir(sess.ID),
			Feedback:   res.Feedback,
		})
		if err != nil {
			if errors.HasCode(err, errors.CodeNotImplemented) {
				return 0, false, nil
			}
			out, _ := s.halt(sess, errors.ErrGateFailed(string(sess.Phase), string(sess.Stage), err))
			return out, true, nil
		}

		if err := s.files.WritePrompt(sess.ID, sess.CurrentIteration, sess.Phase, text); err != nil {
			return OutcomeHalted, true, err
		}
		sess.Approval.RetryCount++
		sess.AppendMessage(fmt.Sprintf("Prompt at %s regenerated from feedback (attempt %d)",
			sess.StateString(), sess.Approval.RetryCount))

		files, err := s.collectInputs(sess)
		if err != nil {
			return OutcomeHalted, true, err
		}
		req.Files = files

		res, err = approver.Evaluate(ctx, req)
		if err != nil {
			out, _ := s.halt(sess, errors.ErrGateFailed(string(sess.Phase), string(sess.Stage), err))
			return out, true, nil
		}
		switch res.Decision {
		case DecisionApproved:
			s.approve(sess)
			return OutcomeAdvanced, true, nil
		case DecisionPending:
			return s.pause(sess, res.Feedback), true, nil
		}
		// REJECTED: loop while retries remain.
	}
}

// rejectedResponse books the retry and decides between another provider call
// and exhaustion. The suggestion, when rewrite is allowed, is stored but
// never applied.
func (s *Service) rejectedResponse(sess *session.Session, spec config.GateSpec, res Result) Outcome {
	if spec.AllowRewrite && res.SuggestedContent != "" {
		sess.Approval.SuggestedContent = res.SuggestedContent
	}
	sess.Approval.RetryCount++

	if spec.MaxRetries > 0 && sess.Approval.RetryCount <= spec.MaxRetries {
		sess.AppendMessage(fmt.Sprintf("Response at %s rejected (attempt %d of %d); retrying",
			sess.StateString(), sess.Approval.RetryCount, spec.MaxRetries))
		return OutcomeRetryCall
	}

	msg := fmt.Sprintf("Approval rejected after %d attempts", sess.Approval.RetryCount)
	if res.Feedback != "" {
		msg += ": " + res.Feedback
	}
	sess.LastError = msg
	sess.AppendMessage(msg)
	return s.pause(sess, res.Feedback)
}

// collectInputs gathers the canonical file set for the current state. Files
// that should exist but do not map to nil-content entries.
func (s *Service) collectInputs(sess *session.Session) (map[string]*string, error) {
	files := make(map[string]*string)
	iter := sess.CurrentIteration
	slug := sess.Phase.Slug()

	var primary string
	if sess.Stage == session.StagePrompt {
		primary = fmt.Sprintf("iteration-%d/%s-prompt.md", iter, slug)
	} else {
		primary = fmt.Sprintf("iteration-%d/%s-response.md", iter, slug)
	}
	if err := s.addInput(files, sess.ID, primary); err != nil {
		return nil, err
	}

	if sess.Stage == session.StageResponse &&
		(sess.Phase == session.PhaseGenerate || sess.Phase == session.PhaseRevise) {
		if err := s.addCodeInputs(files, sess.ID, iter); err != nil {
			return nil, err
		}
	}

	if sess.Phase == session.PhaseGenerate || sess.Phase == session.PhaseReview {
		if err := s.addInput(files, sess.ID, storage.PlanFileName); err != nil {
			return nil, err
		}
	}

	return files, nil
}

// addInput reads one session-relative file; absence records a nil entry.
func (s *Service) addInput(files map[string]*string, id, rel string) error {
	content, err := s.files.ReadFile(id, rel)
	if err != nil {
		if errors.HasCode(err, errors.CodePathEscape) || errors.HasCode(err, errors.CodePathInvalid) {
			return err
		}
		files[rel] = nil
		return nil
	}
	files[rel] = &content
	return nil
}

// addCodeInputs collects iteration-{n}/code/** with forward-slash keys.
func (s *Service) addCodeInputs(files map[string]*string, id string, iter int) error {
	codeDir := s.files.CodeDir(id, iter)
	if _, err := os.Stat(codeDir); err != nil {
		return nil
	}

	var rels []string
	err := doublestar.GlobWalk(os.DirFS(codeDir), "**", func(path string, d fs.DirEntry) error {
		if !d.IsDir() {
			rels = append(rels, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("glob code files: %w", err)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		key := fmt.Sprintf("iteration-%d/%s/%s", iter, storage.CodeDirName, rel)
		if err := s.addInput(files, id, key); err != nil {
			return err
		}
	}
	return nil
}

// approvalContext is the session context plus the gate's own knobs.
func (s *Service) approvalContext(sess *session.Session, spec config.GateSpec) map[string]any {
	ctx := make(map[string]any, len(sess.Context)+3)
	for k, v := range sess.Context {
		ctx[k] = v
	}
	ctx["allowRewrite"] = spec.AllowRewrite
	ctx["sessionDir"] = s.files.SessionDir(sess.ID)
	ctx["planFile"] = s.files.PlanPath(sess.ID)
	return ctx
}
