package orchestrator

import (
	"context"
	"fmt"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/gate"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/storage"
)

// drive executes one command: pre-transition approval side effects, edge
// effects, state application, then the new state's action. skipPre marks the
// verdict continuations (approve_complete / approve_revise issued by
// CHECK_VERDICT), whose hash side effects already ran for the approve.
func (o *Orchestrator) drive(ctx context.Context, sess *session.Session, p profile.Profile, cmd session.Command, skipPre bool, feedback string) error {
	t, err := session.Lookup(sess.Phase, sess.Stage, cmd)
	if err != nil {
		return err
	}

	if cmd.IsApproveFamily() && !skipPre {
		if err := o.artifacts.HandlePreTransitionApproval(ctx, sess, p); err != nil {
			return err
		}
	}

	// Edge effects keyed on the (state, next-state) pair.
	if sess.Phase == session.PhasePlan && sess.Stage == session.StageResponse &&
		t.NextPhase == session.PhaseGenerate {
		if err := o.artifacts.CopyPlanToSession(sess); err != nil {
			return err
		}
	}
	if sess.Phase == session.PhaseReview && sess.Stage == session.StageResponse &&
		t.NextPhase == session.PhaseRevise {
		sess.CurrentIteration++
		e := events.New(events.IterationStarted, sess.ID)
		e.Phase = string(t.NextPhase)
		e.Iteration = sess.CurrentIteration
		o.emitter.Emit(e)
	}

	phaseChanged := t.NextPhase != sess.Phase
	sess.Phase = t.NextPhase
	sess.Stage = t.NextStage
	if phaseChanged {
		e := events.New(events.PhaseEntered, sess.ID)
		e.Phase = string(sess.Phase)
		e.Iteration = sess.CurrentIteration
		o.emitter.Emit(e)
	}

	return o.dispatch(ctx, sess, p, t.Action, feedback)
}

// dispatch performs the action the transition table assigned to the state.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, p profile.Profile, action session.Action, feedback string) error {
	switch action {
	case session.ActionCreatePrompt:
		return o.createPrompt(ctx, sess, p)
	case session.ActionCallAI:
		awaiting, err := o.executeCall(ctx, sess, p)
		if err != nil || awaiting {
			return err
		}
		return o.gateLoop(ctx, sess, p)
	case session.ActionCheckVerdict:
		return o.checkVerdict(ctx, sess, p)
	case session.ActionFinalize:
		sess.Status = session.StatusSuccess
		sess.AppendMessage("Workflow completed")
		o.emitWorkflowDone(sess)
		return nil
	case session.ActionCancel:
		sess.Status = session.StatusCancelled
		sess.AppendMessage("Workflow cancelled")
		o.emitWorkflowDone(sess)
		return nil
	case session.ActionHalt:
		sess.Approval.Pending = true
		sess.Approval.Feedback = feedback
		if feedback != "" {
			sess.AppendMessage(fmt.Sprintf("Rejected at %s: %s", sess.StateString(), feedback))
		} else {
			sess.AppendMessage(fmt.Sprintf("Rejected at %s", sess.StateString()))
		}
		return nil
	default:
		return errors.ErrInternal(fmt.Sprintf("unknown action %q", action), nil)
	}
}

// createPrompt has the profile build the prompt text; the engine only picks
// the file name. The revision prompt carries the reviewer's feedback.
func (o *Orchestrator) createPrompt(ctx context.Context, sess *session.Session, p profile.Profile) error {
	in := profile.PromptInput{
		Context:    sess.Context,
		Iteration:  sess.CurrentIteration,
		SessionDir: o.files.SessionDir(sess.ID),
	}
	if sess.Phase == session.PhaseRevise {
		in.Feedback = o.reviewFeedback(sess)
	}

	text, err := profile.PromptFor(p, sess.Phase, in)
	if err != nil {
		return err
	}
	if err := o.files.WritePrompt(sess.ID, sess.CurrentIteration, sess.Phase, text); err != nil {
		return err
	}

	rel := fmt.Sprintf("iteration-%d/%s-prompt.md", sess.CurrentIteration, sess.Phase.Slug())
	e := events.New(events.ArtifactCreated, sess.ID)
	e.Phase = string(sess.Phase)
	e.Iteration = sess.CurrentIteration
	e.ArtifactPath = rel
	o.emitter.Emit(e)

	return o.gateLoop(ctx, sess, p)
}

// reviewFeedback returns the review response the verdict came from. The
// iteration was already bumped on the REVIEW→REVISE edge, so the review
// lives one iteration back.
func (o *Orchestrator) reviewFeedback(sess *session.Session) string {
	iter := sess.CurrentIteration - 1
	if iter < 1 {
		return ""
	}
	text, err := o.files.ReadResponse(sess.ID, iter, session.PhaseReview)
	if err != nil {
		return ""
	}
	return text
}

// executeCall runs the phase's provider on the prompt file. awaiting=true
// means the provider produced nothing and the workflow suspends without
// running the gate.
func (o *Orchestrator) executeCall(ctx context.Context, sess *session.Session, _ profile.Profile) (bool, error) {
	role, ok := session.RoleForPhase(sess.Phase)
	if !ok {
		return false, errors.ErrInternal(fmt.Sprintf("no provider role for phase %s", sess.Phase), nil)
	}
	key := sess.ProviderFor(role)
	iter := sess.CurrentIteration

	promptRel := fmt.Sprintf("iteration-%d/%s-prompt.md", iter, sess.Phase.Slug())
	prompt, err := o.files.ReadPrompt(sess.ID, iter, sess.Phase)
	if err != nil {
		return false, errors.ErrPathInvalid(promptRel, "prompt file missing").WithCause(err)
	}

	// The standards bundle rides along as the system prompt; providers that
	// cannot take one get it folded into the prompt by the executor.
	system, err := o.files.ReadFile(sess.ID, storage.StandardsFileName)
	if err != nil {
		system = ""
	}

	callCtx := map[string]any{
		"phase":      string(sess.Phase),
		"iteration":  iter,
		"promptFile": promptRel,
	}
	res, err := o.executor.Execute(ctx, key, prompt, callCtx, system)
	if err != nil {
		return false, err
	}

	responseRel := fmt.Sprintf("iteration-%d/%s-response.md", iter, sess.Phase.Slug())
	if res.AwaitingResponse {
		sess.AppendMessage(fmt.Sprintf("awaitingResponse=true: provider %q defers; write %s and approve",
			key, responseRel))
		e := events.New(events.ApprovalRequired, sess.ID)
		e.Phase = string(sess.Phase)
		e.Iteration = iter
		o.emitter.Emit(e)
		return true, nil
	}

	if err := o.files.WriteResponse(sess.ID, iter, sess.Phase, res.ResponseText); err != nil {
		return false, err
	}
	e := events.New(events.ArtifactCreated, sess.ID)
	e.Phase = string(sess.Phase)
	e.Iteration = iter
	e.ArtifactPath = responseRel
	o.emitter.Emit(e)

	// Content files a filesystem-capable provider returned inline. A nil
	// content means the provider already wrote the file itself.
	for path, content := range res.Files {
		if content == nil {
			continue
		}
		rel, err := o.files.WriteCodeFile(sess.ID, iter, path, *content)
		if err != nil {
			return false, err
		}
		e := events.New(events.ArtifactCreated, sess.ID)
		e.Phase = string(sess.Phase)
		e.Iteration = iter
		e.ArtifactPath = rel
		o.emitter.Emit(e)
	}

	return false, nil
}

// checkVerdict parses the review verdict and continues the drive loop with
// the matching approve variant.
func (o *Orchestrator) checkVerdict(ctx context.Context, sess *session.Session, p profile.Profile) error {
	text, err := o.files.ReadResponse(sess.ID, sess.CurrentIteration, session.PhaseReview)
	if err != nil {
		return errors.ErrPathInvalid(
			fmt.Sprintf("iteration-%d/review-response.md", sess.CurrentIteration),
			"review response missing at verdict check").WithCause(err)
	}

	verdict, err := p.ProcessReviewResponse(text)
	if err != nil {
		return err
	}

	if verdict.Approved {
		sess.AppendMessage(fmt.Sprintf("Review verdict PASS on iteration %d", sess.CurrentIteration))
		return o.drive(ctx, sess, p, session.CommandApproveComplete, true, "")
	}
	sess.AppendMessage(fmt.Sprintf("Review verdict FAIL on iteration %d; revising", sess.CurrentIteration))
	return o.drive(ctx, sess, p, session.CommandApproveRevise, true, "")
}

// gateLoop runs the approval gate for the current state and interprets its
// continuation.
func (o *Orchestrator) gateLoop(ctx context.Context, sess *session.Session, p profile.Profile) error {
	for {
		spec := o.approvals.For(sess.Phase, sess.Stage)
		out, err := o.gates.Run(ctx, gate.RunInput{Session: sess, Profile: p, Spec: spec})
		if err != nil {
			return err
		}

		switch out {
		case gate.OutcomeAdvanced:
			return o.drive(ctx, sess, p, session.CommandApprove, false, "")
		case gate.OutcomeRetryCall:
			awaiting, err := o.executeCall(ctx, sess, p)
			if err != nil || awaiting {
				return err
			}
			// re-run the gate on the fresh response
		default:
			return nil
		}
	}
}

// emitWorkflowDone fires the terminal event for COMPLETE and CANCELLED.
func (o *Orchestrator) emitWorkflowDone(sess *session.Session) {
	e := events.New(events.WorkflowCompleted, sess.ID)
	e.Phase = string(sess.Phase)
	e.Iteration = sess.CurrentIteration
	e.Metadata = map[string]any{"status": string(sess.Status)}
	o.emitter.Emit(e)
}
