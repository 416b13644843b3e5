// Package artifact owns hashing, code-file extraction, and the pre-transition
// side effects of an approval: the durable record of what the engine wrote
// and what the human approved.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/storage"
)

// Service performs artifact side effects around approvals.
type Service struct {
	files   *storage.Files
	emitter events.Emitter
	logger  *slog.Logger
}

// NewService builds an artifact service. A nil emitter drops events.
func NewService(files *storage.Files, emitter events.Emitter, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{files: files, emitter: emitter, logger: logger}
}

// Hash returns the sha-256 of the content as lowercase hex.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HandlePreTransitionApproval runs the side effects of approving the current
// state, keyed on (phase, stage). States without a handler are a no-op.
func (s *Service) HandlePreTransitionApproval(ctx context.Context, sess *session.Session, p profile.Profile) error {
	if sess.Stage != session.StageResponse {
		return nil
	}
	switch sess.Phase {
	case session.PhasePlan:
		return s.approvePlan(sess, p)
	case session.PhaseGenerate, session.PhaseRevise:
		return s.materializeWritePlan(ctx, sess, p)
	case session.PhaseReview:
		return s.approveReview(sess)
	default:
		return nil
	}
}

// approvePlan hashes the planning response and runs the profile's planning
// parser for its progress messages.
func (s *Service) approvePlan(sess *session.Session, p profile.Profile) error {
	text, err := s.files.ReadResponse(sess.ID, sess.CurrentIteration, session.PhasePlan)
	if err != nil {
		return errors.ErrPathInvalid(
			fmt.Sprintf("iteration-%d/planning-response.md", sess.CurrentIteration),
			"planning response missing at approval").WithCause(err)
	}

	res, err := p.ProcessPlanningResponse(text)
	if err != nil {
		return err
	}
	for _, msg := range res.Messages {
		sess.AppendMessage(msg)
	}
	if res.Status == profile.StatusError {
		return errors.ErrProviderFailed(sess.ProviderFor(session.RolePlanner),
			fmt.Sprintf("planning response rejected by profile: %v", res.Messages))
	}

	sess.Plan.Hash = Hash(text)
	sess.Plan.Approved = true
	return nil
}

// approveReview hashes the review response.
func (s *Service) approveReview(sess *session.Session) error {
	text, err := s.files.ReadResponse(sess.ID, sess.CurrentIteration, session.PhaseReview)
	if err != nil {
		return errors.ErrPathInvalid(
			fmt.Sprintf("iteration-%d/review-response.md", sess.CurrentIteration),
			"review response missing at approval").WithCause(err)
	}
	sess.Review.Hash = Hash(text)
	sess.Review.Approved = true
	return nil
}

// materializeWritePlan parses the generation or revision response into a
// write plan and extracts the code files. The hash recorded per artifact is
// the sha-256 of exactly the bytes written.
func (s *Service) materializeWritePlan(_ context.Context, sess *session.Session, p profile.Profile) error {
	phase := sess.Phase
	iter := sess.CurrentIteration

	text, err := s.files.ReadResponse(sess.ID, iter, phase)
	if err != nil {
		return errors.ErrPathInvalid(
			fmt.Sprintf("iteration-%d/%s-response.md", iter, phase.Slug()),
			"response missing at approval").WithCause(err)
	}

	res, err := profile.ProcessFor(p, phase, text, s.files.SessionDir(sess.ID), iter)
	if err != nil {
		return err
	}
	for _, msg := range res.Messages {
		sess.AppendMessage(msg)
	}
	if res.Status == profile.StatusError {
		role, _ := session.RoleForPhase(phase)
		return errors.ErrProviderFailed(sess.ProviderFor(role),
			fmt.Sprintf("%s response rejected by profile: %v", phase.Slug(), res.Messages))
	}

	for _, entry := range res.WritePlan {
		rel, err := s.files.WriteCodeFile(sess.ID, iter, entry.Path, entry.Content)
		if err != nil {
			return err
		}
		sess.Artifacts = append(sess.Artifacts, session.Artifact{
			RelativePath: rel,
			Phase:        phase,
			Iteration:    iter,
			SHA256:       Hash(entry.Content),
		})
		e := events.New(events.ArtifactCreated, sess.ID)
		e.Phase = string(phase)
		e.Iteration = iter
		e.ArtifactPath = rel
		s.emitter.Emit(e)
	}

	s.logger.Info("write plan materialized",
		"session", sess.ID, "phase", phase, "iteration", iter, "files", len(res.WritePlan))

	e := events.New(events.ArtifactApproved, sess.ID)
	e.Phase = string(phase)
	e.Iteration = iter
	s.emitter.Emit(e)
	return nil
}

// CopyPlanToSession copies the approved planning response to plan.md at the
// session root. It fails when the source is absent.
func (s *Service) CopyPlanToSession(sess *session.Session) error {
	text, err := s.files.ReadResponse(sess.ID, sess.CurrentIteration, session.PhasePlan)
	if err != nil {
		return errors.ErrPathInvalid(
			fmt.Sprintf("iteration-%d/planning-response.md", sess.CurrentIteration),
			"approved plan missing").WithCause(err)
	}
	return s.files.WriteFile(sess.ID, storage.PlanFileName, text)
}
