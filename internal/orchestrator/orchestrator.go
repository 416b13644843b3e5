// Package orchestrator owns the session lifecycle: it accepts external
// commands, drives them through the transition table, dispatches the
// resulting actions, and enforces the run-error policy. It is the only
// package that writes session state during a run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aiwf/aiwf/internal/artifact"
	"github.com/aiwf/aiwf/internal/config"
	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/gate"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/provider"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/standards"
	"github.com/aiwf/aiwf/internal/storage"
)

// Orchestrator drives workflow sessions.
type Orchestrator struct {
	files       *storage.Files
	store       *storage.Store
	artifacts   *artifact.Service
	gates       *gate.Service
	providers   *provider.Registry
	executor    *provider.Executor
	profiles    *profile.Registry
	standards   *standards.Registry
	approverReg *gate.Registry
	approvals   config.ApprovalConfig
	// standardsDir backs the "dir" standards provider when the profile's
	// standards config does not name a directory itself.
	standardsDir string
	emitter      events.Emitter
	logger       *slog.Logger
	newID        func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProviderRegistry sets the provider registry, default registry otherwise.
func WithProviderRegistry(r *provider.Registry) Option {
	return func(o *Orchestrator) { o.providers = r }
}

// WithProfileRegistry sets the profile registry, default registry otherwise.
func WithProfileRegistry(r *profile.Registry) Option {
	return func(o *Orchestrator) { o.profiles = r }
}

// WithStandardsRegistry sets the standards registry, default otherwise.
func WithStandardsRegistry(r *standards.Registry) Option {
	return func(o *Orchestrator) { o.standards = r }
}

// WithApproverRegistry sets the approver registry used by the gate service.
func WithApproverRegistry(r *gate.Registry) Option {
	return func(o *Orchestrator) { o.approverReg = r }
}

// WithIDGenerator replaces the session ID generator. Tests use it for stable
// directory names.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New builds an orchestrator over the configuration.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		approvals:    cfg.Approvals,
		standardsDir: cfg.StandardsDir,
		emitter:      events.NopEmitter{},
		logger:       slog.Default(),
		newID:        session.NewID,
	}
	o.files = storage.NewFiles(cfg.SessionsRoot)
	o.store = storage.NewStore(o.files)

	for _, opt := range opts {
		opt(o)
	}
	if o.providers == nil {
		o.providers = provider.Default()
	}
	if o.profiles == nil {
		o.profiles = profile.Default()
	}
	if o.standards == nil {
		o.standards = standards.Default()
	}
	o.executor = provider.NewExecutor(o.providers)
	o.artifacts = artifact.NewService(o.files, o.emitter, o.logger)
	o.gates = gate.NewService(o.files, o.approverReg, o.emitter, o.logger)
	return o
}

// InitializeInput is everything needed to create a session.
type InitializeInput struct {
	Profile              string
	Providers            map[session.Role]string
	Context              map[string]any
	StandardsProviderKey string
}

// InitializeRun validates the inputs, materializes the standards bundle, and
// persists a new INIT session. Any failure after the session directory is
// created removes the directory again.
func (o *Orchestrator) InitializeRun(ctx context.Context, in InitializeInput) (*session.Session, error) {
	p, err := o.profiles.Get(in.Profile)
	if err != nil {
		return nil, err
	}

	if fields := p.ValidateContext(in.Context); len(fields) > 0 {
		return nil, errors.ErrContextInvalid(fields)
	}

	standardsKey := in.StandardsProviderKey
	if standardsKey == "" {
		standardsKey = p.DefaultStandardsProviderKey()
	}
	standardsProvider, err := o.standards.Get(standardsKey)
	if err != nil {
		return nil, err
	}

	// All four roles must be bound before anything touches the disk.
	for _, role := range session.ValidRoles() {
		if in.Providers[role] == "" {
			return nil, errors.ErrConfigInvalid(
				fmt.Sprintf("providers.%s", role), "no provider bound to this role")
		}
	}
	bound := make(map[session.Role]provider.ResponseProvider, len(session.ValidRoles()))
	for _, role := range session.ValidRoles() {
		rp, err := o.providers.Get(in.Providers[role])
		if err != nil {
			return nil, err
		}
		bound[role] = rp
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range session.ValidRoles() {
		role := role
		g.Go(func() error {
			if err := bound[role].Validate(gctx); err != nil {
				return errors.ErrProviderValidation(in.Providers[role], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	id := o.newID()
	sess := session.New(id, in.Profile, in.Providers, standardsKey, in.Context)

	if err := o.files.CreateSessionDir(id); err != nil {
		return nil, err
	}
	rollback := func(err error) (*session.Session, error) {
		if rmErr := o.files.DeleteSessionDir(id); rmErr != nil {
			o.logger.Error("session rollback failed", "session", id, "error", rmErr)
		}
		return nil, err
	}

	bundle, err := standardsProvider.CreateBundle(ctx, o.standardsConfig(p))
	if err != nil {
		return rollback(err)
	}
	if err := o.files.WriteStandardsBundle(id, bundle); err != nil {
		return rollback(err)
	}
	sess.StandardsHash = artifact.Hash(bundle)

	if err := o.store.Save(sess); err != nil {
		return rollback(err)
	}

	o.logger.Info("session initialized",
		"session", id, "profile", in.Profile, "standards", standardsKey)
	return sess, nil
}

// standardsConfig merges the profile's standards config with the engine's
// standards directory for the "dir" provider.
func (o *Orchestrator) standardsConfig(p profile.Profile) map[string]any {
	cfg := make(map[string]any)
	for k, v := range p.StandardsConfig() {
		cfg[k] = v
	}
	if _, ok := cfg["dir"]; !ok && o.standardsDir != "" {
		cfg["dir"] = o.standardsDir
	}
	return cfg
}

// Init issues the init command.
func (o *Orchestrator) Init(ctx context.Context, id string) (*session.Session, error) {
	return o.command(ctx, id, session.CommandInit, "")
}

// Approve issues the approve command, or its REVIEW[RESPONSE] variants when
// override is "complete" or "revise".
func (o *Orchestrator) Approve(ctx context.Context, id, override string) (*session.Session, error) {
	cmd := session.CommandApprove
	switch override {
	case "":
	case "complete":
		cmd = session.CommandApproveComplete
	case "revise":
		cmd = session.CommandApproveRevise
	default:
		return nil, errors.ErrConfigInvalid("override", fmt.Sprintf("unknown approve override %q", override))
	}
	return o.command(ctx, id, cmd, "")
}

// Reject issues the reject command with the operator's feedback.
func (o *Orchestrator) Reject(ctx context.Context, id, feedback string) (*session.Session, error) {
	return o.command(ctx, id, session.CommandReject, feedback)
}

// Cancel issues the cancel command.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*session.Session, error) {
	return o.command(ctx, id, session.CommandCancel, "")
}

// Status returns the session without writing anything.
func (o *Orchestrator) Status(_ context.Context, id string) (*session.Session, error) {
	return o.store.Load(id)
}

// AcceptedCommands lists what the session's current state accepts.
func (o *Orchestrator) AcceptedCommands(id string) ([]session.Command, error) {
	sess, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	return session.AcceptedCommands(sess.Phase, sess.Stage), nil
}

// command loads the session, checks the command against the transition
// table, drives the workflow, applies the run-error policy, and persists.
// A rejected command leaves the session untouched.
func (o *Orchestrator) command(ctx context.Context, id string, cmd session.Command, feedback string) (*session.Session, error) {
	sess, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}

	if _, err := session.Lookup(sess.Phase, sess.Stage, cmd); err != nil {
		return nil, err
	}

	p, err := o.profiles.Get(sess.Profile)
	if err != nil {
		return nil, err
	}

	// An accepted approve-family command on an errored session is the resume
	// path: the operator fixed the provider and is retrying.
	if cmd.IsApproveFamily() {
		if sess.Status == session.StatusError {
			sess.Status = session.StatusInProgress
			sess.LastError = ""
		}
		sess.Approval.Pending = false
	}

	driveErr := o.drive(ctx, sess, p, cmd, false, feedback)
	return o.finish(sess, driveErr)
}

// finish applies the run-error policy and persists the session.
func (o *Orchestrator) finish(sess *session.Session, driveErr error) (*session.Session, error) {
	if driveErr != nil {
		engErr := errors.AsEngineError(driveErr)
		if engErr == nil {
			engErr = errors.ErrInternal("workflow run failed", driveErr)
		}

		switch engErr.Code {
		case errors.CodeProviderNotFound:
			// Terminal: the session cannot make progress on this binding.
			sess.Phase = session.PhaseError
			sess.Stage = session.StageNone
		case errors.CodeProviderError, errors.CodePathInvalid, errors.CodePathEscape,
			errors.CodeTimeout, errors.CodeGateError:
			// Recoverable: phase and stage are preserved so an approve after
			// the operator's fix resumes in place.
		default:
			return nil, driveErr
		}

		sess.Status = session.StatusError
		sess.LastError = engErr.Error()
		sess.AppendMessage(fmt.Sprintf("Workflow failed at %s: %s", sess.StateString(), engErr.Error()))

		e := events.New(events.WorkflowFailed, sess.ID)
		e.Phase = string(sess.Phase)
		e.Iteration = sess.CurrentIteration
		e.Metadata = map[string]any{"error": engErr.Error()}
		o.emitter.Emit(e)

		o.logger.Error("workflow failed",
			"session", sess.ID, "state", sess.StateString(), "error", engErr)
	}

	if err := o.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}
