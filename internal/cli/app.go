// Package cli implements the aiwf command-line interface.
// This file wires the engine together for the commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/aiwf/aiwf/internal/config"
	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/journal"
	"github.com/aiwf/aiwf/internal/lock"
	"github.com/aiwf/aiwf/internal/orchestrator"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/provider"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/storage"
)

// app bundles the wired engine for one command invocation.
type app struct {
	cfg       *config.Config
	orc       *orchestrator.Orchestrator
	bus       *events.Bus
	journal   *journal.Journal
	files     *storage.Files
	store     *storage.Store
	profiles  *profile.Registry
	providers *provider.Registry
	locker    lock.SessionLocker

	// heartbeatEvery overrides the lock heartbeat cadence; zero means
	// a third of the lock TTL.
	heartbeatEvery time.Duration
}

// stdout is swapped for a buffer in tests.
var stdout io.Writer = os.Stdout

// newApp loads the configuration and builds the orchestrator with the
// process-wide provider, profile, and approver registries.
func newApp() (*app, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	providers := provider.Default()
	if err := providers.BuildFromConfig(cfg.Providers); err != nil {
		return nil, err
	}

	profiles := profile.Default()
	if err := profile.RegisterAll(profiles, cfg.ProfilesDir); err != nil {
		return nil, err
	}

	bus := events.NewBus(slog.Default())
	if !quiet && !jsonOut {
		bus.Subscribe(events.NewStreamObserver(os.Stderr).Observe)
	}

	files := storage.NewFiles(cfg.SessionsRoot)
	a := &app{
		cfg:       cfg,
		bus:       bus,
		files:     files,
		store:     storage.NewStore(files),
		profiles:  profiles,
		providers: providers,
		locker:    lock.NewFileLocker(cfg.SessionsRoot, lockOwner()),
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, slog.Default())
		if err != nil {
			// The journal is observability, not correctness.
			slog.Warn("event journal unavailable", "path", cfg.Journal, "error", err)
		} else {
			a.journal = j
			bus.Subscribe(j.Observer())
		}
	}

	a.orc = orchestrator.New(cfg,
		orchestrator.WithEmitter(bus),
		orchestrator.WithProviderRegistry(providers),
		orchestrator.WithProfileRegistry(profiles),
	)
	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
}

// applyEnvOverrides overlays the environment bindings from initConfig onto a
// loaded config. File values win over defaults; the environment wins over
// both.
func applyEnvOverrides(cfg *config.Config) {
	if v := viper.GetString("sessions_root"); v != "" {
		cfg.SessionsRoot = v
	}
	if v := viper.GetString("profiles_dir"); v != "" {
		cfg.ProfilesDir = v
	}
	if v := viper.GetString("standards_dir"); v != "" {
		cfg.StandardsDir = v
	}
	if v := viper.GetString("journal_path"); v != "" {
		cfg.Journal = v
	}
}

// lockOwner is the user@host identifier written into lock files.
func lockOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return user + "@" + hostname
}

// withSessionLock holds the session's advisory lock across fn, heartbeating
// so long operations do not go stale mid-run. The lock is advisory: a second
// engine process sees a HeldError, one crashed mid-run goes stale and is
// taken over.
func (a *app) withSessionLock(sessionID string, fn func() error) error {
	if err := a.locker.Acquire(sessionID); err != nil {
		return err
	}
	defer func() { _ = a.locker.Release(sessionID) }()

	every := a.heartbeatEvery
	if every <= 0 {
		every = lock.DefaultTTL / 3
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := a.locker.Heartbeat(sessionID); err != nil {
					slog.Warn("session lock heartbeat failed", "sessionId", sessionID, "error", err)
				}
			}
		}
	}()

	err := fn()
	close(stop)
	<-done
	return err
}

// jsonEnvelope is the machine-readable output shape under --json.
type jsonEnvelope struct {
	ExitCode int    `json:"exit_code"`
	Command  string `json:"command"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// emitJSON prints the success envelope to stdout.
func emitJSON(command string, data any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonEnvelope{ExitCode: 0, Command: command, Data: data})
}

// fail reports a command failure on the active output mode and returns err.
func fail(command string, err error) error {
	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(jsonEnvelope{ExitCode: 1, Command: command, Error: errorText(err)})
		return err
	}
	PrintError(err)
	return err
}

func errorText(err error) string {
	if engErr := errors.AsEngineError(err); engErr != nil {
		return engErr.UserMessage()
	}
	return err.Error()
}

// printSession renders the session for humans.
func printSession(sess *session.Session) {
	fmt.Printf("Session:    %s\n", sess.ID)
	fmt.Printf("Profile:    %s\n", sess.Profile)
	fmt.Printf("State:      %s\n", sess.StateString())
	fmt.Printf("Status:     %s\n", sess.Status)
	fmt.Printf("Iteration:  %d\n", sess.CurrentIteration)
	if sess.Approval.Pending {
		fmt.Printf("Approval:   pending")
		if sess.Approval.Feedback != "" {
			fmt.Printf(" (%s)", sess.Approval.Feedback)
		}
		fmt.Println()
	}
	if sess.LastError != "" {
		fmt.Printf("Last error: %s\n", sess.LastError)
	}
	if len(sess.Artifacts) > 0 {
		fmt.Println("Artifacts:")
		for _, a := range sess.Artifacts {
			fmt.Printf("  %s (%s, iteration %d)\n", a.RelativePath, a.Phase, a.Iteration)
		}
	}
	if len(sess.Messages) > 0 {
		last := sess.Messages[len(sess.Messages)-1]
		fmt.Printf("Last note:  %s\n", last.Text)
	}
}

// sessionResult prints a session under the active output mode.
func sessionResult(command string, sess *session.Session) error {
	if jsonOut {
		return emitJSON(command, sess)
	}
	printSession(sess)
	return nil
}
