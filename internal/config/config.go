// Package config provides engine configuration for aiwf.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/util"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// AiwfDir is the aiwf configuration directory.
	AiwfDir = ".aiwf"
)

// GateSpec configures the approval gate for one (phase, stage) pair.
type GateSpec struct {
	// Approver is the registered approver key (e.g. "skip", "manual").
	Approver string `yaml:"approver"`
	// MaxRetries bounds the RESPONSE-stage regeneration loop. Zero disables
	// automatic retries.
	MaxRetries int `yaml:"maxRetries"`
	// AllowRewrite permits the approver's suggested content to replace a
	// prompt file (PROMPT stages) or be stored for the human (RESPONSE stages).
	AllowRewrite bool `yaml:"allowRewrite"`
}

// GateOverride is a partial GateSpec: unset fields fall back to the default.
type GateOverride struct {
	Approver     string `yaml:"approver,omitempty"`
	MaxRetries   *int   `yaml:"maxRetries,omitempty"`
	AllowRewrite *bool  `yaml:"allowRewrite,omitempty"`
}

// ApprovalConfig resolves the effective gate per (phase, stage). Override
// keys use the form "PHASE/STAGE", e.g. "PLAN/PROMPT".
type ApprovalConfig struct {
	Default   GateSpec                `yaml:"default"`
	Overrides map[string]GateOverride `yaml:"overrides,omitempty"`
}

// For returns the gate spec for a (phase, stage) pair.
func (a ApprovalConfig) For(phase session.Phase, stage session.Stage) GateSpec {
	spec := a.Default
	if o, ok := a.Overrides[string(phase)+"/"+string(stage)]; ok {
		if o.Approver != "" {
			spec.Approver = o.Approver
		}
		if o.MaxRetries != nil {
			spec.MaxRetries = *o.MaxRetries
		}
		if o.AllowRewrite != nil {
			spec.AllowRewrite = *o.AllowRewrite
		}
	}
	return spec
}

// Config is the aiwf engine configuration.
type Config struct {
	// SessionsRoot is where session directories live.
	SessionsRoot string `yaml:"sessionsRoot"`

	// ProfilesDir is the project-local profile manifest directory.
	ProfilesDir string `yaml:"profilesDir"`

	// StandardsDir is the directory the "dir" standards provider bundles.
	StandardsDir string `yaml:"standardsDir"`

	// Journal is the SQLite event journal path. Empty disables journaling.
	Journal string `yaml:"journal,omitempty"`

	// DefaultProviders maps workflow roles to provider keys, used when a
	// session does not bind a role explicitly.
	DefaultProviders map[string]string `yaml:"defaultProviders,omitempty"`

	// Providers declares provider instances by key. Each entry must carry a
	// "type" field naming a registered provider factory; the remaining
	// fields are passed to the factory as-is.
	Providers map[string]map[string]any `yaml:"providers,omitempty"`

	// Approvals configures the approval gates.
	Approvals ApprovalConfig `yaml:"approvals"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SessionsRoot: filepath.Join(AiwfDir, "sessions"),
		ProfilesDir:  filepath.Join(AiwfDir, "profiles"),
		StandardsDir: "standards",
		Journal:      filepath.Join(AiwfDir, "aiwf.db"),
		DefaultProviders: map[string]string{
			string(session.RolePlanner):   "manual",
			string(session.RoleGenerator): "manual",
			string(session.RoleReviewer):  "manual",
			string(session.RoleReviser):   "manual",
		},
		Providers: map[string]map[string]any{
			"manual": {"type": "manual"},
		},
		Approvals: ApprovalConfig{
			Default: GateSpec{Approver: "manual", MaxRetries: 3, AllowRewrite: true},
		},
	}
}

// Load loads the config from .aiwf/config.yaml, falling back to
// $HOME/.aiwf/config.yaml and then to defaults.
func Load() (*Config, error) {
	project := filepath.Join(AiwfDir, ConfigFileName)
	if _, err := os.Stat(project); err == nil {
		return LoadFrom(project)
	}
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, AiwfDir, ConfigFileName)
		if _, err := os.Stat(global); err == nil {
			return LoadFrom(global)
		}
	}
	return Default(), nil
}

// LoadFrom loads the config from a specific path. A missing file yields the
// defaults; a malformed file is an error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.ErrConfigInvalid(path, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the config to the project-local location.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(AiwfDir, ConfigFileName))
}

// SaveTo writes the config atomically to a specific path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks structural constraints the engine depends on.
func (c *Config) Validate() error {
	if c.SessionsRoot == "" {
		return errors.ErrConfigInvalid("sessionsRoot", "must not be empty")
	}
	if c.Approvals.Default.Approver == "" {
		return errors.ErrConfigInvalid("approvals.default.approver", "must not be empty")
	}
	if c.Approvals.Default.MaxRetries < 0 {
		return errors.ErrConfigInvalid("approvals.default.maxRetries", "must be >= 0")
	}
	for key, o := range c.Approvals.Overrides {
		if err := validateGateKey(key); err != nil {
			return err
		}
		if o.MaxRetries != nil && *o.MaxRetries < 0 {
			return errors.ErrConfigInvalid("approvals.overrides."+key+".maxRetries", "must be >= 0")
		}
	}
	for role := range c.DefaultProviders {
		if !session.IsValidRole(session.Role(role)) {
			return errors.ErrConfigInvalid("defaultProviders."+role, "unknown role")
		}
	}
	for key, spec := range c.Providers {
		if t, _ := spec["type"].(string); t == "" {
			return errors.ErrConfigInvalid("providers."+key, "missing type")
		}
	}
	return nil
}

// validateGateKey checks an approval override key of the form PHASE/STAGE.
func validateGateKey(key string) error {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return errors.ErrConfigInvalid("approvals.overrides."+key, `key must look like "PHASE/STAGE"`)
	}
	phase := session.Phase(parts[0])
	stage := session.Stage(parts[1])
	if !phase.IsActive() {
		return errors.ErrConfigInvalid("approvals.overrides."+key, "not an active phase")
	}
	if stage != session.StagePrompt && stage != session.StageResponse {
		return errors.ErrConfigInvalid("approvals.overrides."+key, "stage must be PROMPT or RESPONSE")
	}
	return nil
}

// ProviderRoles resolves the effective role→provider mapping: explicit
// bindings first, config defaults for the rest. Missing roles stay absent;
// the orchestrator rejects incomplete bindings at initialization.
func (c *Config) ProviderRoles(explicit map[session.Role]string) map[session.Role]string {
	out := make(map[session.Role]string, len(session.ValidRoles()))
	for _, role := range session.ValidRoles() {
		if key, ok := explicit[role]; ok && key != "" {
			out[role] = key
			continue
		}
		if key, ok := c.DefaultProviders[string(role)]; ok && key != "" {
			out[role] = key
		}
	}
	return out
}
