package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/orchestrator"
	"github.com/aiwf/aiwf/internal/profile"
	"github.com/aiwf/aiwf/internal/session"
)

// newNewCmd creates the new command.
func newNewCmd() *cobra.Command {
	var (
		profileName  string
		contextPairs []string
		providerBind []string
		standardsKey string
		start        bool
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new workflow session",
		Long: `Create a session from a profile. Context values satisfy the profile's
context schema; provider bindings override the configured defaults.

Examples:
  aiwf new --profile java-entity --context entity=Tier --context table=app.tiers
  aiwf new --profile java-entity --context entity=Tier --context table=app.tiers \
      --provider generator=anthropic --provider reviewer=anthropic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("new", err)
			}
			defer app.Close()

			raw, err := parsePairs(contextPairs, "context")
			if err != nil {
				return fail("new", err)
			}

			prof, err := app.profiles.Get(profileName)
			if err != nil {
				return fail("new", err)
			}
			context, err := coerceContext(prof.Metadata().ContextSchema, raw)
			if err != nil {
				return fail("new", err)
			}

			explicit := make(map[session.Role]string)
			for _, bind := range providerBind {
				k, v, ok := strings.Cut(bind, "=")
				if !ok {
					return fail("new", errors.ErrConfigInvalid("provider", fmt.Sprintf("%q is not role=key", bind)))
				}
				role := session.Role(k)
				if !session.IsValidRole(role) {
					return fail("new", errors.ErrConfigInvalid("provider."+k, "unknown role"))
				}
				explicit[role] = v
			}

			sess, err := app.orc.InitializeRun(cmd.Context(), orchestrator.InitializeInput{
				Profile:              profileName,
				Providers:            app.cfg.ProviderRoles(explicit),
				Context:              context,
				StandardsProviderKey: standardsKey,
			})
			if err != nil {
				return fail("new", err)
			}

			if start {
				err = app.withSessionLock(sess.ID, func() error {
					sess, err = app.orc.Init(cmd.Context(), sess.ID)
					return err
				})
				if err != nil {
					return fail("new", err)
				}
				return sessionResult("new", sess)
			}

			if jsonOut {
				return emitJSON("new", sess)
			}
			fmt.Printf("Session %s created\n", sess.ID)
			fmt.Printf("Run: aiwf init %s to start the workflow\n", sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&profileName, "profile", "", "profile name (required)")
	cmd.Flags().StringArrayVar(&contextPairs, "context", nil, "context value as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&providerBind, "provider", nil, "provider binding as role=key (repeatable)")
	cmd.Flags().StringVar(&standardsKey, "standards-provider", "", "standards provider key (default from profile)")
	cmd.Flags().BoolVar(&start, "start", false, "issue init immediately after creating the session")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

// parsePairs parses repeated key=value flags into a string map.
func parsePairs(pairs []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.ErrConfigInvalid(flag, fmt.Sprintf("%q is not key=value", p))
		}
		out[k] = v
	}
	return out, nil
}

// coerceContext converts CLI string values into the types the profile's
// schema declares, so int and bool fields survive flag parsing.
func coerceContext(schema profile.Schema, values map[string]string) (map[string]any, error) {
	coerced, fieldErrs := schema.Coerce(values)
	if len(fieldErrs) > 0 {
		return nil, errors.ErrContextInvalid(fieldErrs)
	}
	return coerced, nil
}
