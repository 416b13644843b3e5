package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var accepted bool
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("status", err)
			}
			defer app.Close()

			sess, err := app.orc.Status(cmd.Context(), args[0])
			if err != nil {
				return fail("status", err)
			}

			if accepted {
				cmds, err := app.orc.AcceptedCommands(args[0])
				if err != nil {
					return fail("status", err)
				}
				if jsonOut {
					return emitJSON("status", map[string]any{"session": sess, "acceptedCommands": cmds})
				}
				printSession(sess)
				fmt.Print("Accepts:    ")
				for i, c := range cmds {
					if i > 0 {
						fmt.Print(", ")
					}
					fmt.Print(c)
				}
				fmt.Println()
				return nil
			}
			return sessionResult("status", sess)
		},
	}
	cmd.Flags().BoolVar(&accepted, "accepted", false, "also list the commands the current state accepts")
	return cmd
}

// newSessionsCmd creates the sessions command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	// Bare "aiwf sessions" lists.
	cmd.RunE = newSessionsListCmd().RunE
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("sessions", err)
			}
			defer app.Close()

			ids, err := app.store.List()
			if err != nil {
				return fail("sessions", err)
			}

			if jsonOut {
				rows := make([]map[string]any, 0, len(ids))
				for _, id := range ids {
					sess, err := app.store.Load(id)
					if err != nil {
						continue
					}
					rows = append(rows, map[string]any{
						"sessionId": sess.ID,
						"profile":   sess.Profile,
						"state":     sess.StateString(),
						"status":    sess.Status,
						"updatedAt": sess.UpdatedAt,
					})
				}
				return emitJSON("sessions", rows)
			}

			if len(ids) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			fmt.Printf("%-28s %-20s %-20s %s\n", "SESSION", "PROFILE", "STATE", "STATUS")
			for _, id := range ids {
				sess, err := app.store.Load(id)
				if err != nil {
					fmt.Printf("%-28s (unreadable: %v)\n", id, err)
					continue
				}
				fmt.Printf("%-28s %-20s %-20s %s\n", sess.ID, sess.Profile, sess.StateString(), sess.Status)
			}
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("sessions show", err)
			}
			defer app.Close()

			sess, err := app.store.Load(args[0])
			if err != nil {
				return fail("sessions show", err)
			}
			return sessionResult("sessions show", sess)
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("sessions delete", err)
			}
			defer app.Close()

			if err := app.store.Delete(args[0]); err != nil {
				return fail("sessions delete", err)
			}
			if jsonOut {
				return emitJSON("sessions delete", map[string]any{"sessionId": args[0]})
			}
			fmt.Printf("Session %s deleted\n", args[0])
			return nil
		},
	}
}

// newProfilesCmd creates the profiles command.
func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [name]",
		Short: "List profiles, or show one profile's schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("profiles", err)
			}
			defer app.Close()

			if len(args) == 1 {
				p, err := app.profiles.Get(args[0])
				if err != nil {
					return fail("profiles", err)
				}
				meta := p.Metadata()
				if jsonOut {
					return emitJSON("profiles", meta)
				}
				fmt.Printf("Name:        %s\n", meta.Name)
				if meta.Description != "" {
					fmt.Printf("Description: %s\n", meta.Description)
				}
				fmt.Println("Context schema:")
				for _, name := range meta.ContextSchema.Names() {
					f := meta.ContextSchema[name]
					line := fmt.Sprintf("  %s (%s", name, f.Type)
					if f.Required {
						line += ", required"
					}
					line += ")"
					fmt.Println(line)
				}
				return nil
			}

			keys := app.profiles.Keys()
			if jsonOut {
				return emitJSON("profiles", keys)
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

// newProvidersCmd creates the providers command.
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers [key]",
		Short: "List configured providers, or show one provider's capabilities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("providers", err)
			}
			defer app.Close()

			if len(args) == 1 {
				p, err := app.providers.Get(args[0])
				if err != nil {
					return fail("providers", err)
				}
				meta := p.Metadata()
				if jsonOut {
					return emitJSON("providers", meta)
				}
				fmt.Printf("Key:            %s\n", args[0])
				fmt.Printf("Name:           %s\n", meta.Name)
				fmt.Printf("Filesystem:     %s\n", meta.FSAbility)
				fmt.Printf("System prompt:  %v\n", meta.SupportsSystemPrompt)
				return nil
			}

			keys := app.providers.Keys()
			if jsonOut {
				return emitJSON("providers", keys)
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}
