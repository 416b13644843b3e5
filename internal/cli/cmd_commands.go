package cli

import (
	"github.com/spf13/cobra"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <session-id>",
		Short: "Start a session's workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("init", err)
			}
			defer app.Close()

			var sess *session.Session
			err = app.withSessionLock(args[0], func() error {
				sess, err = app.orc.Init(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return fail("init", err)
			}
			return sessionResult("init", sess)
		},
	}
}

// newApproveCmd creates the approve command.
func newApproveCmd() *cobra.Command {
	var complete, revise bool
	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Approve the pending step",
		Long: `Approve the session's current step and let the workflow continue.

At REVIEW[RESPONSE] the review verdict normally decides what happens next;
--complete or --revise forces the outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if complete && revise {
				return fail("approve", errors.ErrConfigInvalid("approve", "--complete and --revise are mutually exclusive"))
			}
			override := ""
			if complete {
				override = "complete"
			} else if revise {
				override = "revise"
			}

			app, err := newApp()
			if err != nil {
				return fail("approve", err)
			}
			defer app.Close()

			var sess *session.Session
			err = app.withSessionLock(args[0], func() error {
				sess, err = app.orc.Approve(cmd.Context(), args[0], override)
				return err
			})
			if err != nil {
				return fail("approve", err)
			}
			return sessionResult("approve", sess)
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "force the review outcome to complete")
	cmd.Flags().BoolVar(&revise, "revise", false, "force the review outcome to revise")
	return cmd
}

// newRejectCmd creates the reject command.
func newRejectCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "reject <session-id>",
		Short: "Reject the pending step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("reject", err)
			}
			defer app.Close()

			var sess *session.Session
			err = app.withSessionLock(args[0], func() error {
				sess, err = app.orc.Reject(cmd.Context(), args[0], feedback)
				return err
			})
			if err != nil {
				return fail("reject", err)
			}
			return sessionResult("reject", sess)
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "why the step was rejected")
	return cmd
}

// newCancelCmd creates the cancel command.
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("cancel", err)
			}
			defer app.Close()

			var sess *session.Session
			err = app.withSessionLock(args[0], func() error {
				sess, err = app.orc.Cancel(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return fail("cancel", err)
			}
			return sessionResult("cancel", sess)
		},
	}
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show aiwf version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("aiwf version 0.1.0-dev")
		},
	}
}
