package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/watcher"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	var approve bool
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Wait for the session's pending response file",
		Long: `Watch the session directory until the response file the workflow is
waiting on exists and has stopped changing. With --approve, issue the
approve command once the file settles.

Typical flow with a manual provider: the workflow suspends at
PLAN[RESPONSE], you write the response file from another terminal or
editor, and watch --approve resumes the session the moment it lands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("watch", err)
			}
			defer app.Close()

			sess, err := app.orc.Status(cmd.Context(), args[0])
			if err != nil {
				return fail("watch", err)
			}
			if sess.Stage != session.StageResponse {
				return fail("watch", errors.ErrInvalidCommand(string(sess.Phase), string(sess.Stage), "watch"))
			}

			rel := fmt.Sprintf("%s-response.md", sess.Phase.Slug())
			dir := filepath.Join(app.files.SessionDir(sess.ID),
				fmt.Sprintf("iteration-%d", sess.CurrentIteration))

			if !quiet && !jsonOut {
				fmt.Printf("Waiting for %s ...\n", filepath.Join(dir, rel))
			}
			w := watcher.New()
			hash, err := w.WaitForFile(cmd.Context(), dir, rel)
			if err != nil {
				return fail("watch", errors.Wrap(err, "waiting for the response file failed"))
			}
			if !quiet && !jsonOut {
				fmt.Printf("Response file settled (sha256 %s)\n", hash)
			}

			if !approve {
				if jsonOut {
					return emitJSON("watch", map[string]any{"sessionId": sess.ID, "sha256": hash})
				}
				return nil
			}

			err = app.withSessionLock(sess.ID, func() error {
				sess, err = app.orc.Approve(cmd.Context(), sess.ID, "")
				return err
			})
			if err != nil {
				return fail("watch", err)
			}
			return sessionResult("watch", sess)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve once the response file settles")
	return cmd
}
