package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/events"
	"github.com/aiwf/aiwf/internal/journal"
)

// newEventsCmd creates the events command.
func newEventsCmd() *cobra.Command {
	var (
		types  []string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Show a session's event history",
		Long:  "Query the event journal for a session's timeline, oldest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fail("events", err)
			}
			defer app.Close()

			if app.journal == nil {
				return fail("events", errors.ErrConfigInvalid("journal", "event journaling is disabled in the configuration"))
			}

			opts := journal.QueryOptions{SessionID: args[0], Limit: limit, Offset: offset}
			for _, t := range types {
				opts.Types = append(opts.Types, events.Type(t))
			}
			records, err := app.journal.Query(opts)
			if err != nil {
				return fail("events", err)
			}

			if jsonOut {
				return emitJSON("events", records)
			}
			if len(records) == 0 {
				fmt.Println("No events.")
				return nil
			}
			for _, r := range records {
				line := fmt.Sprintf("%s  %-20s", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Type)
				if r.Phase != "" {
					line += fmt.Sprintf(" phase=%s iteration=%d", r.Phase, r.Iteration)
				}
				if r.ArtifactPath != "" {
					line += " path=" + r.ArtifactPath
				}
				if msg, ok := r.Metadata["error"].(string); ok {
					line += " error=" + msg
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&types, "type", nil, "filter by event type (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip")
	return cmd
}
