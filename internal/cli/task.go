package cli

import (
	"encoding/json"
	"fmt"

	"github.com/harun/atlas/pkg/agent"
	"github.com/spf13/cobra"
)

func newTaskCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "task <id>",
		Short: "Show a persisted task",
		Long: `Show the snapshot of a task by id. Only tasks saved by a durable store
(store.driver = sqlite) outlive the process that ran them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := localAgent(root)
			if err != nil {
				return err
			}
			defer closeFn()

			t, err := a.Task(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), agent.EnvelopeFrom(err).JSON())
				return fmt.Errorf("%w: %s", ErrReported, agent.KindOf(err))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}
}
