package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/atlas/pkg/agent"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/spf13/cobra"
)

type callOptions struct {
	params  []string
	rawJSON string
	taskID  string
}

func newCallCmd(root *rootOptions) *cobra.Command {
	opts := &callOptions{}
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Execute one tool call as a tracked task",
		Long: `Execute one tool call in-process and print the result as JSON.
Parameters come from --json and then --param, later values winning. A --param value
is read as a JSON literal when it parses as one, otherwise as a string.
On failure the error envelope is printed to stderr.`,
		Example: `  atlas call calculator --param a=5 --param b=3
  atlas call echo --json '{"text":"hi","times":2}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.rawJSON, "json", "", "parameters as a JSON object")
	cmd.Flags().StringVar(&opts.taskID, "task-id", "", "task id to use; re-sending a completed id replays its result")
	return cmd
}

// buildCallParams assembles the task parameters with the tool name under agent.ToolKey.
func buildCallParams(tool, rawJSON string, pairs []string) (*metadata.Metadata, error) {
	params := metadata.New().Insert(agent.ToolKey, metadata.String(tool))

	if rawJSON != "" {
		fromJSON, err := metadata.FromJSON([]byte(rawJSON))
		if err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
		params.Merge(fromJSON)
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", pair)
		}
		params.Insert(key, parseParamValue(raw))
	}

	// the positional tool name always wins over a "tool" key in the parameters
	params.Insert(agent.ToolKey, metadata.String(tool))
	return params, nil
}

func parseParamValue(raw string) metadata.Value {
	var v metadata.Value
	if err := v.UnmarshalJSON([]byte(raw)); err == nil {
		return v
	}
	return metadata.String(raw)
}

// ErrReported marks a failure whose error envelope was already printed.
var ErrReported = errors.New("request failed")

func runCall(cmd *cobra.Command, root *rootOptions, opts *callOptions, tool string) error {
	params, err := buildCallParams(tool, opts.rawJSON, opts.params)
	if err != nil {
		return err
	}

	a, closeFn, err := localAgent(root)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := a.ExecuteTask(cmd.Context(), opts.taskID, params)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), agent.EnvelopeFrom(err).JSON())
		return fmt.Errorf("%w: %s", ErrReported, agent.KindOf(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.String())
	return nil
}
