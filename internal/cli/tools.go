package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent may call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := localAgent(root)
			if err != nil {
				return err
			}
			defer closeFn()

			tools := a.Tools()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tools)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPARAMETERS\tDESCRIPTION")
			for _, tool := range tools {
				params := make([]string, 0, len(tool.Parameters))
				for _, p := range tool.Parameters {
					entry := p.Name + ":" + p.Type
					if p.Required {
						entry += "*"
					}
					params = append(params, entry)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, strings.Join(params, ","), tool.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tool descriptors as JSON")
	return cmd
}
