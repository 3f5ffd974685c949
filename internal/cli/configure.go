package cli

import (
	"fmt"

	"github.com/harun/atlas/internal/config"
	"github.com/spf13/cobra"
)

func newConfigureCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard and save the result.
Current values are offered as defaults; press Enter to keep them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(root.cfgFile)
			base, err := loader.Load()
			if err != nil {
				return err
			}

			cfg, err := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout()).Run(base)
			if err != nil {
				return fmt.Errorf("configuration failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
			fmt.Fprintln(out, "You can now start Atlas with: atlas serve")
			return nil
		},
	}
}
