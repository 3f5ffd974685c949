package cli

import (
	"fmt"

	"github.com/harun/atlas/internal/daemon"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	transport string
	addr      string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over MCP",
		Long: `Build the configured agent and serve it over the Model Context Protocol.
With the stdio transport the process exits when the client closes stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.transport, "transport", "", "MCP transport override (stdio, http)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address override")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zl := log.Zerolog()
	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: root.configPath(),
		Version:    version,
		Logger:     &zl,
		Stdin:      cmd.InOrStdin(),
		Stdout:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}
	return d.Wait(cmd.Context())
}
