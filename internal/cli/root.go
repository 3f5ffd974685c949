package cli

import (
	"context"
	"fmt"

	"github.com/harun/atlas/internal/config"
	"github.com/harun/atlas/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	logLevel string
}

var rootCmd = NewRootCmd()

// NewRootCmd builds a fresh command tree. Tests use it so flag state never leaks between runs.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "atlas",
		Short: "Atlas - capability-scoped tool execution agent",
		Long: `Atlas runs tools on behalf of callers under a capability list, with per-tool
timeouts and concurrency limits, a middleware chain and a tracked task lifecycle.
It is served over the Model Context Protocol (stdio or streamable HTTP).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.atlas/atlas.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newServeCmd(opts),
		newToolsCmd(opts),
		newCallCmd(opts),
		newTaskCmd(opts),
		newStatusCmd(opts),
		newStopCmd(opts),
		newConfigureCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command with ctx. This is called by main.main().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the config, applying the --log-level override.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) configPath() string {
	return config.NewLoader(o.cfgFile).GetConfigPath()
}

// setupLogger installs the process logger. Console output always goes to stderr.
func setupLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atlas version %s\n", version)
		},
	}
}
