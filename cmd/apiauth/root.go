package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/apiauth/app"
	"github.com/upb/apiauth/config"
	"github.com/upb/apiauth/internal/observability"
	"go.uber.org/zap"
)

// cli carries the configuration loaded before any subcommand runs
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "apiauth",
		Short: "Request authentication and authorization service",
		Long: `apiauth resolves bearer tokens and API keys into caller identities and
checks their permissions against the IAM policy service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Observability.LogLevel = level
			}

			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			c.cfg = cfg
			c.logger = logger
			return nil
		},
	}

	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (env: LOG_LEVEL)")

	rootCmd.AddCommand(newServeCmd(c))
	rootCmd.AddCommand(newVerifyTokenCmd(c))

	return rootCmd
}

func (c *cli) dependencies(cmd *cobra.Command) (*app.Dependencies, error) {
	deps, err := app.NewDependencies(cmd.Context(), c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	return deps, nil
}
