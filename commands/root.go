// Package commands defines the semsync CLI: the serve daemon, one-shot
// agent queries and connector control.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semsync/config"
)

// Version is stamped at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRoot builds the semsync command tree.
func NewRoot() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "semsync",
		Short: "Knowledge-ingestion and agent platform",
		Long: `Semsync syncs third-party sources into a normalized record store,
indexes their content for retrieval, and answers questions over the
synced knowledge with a bounded tool-calling agent.

All components communicate over NATS JetStream.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newConnectorCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("semsync version %s\n", Version)
			},
		},
	)
	return cmd
}

// setup loads configuration and installs the process logger.
func (o *rootOptions) setup() (*config.Config, *slog.Logger, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(o.logLevel),
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFromFile(o.configPath)
		if err == nil {
			defaults := config.DefaultConfig()
			defaults.Merge(cfg)
			cfg = defaults
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
