package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/logging"
)

// app holds state shared by every subcommand, populated in PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string
	quiet      bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the prbench command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "prbench",
		Short:         "Benchmark the iFlow CLI on real GitHub pull requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to YAML config (defaults apply when empty)")
	flags.StringVar(&a.logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	flags.BoolVar(&a.quiet, "quiet", false, "log to the log file only")

	root.AddCommand(
		newFetchCommand(a),
		newPromptCommand(a),
		newRunCommand(a),
		newReportCommand(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		switch a.logLevel {
		case "debug", "info", "warn", "error":
			cfg.Log.Level = a.logLevel
		default:
			return fmt.Errorf("invalid --log-level %q (debug|info|warn|error)", a.logLevel)
		}
	}

	logger, err := logging.SetupLogger(cfg.LogFile, cfg.Log.Level, a.quiet)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
