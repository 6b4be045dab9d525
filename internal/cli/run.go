package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cli-eval/prbench/internal/bench"
	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/iflow"
	"github.com/cli-eval/prbench/internal/quality"
	"github.com/cli-eval/prbench/internal/results"
	"github.com/cli-eval/prbench/internal/store"
	"github.com/cli-eval/prbench/internal/workspace"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		dir          string
		benchmark    string
		strategy     string
		maxQuestions int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ask the ground truth questions in one iFlow session and record the answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if dir == "" {
				dir = cfg.Workdir
			}
			if strategy != "" {
				switch strategy {
				case config.StrategyDirect, config.StrategyPTY, config.StrategyHybrid:
					cfg.IFlow.Strategy = strategy
				default:
					return fmt.Errorf("invalid --strategy %q (direct|pty|hybrid)", strategy)
				}
			}
			if maxQuestions > 0 {
				cfg.Bench.MaxQuestions = maxQuestions
			}
			ws := workspace.New(dir)
			logger := a.logger.With("benchmark", benchmark)

			driver, err := iflow.New(iflow.Options{
				Config:  cfg.IFlow,
				Rules:   quality.RulesFrom(cfg.Quality),
				Workdir: ws.Dir,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			history := &lazyHistory{path: cfg.Bench.Store, logger: logger}
			defer history.Close()

			report, err := bench.New(&cfg, ws, driver, history, logger).Run(cmd.Context(), benchmark)
			if err != nil {
				if errors.Is(err, iflow.ErrToolMissing) {
					return fmt.Errorf("iflow CLI unavailable (binary %q): %w", cfg.IFlow.Binary, err)
				}
				return err
			}

			s := report.Summary
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Benchmark %s %s (%s)\n", benchmark, s.Status, cfg.IFlow.Strategy)
			fmt.Fprintf(out, "  answers:   %d/%d ok (%.1f%%), %d errors\n", s.OK, s.Total, s.SuccessRate(), s.Errors)
			if s.MemoryChecks > 0 {
				fmt.Fprintf(out, "  memory:    %d/%d checks passed\n", s.MemoryPassed, s.MemoryChecks)
			}
			fmt.Fprintf(out, "  mode:      %s", s.FinalMode)
			if s.Escalated {
				fmt.Fprint(out, " (escalated)")
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  health:    %s\n", s.Health())
			fmt.Fprintf(out, "  results:   %s\n", report.ResultsPath)
			fmt.Fprintf(out, "  metrics:   %s\n", report.MetricsPath)
			fmt.Fprintf(out, "  run id:    %s\n", report.RunID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "workspace", "", "workspace directory (default from config)")
	cmd.Flags().StringVar(&benchmark, "benchmark", "", "benchmark name; results go under benchmarks_dir/<name>")
	cmd.Flags().StringVar(&strategy, "strategy", "", "interaction strategy: direct, pty or hybrid (default from config)")
	cmd.Flags().IntVar(&maxQuestions, "max-questions", 0, "ask at most this many questions")
	_ = cmd.MarkFlagRequired("benchmark")
	return cmd
}

// lazyHistory opens the store when the first run is recorded, so a run that
// fails its version check leaves no database behind.
type lazyHistory struct {
	path   string
	logger *slog.Logger
	db     *store.Store
}

var errHistoryClosed = errors.New("run history not open")

func (h *lazyHistory) CreateRun(ctx context.Context, id string, hdr results.Header, resultsPath string) error {
	if h.db == nil {
		db, err := store.Open(h.path, h.logger)
		if err != nil {
			return err
		}
		h.db = db
	}
	return h.db.CreateRun(ctx, id, hdr, resultsPath)
}

func (h *lazyHistory) AddAnswer(ctx context.Context, runID string, e results.Entry) error {
	if h.db == nil {
		return errHistoryClosed
	}
	return h.db.AddAnswer(ctx, runID, e)
}

func (h *lazyHistory) FinishRun(ctx context.Context, id string, sum results.Summary) error {
	if h.db == nil {
		return errHistoryClosed
	}
	return h.db.FinishRun(ctx, id, sum)
}

func (h *lazyHistory) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
