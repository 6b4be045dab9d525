package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cli-eval/prbench/internal/report"
	"github.com/cli-eval/prbench/internal/store"
)

func newReportCommand(a *app) *cobra.Command {
	var (
		benchmark string
		runID     string
		limit     int
		width     int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show recorded benchmark runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.cfg.Bench.Store); err != nil {
				return fmt.Errorf("no run history at %s: %w", a.cfg.Bench.Store, err)
			}
			db, err := store.Open(a.cfg.Bench.Store, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if width <= 0 {
				width, _ = strconv.Atoi(os.Getenv("COLUMNS"))
			}
			ctx := cmd.Context()

			if runID != "" {
				run, err := db.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				answers, err := db.Answers(ctx, run.ID)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.RenderRun(*run, answers, width))
				return nil
			}

			runs, err := db.ListRuns(ctx, benchmark, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(runs, width))
			return nil
		},
	}

	cmd.Flags().StringVar(&benchmark, "benchmark", "", "only show runs of this benchmark")
	cmd.Flags().StringVar(&runID, "run", "", "show one run with its answers (full id or unique prefix)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")
	cmd.Flags().IntVar(&width, "width", 0, "output width (default $COLUMNS or 120)")
	return cmd
}
