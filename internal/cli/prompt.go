package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cli-eval/prbench/internal/prompt"
	"github.com/cli-eval/prbench/internal/workspace"
)

func newPromptCommand(a *app) *cobra.Command {
	var (
		dir      string
		output   string
		summary  bool
		maxFiles int
	)

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Generate the initial context prompt from a fetched workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Workdir
			}
			if maxFiles <= 0 {
				maxFiles = a.cfg.Bench.MaxPromptFiles
			}
			ws := workspace.New(dir)

			text, err := prompt.Generate(ws, prompt.Options{MaxFiles: maxFiles, Summary: summary})
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}

			path := ws.PromptPath()
			if output != "" {
				path = output
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return fmt.Errorf("create prompt dir: %w", err)
				}
				if err := os.WriteFile(path, []byte(text), 0644); err != nil {
					return fmt.Errorf("write prompt: %w", err)
				}
			} else if _, err := ws.WritePrompt(text); err != nil {
				return err
			}

			a.logger.Info("prompt generated", "path", path, "chars", len(text), "summary", summary)
			fmt.Fprintf(cmd.OutOrStdout(), "Prompt written to %s (%d chars)\n", path, len(text))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "workspace", "", "workspace directory (default from config)")
	cmd.Flags().StringVar(&output, "output", "", `output file, or "-" for stdout (default: workspace generated_prompt.md)`)
	cmd.Flags().BoolVar(&summary, "summary", false, "generate the short summary prompt")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "changed files to list (default from config)")
	return cmd
}
