package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cli-eval/prbench/internal/fetcher"
	"github.com/cli-eval/prbench/internal/git"
	"github.com/cli-eval/prbench/internal/github"
	"github.com/cli-eval/prbench/internal/workspace"
)

func newFetchCommand(a *app) *cobra.Command {
	var (
		repo      string
		number    int
		outputDir string
		questions string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a pull request and clone its repository into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if number <= 0 {
				return errors.New("--pr must be a positive pull request number")
			}
			owner, name, err := github.ParseRepo(repo)
			if err != nil {
				return err
			}
			dir := a.cfg.Workdir
			if outputDir != "" {
				dir = outputDir
			}

			gh, err := github.NewClient(a.cfg.GitHub, a.logger)
			if err != nil {
				return err
			}
			g := git.NewClient(*a.cfg.Git.InsecureSkipTLS, a.logger)
			f := fetcher.New(gh, g, workspace.New(dir), a.cfg.Git, a.logger)

			res, err := f.Run(cmd.Context(), fetcher.Request{
				Owner:         owner,
				Repo:          name,
				Number:        number,
				QuestionsFile: questions,
			})
			if err != nil {
				return fmt.Errorf("fetch %s/%s#%d: %w", owner, name, number, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Fetched %s #%d: %s\n", res.PR.FullName(), res.PR.Number, res.PR.Title)
			fmt.Fprintf(out, "  checkout:  %s (%s)\n", res.Checkout.Ref, shortSHA(res.Checkout.SHA))
			if !res.Checkout.Verified {
				fmt.Fprintln(out, "  warning:   checked out commit differs from the PR head")
			}
			fmt.Fprintf(out, "  repo:      %s\n", res.RepoDir)
			fmt.Fprintf(out, "  info:      %s\n", res.InfoPath)
			fmt.Fprintf(out, "  diff:      %s\n", res.DiffPath)
			fmt.Fprintf(out, "  files:     %s (%d)\n", res.FilesPath, res.FileCount)
			fmt.Fprintf(out, "  context:   %s\n", res.ContextPath)
			fmt.Fprintf(out, "  questions: %s\n", res.QuestionsPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name or a GitHub URL")
	cmd.Flags().IntVar(&number, "pr", 0, "pull request number")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "workspace directory (default from config)")
	cmd.Flags().StringVar(&questions, "questions", "", "ground truth questions file to copy into the workspace")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")
	return cmd
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
