package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/git"
	"github.com/cli-eval/prbench/internal/prompt"
	"github.com/cli-eval/prbench/internal/workspace"
)

type PRSource interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*workspace.PRRecord, error)
	Diff(ctx context.Context, owner, repo string, number int) (string, error)
	Files(ctx context.Context, owner, repo string, number int) ([]workspace.ChangedFile, error)
}

type Repo interface {
	EnsureClone(ctx context.Context, url, dest string, depth int) error
	CheckoutPR(ctx context.Context, dir string, number, depth int, headSHA, headBranch string) (*git.Checkout, error)
	ClearQuarantine(ctx context.Context, dir string)
}

type Request struct {
	Owner         string
	Repo          string
	Number        int
	QuestionsFile string
}

type Result struct {
	PR            *workspace.PRRecord
	Checkout      *git.Checkout
	RepoDir       string
	InfoPath      string
	DiffPath      string
	FilesPath     string
	ContextPath   string
	QuestionsPath string
	FileCount     int
}

// Fetcher runs the fetch stage: PR metadata, clone, checkout and the
// workspace artifacts later stages read.
type Fetcher struct {
	gh     PRSource
	repo   Repo
	ws     *workspace.Workspace
	cfg    config.GitConfig
	logger *slog.Logger
}

func New(gh PRSource, repo Repo, ws *workspace.Workspace, cfg config.GitConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{gh: gh, repo: repo, ws: ws, cfg: cfg, logger: logger}
}

// Run fetches one PR into the workspace. Any failure aborts the stage.
func (f *Fetcher) Run(ctx context.Context, req Request) (*Result, error) {
	logger := f.logger.With("pr", req.Number, "repo", req.Owner+"/"+req.Repo)
	logger.Info("fetch started", "workspace", f.ws.Dir)

	if err := f.ws.Ensure(); err != nil {
		return nil, err
	}

	pr, err := f.gh.PullRequest(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return nil, err
	}
	logger.Info("pull request loaded", "title", pr.Title, "head", pr.HeadBranch, "changed_files", pr.ChangedFiles)

	res := &Result{PR: pr, RepoDir: f.ws.RepoDir(pr.Repo)}

	if err := f.repo.EnsureClone(ctx, pr.CloneURL, res.RepoDir, f.cfg.CloneDepth); err != nil {
		return nil, fmt.Errorf("ensure clone: %w", err)
	}
	res.Checkout, err = f.repo.CheckoutPR(ctx, res.RepoDir, pr.Number, f.cfg.PRFetchDepth, pr.HeadSHA, pr.HeadBranch)
	if err != nil {
		return nil, fmt.Errorf("checkout pr: %w", err)
	}
	f.repo.ClearQuarantine(ctx, res.RepoDir)

	if res.InfoPath, err = f.ws.WritePRInfo(pr); err != nil {
		return nil, err
	}

	diff, err := f.gh.Diff(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return nil, err
	}
	if res.DiffPath, err = f.ws.WriteDiff(pr.Number, diff); err != nil {
		return nil, err
	}

	files, err := f.gh.Files(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return nil, err
	}
	res.FileCount = len(files)
	if len(files) != pr.ChangedFiles {
		logger.Warn("changed file count differs from pr metadata", "listed", len(files), "reported", pr.ChangedFiles)
	}
	if res.FilesPath, err = f.ws.WriteFiles(pr.Number, files); err != nil {
		return nil, err
	}

	if res.ContextPath, err = f.ws.WriteContext(pr.Number, prompt.RenderContext(pr, files, res.RepoDir)); err != nil {
		return nil, err
	}
	if res.QuestionsPath, err = f.ws.EnsureQuestions(req.QuestionsFile); err != nil {
		return nil, err
	}

	logger.Info("fetch complete",
		"ref", res.Checkout.Ref,
		"sha", res.Checkout.SHA,
		"verified", res.Checkout.Verified,
		"files", res.FileCount,
		"diff_bytes", len(diff),
	)
	return res, nil
}
