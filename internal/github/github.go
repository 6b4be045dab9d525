package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	gogithub "github.com/google/go-github/v58/github"
	"golang.org/x/time/rate"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/workspace"
)

// Client reads pull request data from the GitHub REST API. All requests share
// one rate limiter.
type Client struct {
	api       *gogithub.Client
	cloneBase string
	logger    *slog.Logger
}

func NewClient(cfg config.GitHubConfig, logger *slog.Logger) (*Client, error) {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &limitedTransport{
			base:    http.DefaultTransport,
			limiter: rate.NewLimiter(limit, cfg.Burst),
		},
	}

	api := gogithub.NewClient(httpClient)
	if token := os.Getenv(cfg.TokenEnv); cfg.TokenEnv != "" && token != "" {
		api = api.WithAuthToken(token)
	}

	base := cfg.APIURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse github api_url %q: %w", cfg.APIURL, err)
	}
	api.BaseURL = u

	return &Client{
		api:       api,
		cloneBase: strings.TrimSuffix(cfg.CloneBase, "/"),
		logger:    logger,
	}, nil
}

// PullRequest fetches the PR resource and flattens it into a record.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*workspace.PRRecord, error) {
	c.logger.Debug("get pull request", "repo", owner+"/"+repo, "pr", number)
	pr, _, err := c.api.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	cloneURL := pr.GetBase().GetRepo().GetCloneURL()
	if cloneURL == "" {
		cloneURL = fmt.Sprintf("%s/%s/%s.git", c.cloneBase, owner, repo)
	}

	return &workspace.PRRecord{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        pr.GetState(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
		User:         pr.GetUser().GetLogin(),
		BaseBranch:   pr.GetBase().GetRef(),
		HeadBranch:   pr.GetHead().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseSHA:      pr.GetBase().GetSHA(),
		Commits:      pr.GetCommits(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		Owner:        owner,
		Repo:         repo,
		CloneURL:     cloneURL,
	}, nil
}

// Diff fetches the unified diff of the PR.
func (c *Client) Diff(ctx context.Context, owner, repo string, number int) (string, error) {
	c.logger.Debug("get pull request diff", "repo", owner+"/"+repo, "pr", number)
	diff, _, err := c.api.PullRequests.GetRaw(ctx, owner, repo, number, gogithub.RawOptions{Type: gogithub.Diff})
	if err != nil {
		return "", fmt.Errorf("get diff %s/%s#%d: %w", owner, repo, number, err)
	}
	return diff, nil
}

// Files lists the PR's changed files in API order, following every page.
func (c *Client) Files(ctx context.Context, owner, repo string, number int) ([]workspace.ChangedFile, error) {
	opts := &gogithub.ListOptions{PerPage: 100}
	var files []workspace.ChangedFile
	for {
		page, resp, err := c.api.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list files %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, f := range page {
			files = append(files, workspace.ChangedFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	c.logger.Debug("listed changed files", "repo", owner+"/"+repo, "pr", number, "count", len(files))
	return files, nil
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.base.RoundTrip(req)
}

// ParseRepo accepts owner/repo or a GitHub repository URL.
func ParseRepo(s string) (owner, repo string, err error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("parse repo url %q: %w", s, perr)
		}
		s = u.Path
	} else {
		s = strings.TrimPrefix(s, "github.com/")
	}
	s = strings.Trim(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: want owner/repo or https://github.com/owner/repo", s)
	}
	return parts[0], parts[1], nil
}
