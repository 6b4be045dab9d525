package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/git"
	"github.com/cli-eval/prbench/internal/workspace"
)

type fakeSource struct {
	pr      *workspace.PRRecord
	files   []workspace.ChangedFile
	diffErr error
}

func (f *fakeSource) PullRequest(ctx context.Context, owner, repo string, number int) (*workspace.PRRecord, error) {
	if f.pr == nil {
		return nil, errors.New("get pull request: 404 Not Found")
	}
	rec := *f.pr
	return &rec, nil
}

func (f *fakeSource) Diff(ctx context.Context, owner, repo string, number int) (string, error) {
	return "diff --git a/upload.go b/upload.go\n", f.diffErr
}

func (f *fakeSource) Files(ctx context.Context, owner, repo string, number int) ([]workspace.ChangedFile, error) {
	return f.files, nil
}

type fakeRepo struct {
	clonedURL  string
	clonedDest string
	checkedOut int
	cloneErr   error
}

func (r *fakeRepo) EnsureClone(ctx context.Context, url, dest string, depth int) error {
	r.clonedURL, r.clonedDest = url, dest
	return r.cloneErr
}

func (r *fakeRepo) CheckoutPR(ctx context.Context, dir string, number, depth int, headSHA, headBranch string) (*git.Checkout, error) {
	r.checkedOut = number
	return &git.Checkout{Ref: "pr-42", SHA: headSHA, Verified: true}, nil
}

func (r *fakeRepo) ClearQuarantine(ctx context.Context, dir string) {}

func samplePR() *workspace.PRRecord {
	return &workspace.PRRecord{
		Number: 42, Title: "Add retry", HeadSHA: "head222", HeadBranch: "retry",
		ChangedFiles: 2, Owner: "acme", Repo: "uploader",
		CloneURL: "https://github.com/acme/uploader.git",
	}
}

func newFetcher(t *testing.T, src *fakeSource, repo *fakeRepo) (*Fetcher, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New(filepath.Join(t.TempDir(), "pr_workspace"))
	return New(src, repo, ws, config.Default().Git, slog.New(slog.DiscardHandler)), ws
}

func TestRunWritesArtifacts(t *testing.T) {
	src := &fakeSource{
		pr: samplePR(),
		files: []workspace.ChangedFile{
			{Filename: "upload.go", Status: "modified"},
			{Filename: "retry.go", Status: "added"},
		},
	}
	repo := &fakeRepo{}
	f, ws := newFetcher(t, src, repo)

	res, err := f.Run(context.Background(), Request{Owner: "acme", Repo: "uploader", Number: 42})
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/uploader.git", repo.clonedURL)
	assert.Equal(t, ws.RepoDir("uploader"), repo.clonedDest)
	assert.Equal(t, 42, repo.checkedOut)

	for _, pattern := range []string{"pr_*_info.json", "pr_*.diff", "pr_*_files.json", "pr_*_context.md"} {
		matches, err := filepath.Glob(filepath.Join(ws.Dir, pattern))
		require.NoError(t, err)
		assert.Len(t, matches, 1, pattern)
	}

	files, err := ws.LoadFiles(42)
	require.NoError(t, err)
	assert.Len(t, files, res.PR.ChangedFiles)
	assert.Equal(t, "upload.go", files[0].Filename)

	ctxDoc, err := os.ReadFile(res.ContextPath)
	require.NoError(t, err)
	assert.Contains(t, string(ctxDoc), "READY FOR COMPREHENSIVE ANALYSIS")

	assert.FileExists(t, res.QuestionsPath)
}

func TestRunAbortsOnAPIError(t *testing.T) {
	f, ws := newFetcher(t, &fakeSource{}, &fakeRepo{})
	_, err := f.Run(context.Background(), Request{Owner: "acme", Repo: "uploader", Number: 42})
	require.Error(t, err)

	_, err = ws.LoadPRInfo()
	assert.ErrorIs(t, err, workspace.ErrArtifactMissing)
}

func TestRunAbortsOnCloneError(t *testing.T) {
	f, _ := newFetcher(t, &fakeSource{pr: samplePR()}, &fakeRepo{cloneErr: errors.New("git clone: exit status 128")})
	_, err := f.Run(context.Background(), Request{Owner: "acme", Repo: "uploader", Number: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure clone")
}

func TestRunAbortsOnDiffError(t *testing.T) {
	f, _ := newFetcher(t, &fakeSource{pr: samplePR(), diffErr: errors.New("get diff: 500")}, &fakeRepo{})
	_, err := f.Run(context.Background(), Request{Owner: "acme", Repo: "uploader", Number: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get diff")
}
