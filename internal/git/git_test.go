package git

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	dir      string
	mainSHA  string
	prSHA    string
	branch   string
	prNumber int
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	args = append([]string{"-c", "user.email=test@example.com", "-c", "user.name=Test", "-c", "commit.gpgsign=false"}, args...)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// setupUpstream creates a repository with a main branch, a feature branch, and
// refs/pull/7/head pointing at the feature commit.
func setupUpstream(t *testing.T) upstream {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "checkout", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.go"), []byte("package upload\n"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	mainSHA := runGit(t, dir, "rev-parse", "HEAD")

	runGit(t, dir, "checkout", "-q", "-b", "retry")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.go"), []byte("package upload\n\nfunc retry() {}\n"), 0o644))
	runGit(t, dir, "commit", "-q", "-am", "add retry")
	prSHA := runGit(t, dir, "rev-parse", "HEAD")
	runGit(t, dir, "update-ref", "refs/pull/7/head", prSHA)
	runGit(t, dir, "checkout", "-q", "main")

	return upstream{dir: dir, mainSHA: mainSHA, prSHA: prSHA, branch: "retry", prNumber: 7}
}

func newTestClient() *Client {
	return NewClient(true, slog.New(slog.DiscardHandler))
}

func TestEnsureCloneAndCheckoutPR(t *testing.T) {
	up := setupUpstream(t)
	c := newTestClient()
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "ws", "uploader")

	require.NoError(t, c.EnsureClone(ctx, "file://"+up.dir, dest, 1))
	assert.FileExists(t, filepath.Join(dest, "upload.go"))

	head, err := c.RevParse(ctx, dest, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, up.mainSHA, head)

	co, err := c.CheckoutPR(ctx, dest, up.prNumber, 50, up.prSHA, up.branch)
	require.NoError(t, err)
	assert.Equal(t, "pr-7", co.Ref)
	assert.Equal(t, up.prSHA, co.SHA)
	assert.True(t, co.Verified)
	assert.False(t, co.Fallback)

	// A second clone call on an existing checkout only fetches.
	require.NoError(t, c.EnsureClone(ctx, "file://"+up.dir, dest, 1))
}

func TestCheckoutPRFallsBackToHeadBranch(t *testing.T) {
	up := setupUpstream(t)
	c := newTestClient()
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "uploader")
	require.NoError(t, c.EnsureClone(ctx, "file://"+up.dir, dest, 1))

	co, err := c.CheckoutPR(ctx, dest, 99, 50, up.prSHA, up.branch)
	require.NoError(t, err)
	assert.True(t, co.Fallback)
	assert.Equal(t, up.branch, co.Ref)
	assert.Equal(t, up.prSHA, co.SHA)
	assert.True(t, co.Verified)
}

func TestCheckoutPRMismatchIsNotFatal(t *testing.T) {
	up := setupUpstream(t)
	c := newTestClient()
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "uploader")
	require.NoError(t, c.EnsureClone(ctx, "file://"+up.dir, dest, 1))

	co, err := c.CheckoutPR(ctx, dest, 99, 50, "0000000000000000000000000000000000000000", "no-such-branch")
	require.NoError(t, err)
	assert.True(t, co.Fallback)
	assert.Empty(t, co.Ref)
	assert.Equal(t, up.mainSHA, co.SHA)
	assert.False(t, co.Verified)
}

func TestEnsureCloneBadURL(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	err := newTestClient().EnsureClone(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "x"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clone")
}
