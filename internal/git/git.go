package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

type Client struct {
	insecureTLS bool
	logger      *slog.Logger
}

func NewClient(insecureTLS bool, logger *slog.Logger) *Client {
	return &Client{insecureTLS: insecureTLS, logger: logger}
}

// Checkout reports what CheckoutPR left checked out.
type Checkout struct {
	Ref      string
	SHA      string
	Verified bool
	Fallback bool
}

// EnsureClone makes a shallow single-branch clone of url at dest, or fetches
// origin when dest already holds a clone.
func (c *Client) EnsureClone(ctx context.Context, url, dest string, depth int) error {
	if _, err := os.Stat(filepath.Join(dest, ".git", "HEAD")); err == nil {
		c.logger.Info("repository exists, fetching", "dir", dest)
		return c.git(ctx, dest, "fetch", "origin")
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	args := []string{"clone", "--progress", "--single-branch"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, url, dest)

	c.logger.Info("cloning repo", "url", url, "dir", dest, "depth", depth)
	if err := c.git(ctx, "", args...); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	return nil
}

// CheckoutPR fetches refs/pull/<n>/head into a local pr-<n> branch and checks
// it out, falling back to the head branch. A SHA mismatch and a failed
// fallback are logged, not returned.
func (c *Client) CheckoutPR(ctx context.Context, dir string, number, depth int, headSHA, headBranch string) (*Checkout, error) {
	local := fmt.Sprintf("pr-%d", number)
	refspec := fmt.Sprintf("pull/%d/head:%s", number, local)

	fetchArgs := []string{"fetch"}
	if depth > 0 {
		fetchArgs = append(fetchArgs, "--depth="+strconv.Itoa(depth))
	}
	fetchArgs = append(fetchArgs, "origin", refspec)

	co := &Checkout{Ref: local}
	err := c.git(ctx, dir, fetchArgs...)
	if err == nil {
		err = c.git(ctx, dir, "checkout", local)
	}
	if err != nil {
		c.logger.Warn("pr ref checkout failed, trying head branch", "ref", local, "branch", headBranch, "err", firstLine(err))
		co.Fallback = true
		co.Ref = headBranch
		if headBranch == "" {
			c.logger.Warn("no head branch to fall back to; continuing on default branch")
		} else if ferr := c.checkoutBranch(ctx, dir, headBranch); ferr != nil {
			c.logger.Warn("head branch checkout failed; continuing on default branch", "err", firstLine(ferr))
			co.Ref = ""
		}
	}

	sha, err := c.RevParse(ctx, dir, "HEAD")
	if err != nil {
		return nil, err
	}
	co.SHA = sha
	co.Verified = headSHA != "" && sha == headSHA
	if !co.Verified {
		c.logger.Warn("checked out sha differs from pr head", "expected", headSHA, "actual", sha)
	}
	return co, nil
}

func (c *Client) checkoutBranch(ctx context.Context, dir, branch string) error {
	if err := c.git(ctx, dir, "fetch", "origin", branch+":"+branch); err != nil {
		c.logger.Debug("branch fetch failed", "branch", branch, "err", firstLine(err))
	}
	return c.git(ctx, dir, "checkout", branch)
}

// RevParse resolves rev in dir.
func (c *Client) RevParse(ctx context.Context, dir, rev string) (string, error) {
	out, err := c.output(ctx, dir, "git", "rev-parse", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ClearQuarantine drops extended attributes from a fresh clone on macOS so
// scripts in it stay executable. Elsewhere it does nothing.
func (c *Client) ClearQuarantine(ctx context.Context, dir string) {
	if runtime.GOOS != "darwin" {
		return
	}
	if _, err := c.output(ctx, "", "xattr", "-cr", dir); err != nil {
		c.logger.Warn("clear quarantine failed", "dir", dir, "err", firstLine(err))
	}
}

func (c *Client) git(ctx context.Context, dir string, args ...string) error {
	if c.insecureTLS {
		args = append([]string{"-c", "http.sslVerify=false"}, args...)
	}
	_, err := c.output(ctx, dir, "git", args...)
	return err
}

func (c *Client) output(ctx context.Context, dir string, name string, args ...string) (string, error) {
	c.logger.Debug("exec", "cmd", name+" "+strings.Join(args, " "), "dir", dir)
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
