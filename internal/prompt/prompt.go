package prompt

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cli-eval/prbench/internal/workspace"
)

const (
	ReadyMarker        = "READY_FOR_QUESTIONS"
	contextReadyMarker = "READY FOR COMPREHENSIVE ANALYSIS"
)

type Options struct {
	MaxFiles int
	// Summary produces the short variant used for re-priming a session.
	Summary bool
}

// ListFiles returns the first max filenames in their original order.
func ListFiles(files []workspace.ChangedFile, max int) []string {
	n := len(files)
	if max >= 0 && n > max {
		n = max
	}
	names := make([]string, 0, n)
	for _, f := range files[:n] {
		names = append(names, f.Filename)
	}
	return names
}

// Generate builds the initial context prompt from the fetch-stage artifacts in ws.
func Generate(ws *workspace.Workspace, opts Options) (string, error) {
	pr, err := ws.LoadPRInfo()
	if err != nil {
		return "", fmt.Errorf("load pr info: %w", err)
	}
	files, err := ws.LoadFiles(pr.Number)
	if err != nil {
		return "", fmt.Errorf("load changed files: %w", err)
	}
	artifacts, err := ws.Artifacts()
	if err != nil {
		return "", err
	}

	if opts.Summary {
		return Summary(pr, files, opts.MaxFiles), nil
	}
	return Full(pr, files, ws.RepoDir(pr.Repo), artifacts, opts.MaxFiles), nil
}

// Full is the complete context prompt sent when a session opens.
func Full(pr *workspace.PRRecord, files []workspace.ChangedFile, repoDir string, artifacts map[string]string, maxFiles int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# PR Analysis Context: %s #%d\n\n", pr.FullName(), pr.Number)
	b.WriteString("You are analyzing a GitHub pull request. The repository is cloned locally with the PR checked out.\n\n")

	b.WriteString("## Pull Request\n\n")
	fmt.Fprintf(&b, "- **Title**: %s\n", pr.Title)
	fmt.Fprintf(&b, "- **Author**: %s\n", pr.User)
	fmt.Fprintf(&b, "- **State**: %s\n", pr.State)
	fmt.Fprintf(&b, "- **Branches**: %s → %s\n", pr.HeadBranch, pr.BaseBranch)
	fmt.Fprintf(&b, "- **Head SHA**: %s\n", pr.HeadSHA)
	fmt.Fprintf(&b, "- **Changes**: %d commits, +%d/-%d across %d files\n\n", pr.Commits, pr.Additions, pr.Deletions, pr.ChangedFiles)

	if body := strings.TrimSpace(pr.Body); body != "" {
		b.WriteString("## Description\n\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	names := ListFiles(files, maxFiles)
	fmt.Fprintf(&b, "## Key Changed Files (%d of %d)\n\n", len(names), len(files))
	for _, n := range names {
		fmt.Fprintf(&b, "- `%s`\n", n)
	}
	b.WriteString("\n")

	b.WriteString("## Local Resources\n\n")
	fmt.Fprintf(&b, "- Repository: `%s`\n", repoDir)
	for _, kind := range []string{"info", "diff", "files", "context"} {
		if p, ok := artifacts[kind]; ok {
			fmt.Fprintf(&b, "- %s: `%s`\n", kind, filepath.Base(p))
		}
	}
	b.WriteString("\n")

	b.WriteString("## Instructions\n\n")
	b.WriteString("1. Study the diff and the changed files in the repository.\n")
	b.WriteString("2. Keep this context for the whole conversation; later questions build on it.\n")
	b.WriteString("3. Answer each question directly, citing files and functions where relevant.\n\n")
	fmt.Fprintf(&b, "When you have absorbed this context, reply with %s.\n", ReadyMarker)
	return b.String()
}

// Summary is a one-paragraph restatement of the PR under analysis.
func Summary(pr *workspace.PRRecord, files []workspace.ChangedFile, maxFiles int) string {
	names := ListFiles(files, maxFiles)
	return fmt.Sprintf("We are analyzing %s PR #%d: %q by %s (%s → %s, +%d/-%d). Key files: %s. "+
		"Continue answering from the context you already have. %s",
		pr.FullName(), pr.Number, pr.Title, pr.User, pr.HeadBranch, pr.BaseBranch,
		pr.Additions, pr.Deletions, strings.Join(names, ", "), ReadyMarker)
}

// RenderContext renders the fetch stage's context document.
func RenderContext(pr *workspace.PRRecord, files []workspace.ChangedFile, repoDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s PR #%d: %s\n\n", pr.FullName(), pr.Number, pr.Title)
	fmt.Fprintf(&b, "- Author: %s\n", pr.User)
	fmt.Fprintf(&b, "- State: %s\n", pr.State)
	fmt.Fprintf(&b, "- Created: %s\n", pr.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Updated: %s\n", pr.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Base: %s (%s)\n", pr.BaseBranch, pr.BaseSHA)
	fmt.Fprintf(&b, "- Head: %s (%s)\n", pr.HeadBranch, pr.HeadSHA)
	fmt.Fprintf(&b, "- Repository clone: %s\n\n", repoDir)

	fmt.Fprintf(&b, "## Statistics\n\n| Commits | Additions | Deletions | Files |\n|---|---|---|---|\n| %d | %d | %d | %d |\n\n",
		pr.Commits, pr.Additions, pr.Deletions, pr.ChangedFiles)

	b.WriteString("## Description\n\n")
	if body := strings.TrimSpace(pr.Body); body != "" {
		b.WriteString(body)
	} else {
		b.WriteString("_No description provided._")
	}
	b.WriteString("\n\n")

	b.WriteString("## Changed Files\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s` (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}
	b.WriteString("\n")

	b.WriteString("## Analysis Guide\n\n")
	b.WriteString("- Read the full diff before answering.\n")
	b.WriteString("- Open changed files in the clone to see surrounding code.\n")
	b.WriteString("- Trace callers of changed functions to judge impact.\n\n")
	b.WriteString(contextReadyMarker + "\n")
	return b.String()
}
