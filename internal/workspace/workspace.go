package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrArtifactMissing is returned when a stage needs a file an earlier stage
// did not produce.
var ErrArtifactMissing = errors.New("workspace artifact missing")

const (
	QuestionsFile       = "ground_truth_questions.md"
	GeneratedPromptFile = "generated_prompt.md"
	InitialPromptFile   = "initial_prompt.md"

	questionsPlaceholder = "# Ground Truth Questions\n\nAdd your ground truth questions here.\n"
)

// PRRecord is the flat PR metadata record written by the fetch stage.
type PRRecord struct {
	Number       int       `json:"pr_number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	User         string    `json:"user"`
	BaseBranch   string    `json:"base_branch"`
	HeadBranch   string    `json:"head_branch"`
	HeadSHA      string    `json:"head_sha"`
	BaseSHA      string    `json:"base_sha"`
	Commits      int       `json:"commits"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	ChangedFiles int       `json:"changed_files"`
	Owner        string    `json:"owner"`
	Repo         string    `json:"repo"`
	CloneURL     string    `json:"clone_url"`
}

// FullName returns owner/repo.
func (r PRRecord) FullName() string {
	return r.Owner + "/" + r.Repo
}

type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// Workspace is the directory shared by the fetch, prompt and run stages.
type Workspace struct {
	Dir string
}

func New(dir string) *Workspace {
	return &Workspace{Dir: dir}
}

func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (w *Workspace) InfoPath(n int) string    { return w.path(fmt.Sprintf("pr_%d_info.json", n)) }
func (w *Workspace) DiffPath(n int) string    { return w.path(fmt.Sprintf("pr_%d.diff", n)) }
func (w *Workspace) FilesPath(n int) string   { return w.path(fmt.Sprintf("pr_%d_files.json", n)) }
func (w *Workspace) ContextPath(n int) string { return w.path(fmt.Sprintf("pr_%d_context.md", n)) }
func (w *Workspace) QuestionsPath() string    { return w.path(QuestionsFile) }
func (w *Workspace) PromptPath() string       { return w.path(GeneratedPromptFile) }

// RepoDir is where the fetch stage clones the repository.
func (w *Workspace) RepoDir(repo string) string { return w.path(repo) }

func (w *Workspace) path(name string) string {
	return filepath.Join(w.Dir, name)
}

func (w *Workspace) WritePRInfo(rec *PRRecord) (string, error) {
	path := w.InfoPath(rec.Number)
	return path, writeJSON(path, rec)
}

func (w *Workspace) WriteDiff(n int, diff string) (string, error) {
	path := w.DiffPath(n)
	if err := os.WriteFile(path, []byte(diff), 0644); err != nil {
		return "", fmt.Errorf("write diff: %w", err)
	}
	return path, nil
}

func (w *Workspace) WriteFiles(n int, files []ChangedFile) (string, error) {
	if files == nil {
		files = []ChangedFile{}
	}
	path := w.FilesPath(n)
	return path, writeJSON(path, files)
}

func (w *Workspace) WriteContext(n int, markdown string) (string, error) {
	path := w.ContextPath(n)
	if err := os.WriteFile(path, []byte(markdown), 0644); err != nil {
		return "", fmt.Errorf("write context: %w", err)
	}
	return path, nil
}

// WritePrompt writes the generated context prompt.
func (w *Workspace) WritePrompt(text string) (string, error) {
	path := w.PromptPath()
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	return path, nil
}

// EnsureQuestions copies source into the workspace questions file. Without a
// source it leaves an existing file alone or writes a placeholder.
func (w *Workspace) EnsureQuestions(source string) (string, error) {
	dst := w.QuestionsPath()
	if source != "" {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("read questions: %w", err)
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return "", fmt.Errorf("write questions: %w", err)
		}
		return dst, nil
	}
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.WriteFile(dst, []byte(questionsPlaceholder), 0644); err != nil {
		return "", fmt.Errorf("write questions placeholder: %w", err)
	}
	return dst, nil
}

// LoadPRInfo reads the first pr_*_info.json in the workspace.
func (w *Workspace) LoadPRInfo() (*PRRecord, error) {
	path, err := w.find("pr_*_info.json")
	if err != nil {
		return nil, err
	}
	var rec PRRecord
	if err := readJSON(path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadFiles reads the changed-files list for PR n, in stored order.
func (w *Workspace) LoadFiles(n int) ([]ChangedFile, error) {
	path := w.FilesPath(n)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, filepath.Base(path))
	}
	var files []ChangedFile
	if err := readJSON(path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Artifacts lists the stage-1 files present in the workspace, keyed by kind.
func (w *Workspace) Artifacts() (map[string]string, error) {
	patterns := map[string]string{
		"info":    "pr_*_info.json",
		"context": "pr_*_context.md",
		"diff":    "pr_*.diff",
		"files":   "pr_*_files.json",
	}
	found := make(map[string]string, len(patterns))
	for kind, pattern := range patterns {
		path, err := w.find(pattern)
		if errors.Is(err, ErrArtifactMissing) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[kind] = path
	}
	return found, nil
}

// FindPrompt returns the first initial prompt among the workspace's generated
// prompt, the workspace's initial prompt, and the benchmark's initial prompt.
func (w *Workspace) FindPrompt(benchmarkDir string) (string, error) {
	candidates := []string{w.PromptPath(), w.path(InitialPromptFile)}
	if benchmarkDir != "" {
		candidates = append(candidates, filepath.Join(benchmarkDir, InitialPromptFile))
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: initial prompt", ErrArtifactMissing)
}

func (w *Workspace) find(pattern string) (string, error) {
	matches, err := doublestar.Glob(os.DirFS(w.Dir), pattern)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrArtifactMissing, pattern, w.Dir)
	}
	sort.Strings(matches)
	return w.path(matches[0]), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
