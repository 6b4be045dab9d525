package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cli-eval/prbench/internal/iflow/iflowtest"
	"github.com/cli-eval/prbench/internal/workspace"
)

// executeCommand runs a fresh command tree with args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return buf.String(), err
}

type env struct {
	dir        string
	configPath string
	ws         *workspace.Workspace
}

func newEnv(t *testing.T, binary string) *env {
	t.Helper()
	dir := t.TempDir()
	if binary == "" {
		binary = iflowtest.Write(t, t.TempDir())
	}
	cfg := fmt.Sprintf(`workdir: %s
benchmarks_dir: %s
log_file: %s
iflow:
  binary: %s
  version_timeout: 5s
  initial_timeout: 5s
  question_timeout: 5s
  retry:
    backoff: 10ms
    poor_backoff: 10ms
`,
		filepath.Join(dir, "ws"), filepath.Join(dir, "benchmarks"), filepath.Join(dir, "prbench.log"), binary)
	path := filepath.Join(dir, "prbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	ws := workspace.New(filepath.Join(dir, "ws"))
	require.NoError(t, ws.Ensure())
	_, err := ws.WritePRInfo(&workspace.PRRecord{Number: 42, Title: "Add retry", Owner: "acme", Repo: "uploader", ChangedFiles: 2})
	require.NoError(t, err)
	_, err = ws.WriteFiles(42, []workspace.ChangedFile{{Filename: "upload.go"}, {Filename: "upload_test.go"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.QuestionsPath(), []byte("Q: What changed?\nQ: Which function retries?\nQ: Any risks?\n"), 0644))

	return &env{dir: dir, configPath: path, ws: ws}
}

func (e *env) run(args ...string) (string, error) {
	return executeCommand(NewRootCommand(), append(args, "--config", e.configPath, "--quiet")...)
}

func TestPromptToStdout(t *testing.T) {
	e := newEnv(t, "/bin/true")
	out, err := e.run("prompt", "--output", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "# PR Analysis Context: acme/uploader #42")
	assert.Contains(t, out, "READY_FOR_QUESTIONS")
	assert.NoFileExists(t, e.ws.PromptPath())
}

func TestPromptWritesWorkspaceFile(t *testing.T) {
	e := newEnv(t, "/bin/true")
	out, err := e.run("prompt", "--summary", "--max-files", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Prompt written to "+e.ws.PromptPath())

	data, err := os.ReadFile(e.ws.PromptPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload.go")
	assert.NotContains(t, string(data), "upload_test.go")
}

func TestPromptMissingWorkspace(t *testing.T) {
	e := newEnv(t, "/bin/true")
	_, err := e.run("prompt", "--workspace", filepath.Join(e.dir, "empty"))
	require.Error(t, err)
	assert.ErrorIs(t, err, workspace.ErrArtifactMissing)
}

func TestRunThenReport(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.run("run", "--benchmark", "demo", "--max-questions", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Benchmark demo completed (direct)")
	assert.Contains(t, out, "2/2 ok (100.0%)")
	assert.Contains(t, out, "health:    healthy")
	assert.FileExists(t, filepath.Join(e.dir, "benchmarks", "demo", "iflow_answers.md"))

	m := regexp.MustCompile(`run id:\s+(\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)

	out, err = e.run("report", "--width", "120")
	require.NoError(t, err)
	assert.Contains(t, out, "1 runs")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "2/2")

	out, err = e.run("report", "--run", m[1])
	require.NoError(t, err)
	assert.Contains(t, out, "Q1 [ok]")
	assert.Contains(t, out, "What changed?")
	assert.Contains(t, out, "Q2 [ok]")

	out, err = e.run("report", "--run", m[1][:8])
	require.NoError(t, err)
	assert.Contains(t, out, "Q1 [ok]")
	assert.Contains(t, out, "Q2 [ok]")
}

func TestRunToolMissing(t *testing.T) {
	e := newEnv(t, "/nonexistent/iflow")
	_, err := e.run("run", "--benchmark", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iflow CLI unavailable")
	assert.NoDirExists(t, filepath.Join(e.dir, "benchmarks", "demo"))
	assert.NoFileExists(t, filepath.Join(e.dir, "benchmarks", "prbench.db"))
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	e := newEnv(t, "/bin/true")
	_, err := e.run("run", "--benchmark", "demo", "--strategy", "telepathy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --strategy")
}

func TestRunRequiresBenchmark(t *testing.T) {
	e := newEnv(t, "/bin/true")
	_, err := e.run("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"benchmark" not set`)
}

func TestReportWithoutHistory(t *testing.T) {
	e := newEnv(t, "/bin/true")
	_, err := e.run("report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run history")
}

func TestFetchValidatesFlags(t *testing.T) {
	e := newEnv(t, "/bin/true")

	_, err := e.run("fetch", "--repo", "acme/uploader")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"pr" not set`)

	_, err = e.run("fetch", "--repo", "not-a-repo", "--pr", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid repository")

	_, err = e.run("fetch", "--repo", "acme/uploader", "--pr=-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive")
}

func TestInvalidLogLevel(t *testing.T) {
	e := newEnv(t, "/bin/true")
	_, err := e.run("prompt", "--output", "-", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}
