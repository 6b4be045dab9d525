package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pr_workspace", cfg.Workdir)
	assert.Equal(t, "benchmarks", cfg.BenchmarksDir)
	assert.Equal(t, filepath.Join("benchmarks", "prbench.db"), cfg.Bench.Store)
	assert.Equal(t, "iflow", cfg.IFlow.Binary)
	assert.Equal(t, StrategyDirect, cfg.IFlow.Strategy)
	assert.Equal(t, 10*time.Second, cfg.IFlow.VersionTimeout)
	assert.Equal(t, 180*time.Second, cfg.IFlow.QuestionTimeout)
	assert.Equal(t, 3*time.Second, cfg.IFlow.Retry.Backoff)
	assert.Equal(t, 2, cfg.IFlow.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.IFlow.EscalateAfter)
	assert.Equal(t, 20, cfg.Quality.MinLength)
	assert.Equal(t, 10, cfg.Bench.MaxPromptFiles)
	assert.True(t, *cfg.Git.InsecureSkipTLS)
	assert.Contains(t, cfg.IFlow.Env(), "NODE_TLS_REJECT_UNAUTHORIZED=0")
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
workdir: /tmp/ws
iflow:
  strategy: hybrid
  insecure_tls: false
  question_timeout: 90s
  extra_env:
    IFLOW_MODEL: qwen
  pty:
    idle_timeout: 5s
bench:
  memory_check_interval: 3
  context_refresh_interval: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ws", cfg.Workdir)
	assert.Equal(t, StrategyHybrid, cfg.IFlow.Strategy)
	assert.Equal(t, 90*time.Second, cfg.IFlow.QuestionTimeout)
	assert.Equal(t, 5*time.Second, cfg.IFlow.PTY.IdleTimeout)
	assert.Equal(t, 3, cfg.Bench.MemoryCheckInterval)
	assert.Equal(t, []string{"IFLOW_MODEL=qwen"}, cfg.IFlow.Env())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad strategy", "iflow:\n  strategy: telepathy\n", "iflow.strategy"},
		{"bad duration", "iflow:\n  question_timeout: soon\n", "iflow.question_timeout"},
		{"zero timeout", "iflow:\n  probe_timeout: 0s\n", "iflow.probe_timeout must be positive"},
		{"bad boundary", "iflow:\n  pty:\n    boundary: \"(\"\n", "iflow.pty.boundary"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"lengths", "quality:\n  min_length: 50\n  substantial_length: 10\n", "quality.substantial_length"},
		{"yaml", "iflow: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
