package iflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/iflow/iflowtest"
	"github.com/cli-eval/prbench/internal/quality"
)

func testConfig(t *testing.T, strategy string, env map[string]string) config.IFlowConfig {
	t.Helper()
	cfg := config.Default().IFlow
	cfg.Binary = iflowtest.Write(t, t.TempDir())
	cfg.Strategy = strategy
	cfg.VersionTimeout = 5 * time.Second
	cfg.InitialTimeout = 5 * time.Second
	cfg.QuestionTimeout = 5 * time.Second
	cfg.ProbeTimeout = 5 * time.Second
	cfg.Retry.Backoff = 10 * time.Millisecond
	cfg.Retry.PoorBackoff = 10 * time.Millisecond
	cfg.PTY.ReadyTimeout = 3 * time.Second
	cfg.PTY.IdleTimeout = 500 * time.Millisecond
	cfg.PTY.CloseTimeout = 2 * time.Second
	cfg.ExtraEnv = env
	return cfg
}

func newDriver(t *testing.T, cfg config.IFlowConfig) *Driver {
	t.Helper()
	d, err := New(Options{
		Config:  cfg,
		Rules:   quality.RulesFrom(config.Default().Quality),
		Workdir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func readLog(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestVersion(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyDirect, nil))
	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.3.0", v)

	d = newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{iflowtest.EnvFailVersion: "1"}))
	_, err = d.Version(context.Background())
	assert.ErrorIs(t, err, ErrToolMissing)

	cfg := testConfig(t, config.StrategyDirect, nil)
	cfg.Binary = filepath.Join(t.TempDir(), "missing-iflow")
	_, err = newDriver(t, cfg).Version(context.Background())
	assert.ErrorIs(t, err, ErrToolMissing)
}

func TestDirectSession(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "argv.log")
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{iflowtest.EnvLog: logPath}))
	ctx := context.Background()

	open, err := d.Open(ctx, "Here is the PR context.")
	require.NoError(t, err)
	assert.Equal(t, iflowtest.SessionID, open.SessionID)
	assert.Contains(t, open.Answer, "READY_FOR_QUESTIONS")
	assert.NotContains(t, open.Answer, "Execution Info")

	turn, err := d.Ask(ctx, "Which file changed?")
	require.NoError(t, err)
	assert.True(t, turn.OK())
	assert.Equal(t, 1, turn.Attempts)
	assert.Equal(t, ModeDirect, turn.Mode)
	assert.Contains(t, turn.Answer, "Answer to [Which file changed?]")
	assert.Equal(t, iflowtest.SessionID, turn.SessionID)

	s := d.Session()
	assert.Equal(t, 2, s.Turn)
	assert.Equal(t, iflowtest.SessionID, s.ID)
	assert.Zero(t, s.ConsecutiveFailures)

	argv := readLog(t, logPath)
	require.Len(t, argv, 2)
	assert.Equal(t, "-p Here is the PR context.", argv[0])
	assert.Equal(t, "-r "+iflowtest.SessionID+" -p Which file changed?", argv[1])
}

func TestAskWithoutSessionFails(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{iflowtest.EnvNoSession: "1"}))
	ctx := context.Background()

	open, err := d.Open(ctx, "context")
	require.NoError(t, err)
	assert.Empty(t, open.SessionID)

	_, err = d.Ask(ctx, "anything?")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAskRetriesCommandFailure(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "argv.log")
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{
		iflowtest.EnvLog:        logPath,
		iflowtest.EnvFailResume: "1",
	}))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)

	_, err = d.Ask(ctx, "Which file changed?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Len(t, readLog(t, logPath), 3, "open plus two attempts")
	assert.Equal(t, 2, d.Session().ConsecutiveFailures)
}

func TestAskReturnsPoorAnswerAfterRetries(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{iflowtest.EnvShort: "1"}))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)

	turn, err := d.Ask(ctx, "Explain the change")
	require.NoError(t, err)
	assert.Equal(t, quality.TooShort, turn.Outcome)
	assert.False(t, turn.OK())
	assert.Equal(t, 2, turn.Attempts)
}

func TestPTYSession(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyPTY, nil))
	ctx := context.Background()

	open, err := d.Open(ctx, "Here is the\nPR context.")
	require.NoError(t, err)
	assert.Equal(t, ModePTY, open.Mode)
	assert.Equal(t, BoundaryMarker, open.Boundary)
	assert.False(t, open.Truncated)

	turn, err := d.Ask(ctx, "Which file changed?")
	require.NoError(t, err)
	assert.True(t, turn.OK())
	assert.Contains(t, turn.Answer, "Interactive reply about PR #42")
	assert.NotContains(t, turn.Answer, "Which file changed?")
	assert.Equal(t, "session-feed01", d.Session().ID)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestPTYIdleTurnIsTruncated(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyPTY, map[string]string{iflowtest.EnvSilentPTY: "1"}))
	ctx := context.Background()

	open, err := d.Open(ctx, "context")
	require.NoError(t, err)
	assert.True(t, open.Truncated)
	assert.Equal(t, BoundaryIdle, open.Boundary)
	assert.False(t, open.OK())
}

func TestHybridEscalatesToPTY(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyHybrid, map[string]string{iflowtest.EnvFailResume: "1"}))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, d.Session().Mode)

	_, err = d.Ask(ctx, "first question")
	require.Error(t, err)
	assert.Equal(t, 2, d.Session().ConsecutiveFailures)

	turn, err := d.Ask(ctx, "second question")
	require.NoError(t, err)
	assert.Equal(t, ModePTY, turn.Mode)
	assert.True(t, turn.OK())

	s := d.Session()
	assert.True(t, s.Escalated)
	assert.Equal(t, ModePTY, s.Mode)
	assert.Zero(t, s.ConsecutiveFailures)
}

func TestMarkUnhealthyCountsTowardEscalation(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyHybrid, nil))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)

	d.MarkUnhealthy()
	d.MarkUnhealthy()
	turn, err := d.Ask(ctx, "still there?")
	require.NoError(t, err)
	assert.Equal(t, ModePTY, turn.Mode)
}

func TestProbeDoesNotCountFailures(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{iflowtest.EnvShort: "1"}))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)

	turn, err := d.Probe(ctx, "What PR number are we analyzing?")
	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Answer)
	assert.Zero(t, d.Session().ConsecutiveFailures)
}

func TestDescribeArgs(t *testing.T) {
	long := strings.Repeat("x", 100)
	assert.Equal(t, "-r session-1 -p <100 chars>", describeArgs([]string{"-r", "session-1", "-p", long}))
	assert.Equal(t, "-p <3 chars>", describeArgs([]string{"-p", "a\nb"}))
}

func TestResumedTurnKeepsSessionID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "argv.log")
	d := newDriver(t, testConfig(t, config.StrategyDirect, map[string]string{
		iflowtest.EnvLog:         logPath,
		iflowtest.EnvPlainResume: "1",
	}))
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)
	require.Equal(t, iflowtest.SessionID, d.Session().ID)

	for _, q := range []string{"first?", "second?"} {
		turn, err := d.Ask(ctx, q)
		require.NoError(t, err)
		assert.Contains(t, turn.Answer, "session-based store")
		assert.Equal(t, iflowtest.SessionID, turn.SessionID)
		assert.Equal(t, iflowtest.SessionID, d.Session().ID)
	}

	argv := readLog(t, logPath)
	require.Len(t, argv, 3)
	assert.Equal(t, "-r "+iflowtest.SessionID+" -p first?", argv[1])
	assert.Equal(t, "-r "+iflowtest.SessionID+" -p second?", argv[2])
}

func TestHybridEscalatesWithoutSessionID(t *testing.T) {
	d := newDriver(t, testConfig(t, config.StrategyHybrid, map[string]string{iflowtest.EnvNoSession: "1"}))
	ctx := context.Background()

	open, err := d.Open(ctx, "context")
	require.NoError(t, err)
	assert.Empty(t, open.SessionID)

	_, err = d.Ask(ctx, "first question")
	require.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 2, d.Session().ConsecutiveFailures)

	turn, err := d.Ask(ctx, "second question")
	require.NoError(t, err)
	assert.Equal(t, ModePTY, turn.Mode)
	assert.True(t, turn.OK())
	assert.True(t, d.Session().Escalated)
}

func TestPTYTurnTimesOut(t *testing.T) {
	cfg := testConfig(t, config.StrategyPTY, map[string]string{iflowtest.EnvMuteAfterOne: "1"})
	cfg.QuestionTimeout = 300 * time.Millisecond
	cfg.PTY.IdleTimeout = 5 * time.Second
	d := newDriver(t, cfg)
	ctx := context.Background()

	_, err := d.Open(ctx, "context")
	require.NoError(t, err)

	start := time.Now()
	_, err = d.Ask(ctx, "will you answer?")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, 2, d.Session().ConsecutiveFailures)
}

func TestCloseKillsProcessIgnoringInterrupt(t *testing.T) {
	cfg := testConfig(t, config.StrategyPTY, map[string]string{iflowtest.EnvIgnoreInt: "1"})
	cfg.PTY.CloseTimeout = 300 * time.Millisecond
	d := newDriver(t, cfg)

	_, err := d.Open(context.Background(), "context")
	require.NoError(t, err)
	s := d.pty
	require.NotNil(t, s)
	require.True(t, s.alive())

	start := time.Now()
	require.NoError(t, d.Close())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, s.alive())
	assert.Nil(t, d.pty)
}
