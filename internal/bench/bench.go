package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/iflow"
	"github.com/cli-eval/prbench/internal/metrics"
	"github.com/cli-eval/prbench/internal/prompt"
	"github.com/cli-eval/prbench/internal/quality"
	"github.com/cli-eval/prbench/internal/questions"
	"github.com/cli-eval/prbench/internal/results"
	"github.com/cli-eval/prbench/internal/workspace"
)

// Agent is a conversation with the assistant under test.
type Agent interface {
	Version(ctx context.Context) (string, error)
	Open(ctx context.Context, prompt string) (*iflow.Turn, error)
	Ask(ctx context.Context, question string) (*iflow.Turn, error)
	Probe(ctx context.Context, text string) (*iflow.Turn, error)
	MarkUnhealthy()
	SetPrimer(text string)
	Session() iflow.Session
	Close() error
}

// History persists runs across invocations.
type History interface {
	CreateRun(ctx context.Context, id string, h results.Header, resultsPath string) error
	AddAnswer(ctx context.Context, runID string, e results.Entry) error
	FinishRun(ctx context.Context, id string, sum results.Summary) error
}

type Report struct {
	RunID       string
	ResultsPath string
	MetricsPath string
	Summary     results.Summary
	Entries     []results.Entry
}

type Runner struct {
	cfg     *config.Config
	ws      *workspace.Workspace
	agent   Agent
	history History
	rules   quality.Rules
	logger  *slog.Logger
}

// New builds a runner. history may be nil.
func New(cfg *config.Config, ws *workspace.Workspace, agent Agent, history History, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		ws:      ws,
		agent:   agent,
		history: history,
		rules:   quality.RulesFrom(cfg.Quality),
		logger:  logger,
	}
}

// Run asks every ground truth question within one session. Nothing is written
// unless the tool passes its version check. A failure to open the session
// aborts the run; per-question failures are recorded and the run continues.
func (r *Runner) Run(ctx context.Context, benchmark string) (*Report, error) {
	strategy := r.cfg.IFlow.Strategy
	benchDir := filepath.Join(r.cfg.BenchmarksDir, benchmark)
	logger := r.logger.With("benchmark", benchmark, "strategy", strategy)

	version, err := r.agent.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("version check: %w", err)
	}
	defer func() {
		if err := r.agent.Close(); err != nil {
			logger.Warn("close iflow failed", "err", err)
		}
	}()
	logger.Info("iflow available", "version", version)

	pr, err := r.ws.LoadPRInfo()
	if err != nil {
		return nil, fmt.Errorf("load pr info: %w", err)
	}
	files, err := r.ws.LoadFiles(pr.Number)
	if err != nil {
		logger.Warn("changed files unavailable", "err", err)
	}
	initial, promptSource, err := r.loadPrompt(benchDir)
	if err != nil {
		return nil, err
	}
	qs, qsSource, err := questions.Load(r.ws.QuestionsPath(), filepath.Join(benchDir, workspace.QuestionsFile))
	if err != nil {
		return nil, err
	}
	qs = questions.Limit(qs, r.cfg.Bench.MaxQuestions)
	logger.Info("loaded questions", "count", len(qs), "source", qsSource, "prompt", promptSource)

	runID := uuid.NewString()
	header := results.Header{
		RunID:        runID,
		Benchmark:    benchmark,
		Strategy:     strategy,
		Repo:         pr.FullName(),
		PR:           pr.Number,
		Title:        pr.Title,
		ToolVersion:  version,
		PromptSource: promptSource,
		Questions:    len(qs),
		Started:      time.Now(),
	}
	log, err := results.Create(results.ResultsPath(benchDir, strategy), header)
	if err != nil {
		return nil, err
	}
	history := r.history
	if history != nil {
		if err := history.CreateRun(ctx, runID, header, log.Path()); err != nil {
			logger.Warn("run history unavailable", "err", err)
			history = nil
		}
	}

	rec := metrics.New(benchmark, strategy)
	report := &Report{RunID: runID, ResultsPath: log.Path(), MetricsPath: r.metricsPath(benchDir)}
	sum := &results.Summary{}

	r.agent.SetPrimer(prompt.Summary(pr, files, r.cfg.Bench.MaxPromptFiles))

	logger.Info("opening session", "run", runID, "prompt_len", len(initial))
	open, err := r.agent.Open(ctx, initial)
	if err != nil {
		sum.Status = "failed"
		sum.FailureReason = err.Error()
		r.finish(ctx, logger, log, history, rec, runID, sum, report)
		return report, fmt.Errorf("establish session: %w", err)
	}
	if err := log.AppendInitial(results.Entry{
		Question:  initial,
		Answer:    open.Answer,
		SessionID: open.SessionID,
		Mode:      string(open.Mode),
		Elapsed:   open.Elapsed,
	}); err != nil {
		return report, err
	}

	sum.Status = "completed"
	for i, q := range qs {
		if ctx.Err() != nil {
			sum.Status = "interrupted"
			break
		}
		entry := r.askOne(ctx, logger, rec, pr, files, sum, i+1, q)
		if err := log.Append(entry); err != nil {
			return report, err
		}
		if history != nil {
			if err := history.AddAnswer(ctx, runID, entry); err != nil {
				logger.Warn("record answer failed", "index", entry.Index, "err", err)
			}
		}
		report.Entries = append(report.Entries, entry)
		sum.Add(entry)

		if i < len(qs)-1 && r.cfg.Bench.Pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.Bench.Pause):
			}
		}
	}

	r.finish(ctx, logger, log, history, rec, runID, sum, report)
	return report, nil
}

func (r *Runner) askOne(ctx context.Context, logger *slog.Logger, rec *metrics.Recorder, pr *workspace.PRRecord, files []workspace.ChangedFile, sum *results.Summary, index int, question string) results.Entry {
	var notes []string

	if n := r.cfg.Bench.MemoryCheckInterval; n > 0 && index > 2 && index%n == 0 {
		passed := r.memoryCheck(ctx, pr.Number, index)
		sum.MemoryChecks++
		if passed {
			sum.MemoryPassed++
			notes = append(notes, "Memory check passed")
		} else {
			r.agent.MarkUnhealthy()
			notes = append(notes, "Memory check failed")
		}
		rec.MemoryCheck(passed)
	}

	if n := r.cfg.Bench.ContextRefreshInterval; n > 0 && index%n == 0 {
		if _, err := r.agent.Probe(ctx, refreshMessage(pr, files, index, r.cfg.Bench.MaxPromptFiles)); err != nil {
			logger.Warn("context refresh failed", "index", index, "err", err)
			notes = append(notes, "Context refresh failed")
		} else {
			sum.Refreshes++
			rec.ContextRefresh()
			notes = append(notes, "Context refreshed")
		}
	}

	text := question
	if r.cfg.Bench.FrameQuestions {
		text = frameQuestion(question, index, pr.Number)
	}

	escalatedBefore := r.agent.Session().Escalated
	logger.Info("asking question", "index", index, "question", truncate(question, 80))
	start := time.Now()
	turn, err := r.agent.Ask(ctx, text)
	session := r.agent.Session()

	if session.Escalated && !escalatedBefore {
		rec.Escalation()
		notes = append(notes, "Switched to interactive terminal mode")
	}

	entry := results.Entry{
		Index:     index,
		Turn:      session.Turn,
		Question:  question,
		Mode:      string(session.Mode),
		SessionID: session.ID,
		Timestamp: start,
		Notes:     notes,
	}
	if err != nil {
		entry.Err = err.Error()
		entry.Outcome = quality.ErrorEcho
		entry.Elapsed = time.Since(start)
		logger.Error("question failed", "index", index, "err", err)
		rec.ObserveTurn(entry.Mode, "error", entry.Elapsed)
		return entry
	}

	entry.Answer = turn.Answer
	entry.Elapsed = turn.Elapsed
	entry.Outcome = turn.Outcome
	entry.Mode = string(turn.Mode)
	entry.Attempts = turn.Attempts
	entry.Truncated = turn.Truncated
	if turn.SessionID != "" {
		entry.SessionID = turn.SessionID
	}
	entry.Signals = quality.Analyze(turn.Answer, pr.Repo)

	outcome := turn.Outcome.String()
	if turn.Truncated {
		outcome = "truncated"
	}
	rec.ObserveTurn(entry.Mode, outcome, entry.Elapsed)
	logger.Info("answer received", "index", index, "outcome", outcome, "chars", len(turn.Answer),
		"elapsed", turn.Elapsed.Round(time.Millisecond), "attempts", turn.Attempts)
	return entry
}

func (r *Runner) memoryCheck(ctx context.Context, prNumber, index int) bool {
	q := fmt.Sprintf("What PR number are we analyzing? (This is question %d in our conversation)", index)
	turn, err := r.agent.Probe(ctx, q)
	if err != nil {
		r.logger.Warn("memory check failed", "index", index, "err", err)
		return false
	}
	return quality.Recalls(turn.Answer, prNumber, r.cfg.Quality.MemoryLoss)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, log *results.Log, history History, rec *metrics.Recorder, runID string, sum *results.Summary, report *Report) {
	s := r.agent.Session()
	sum.SessionID = s.ID
	sum.FinalMode = string(s.Mode)
	sum.Escalated = s.Escalated
	sum.Finished = time.Now()
	rec.SetSuccessRate(sum.SuccessRate())
	report.Summary = *sum

	if err := log.Finalize(*sum); err != nil {
		logger.Error("finalize results failed", "err", err)
	}
	if err := rec.WriteTextfile(report.MetricsPath); err != nil {
		logger.Warn("write metrics failed", "err", err)
	}
	if history != nil {
		if err := history.FinishRun(ctx, runID, *sum); err != nil {
			logger.Warn("finish run history failed", "err", err)
		}
	}
	logger.Info("benchmark finished",
		"status", sum.Status,
		"questions", sum.Total,
		"ok", sum.OK,
		"success_rate", fmt.Sprintf("%.1f%%", sum.SuccessRate()),
		"health", sum.Health(),
		"results", log.Path(),
	)
}

// loadPrompt reads the first initial prompt on disk, or builds one from the
// workspace artifacts when none exists.
func (r *Runner) loadPrompt(benchDir string) (string, string, error) {
	path, err := r.ws.FindPrompt(benchDir)
	if err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read initial prompt: %w", err)
		}
		return string(data), path, nil
	}
	if !errors.Is(err, workspace.ErrArtifactMissing) {
		return "", "", err
	}
	text, err := prompt.Generate(r.ws, prompt.Options{MaxFiles: r.cfg.Bench.MaxPromptFiles})
	if err != nil {
		return "", "", fmt.Errorf("generate initial prompt: %w", err)
	}
	return text, "(generated)", nil
}

func (r *Runner) metricsPath(benchDir string) string {
	if r.cfg.Bench.MetricsFile != "" {
		return r.cfg.Bench.MetricsFile
	}
	return filepath.Join(benchDir, "metrics.prom")
}

func frameQuestion(q string, index, prNumber int) string {
	return fmt.Sprintf("[Question %d - Continuing our analysis of PR #%d]\n\n%s\n\n"+
		"[Please answer based on our ongoing conversation about this pull request]", index, prNumber, q)
}

func refreshMessage(pr *workspace.PRRecord, files []workspace.ChangedFile, index, maxFiles int) string {
	return fmt.Sprintf("[CONTEXT REFRESH - Question %d] We are analyzing %s PR #%d: %q. Key files: %s. "+
		"Keep using the context established earlier in this conversation.",
		index, pr.FullName(), pr.Number, pr.Title, strings.Join(prompt.ListFiles(files, maxFiles), ", "))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
