package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cli-eval/prbench/internal/results"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix matches more than one run")
)

// Run is a benchmark run as read back from history.
type Run struct {
	ID            string
	Benchmark     string
	Repo          string
	PRNumber      int
	Strategy      string
	ToolVersion   string
	Status        string
	SessionID     string
	FinalMode     string
	Escalated     bool
	Total         int
	OK            int
	Errors        int
	MemoryChecks  int
	MemoryPassed  int
	Refreshes     int
	AvgLatency    time.Duration
	FailureReason string
	ResultsPath   string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

func (r Run) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.OK) / float64(r.Total) * 100
}

// Answer is a stored question/answer record.
type Answer struct {
	Index     int
	Turn      int
	Question  string
	Answer    string
	Outcome   string
	Mode      string
	SessionID string
	Attempts  int
	Truncated bool
	Error     string
	Latency   time.Duration
	AskedAt   time.Time
}

// Store keeps benchmark history in SQLite.
type Store struct {
	db *gorm.DB
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(&RunModel{}, &AnswerModel{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateRun(ctx context.Context, id string, h results.Header, resultsPath string) error {
	m := &RunModel{
		ID:          id,
		Benchmark:   h.Benchmark,
		Repo:        h.Repo,
		PRNumber:    h.PR,
		Strategy:    h.Strategy,
		ToolVersion: h.ToolVersion,
		Status:      "running",
		ResultsPath: resultsPath,
		StartedAt:   h.Started.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) AddAnswer(ctx context.Context, runID string, e results.Entry) error {
	m := &AnswerModel{
		RunID:           runID,
		Idx:             e.Index,
		Turn:            e.Turn,
		Question:        e.Question,
		Answer:          e.Answer,
		Outcome:         e.Outcome.String(),
		Mode:            e.Mode,
		SessionID:       e.SessionID,
		Attempts:        e.Attempts,
		Truncated:       e.Truncated,
		Error:           e.Err,
		Detailed:        e.Signals.Detailed,
		MemoryReference: e.Signals.MemoryReference,
		LatencyMs:       e.Elapsed.Milliseconds(),
		AskedAt:         e.Timestamp.UTC(),
	}
	if e.Err != "" {
		m.Outcome = "error"
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("add answer: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, sum results.Summary) error {
	finished := sum.Finished.UTC()
	res := s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":         sum.Status,
		"session_id":     sum.SessionID,
		"final_mode":     sum.FinalMode,
		"escalated":      sum.Escalated,
		"total":          sum.Total,
		"ok":             sum.OK,
		"errors":         sum.Errors,
		"memory_checks":  sum.MemoryChecks,
		"memory_passed":  sum.MemoryPassed,
		"refreshes":      sum.Refreshes,
		"avg_latency_ms": sum.AvgLatency().Milliseconds(),
		"failure_reason": sum.FailureReason,
		"finished_at":    &finished,
	})
	if res.Error != nil {
		return fmt.Errorf("finish run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first. An empty benchmark matches all.
func (s *Store) ListRuns(ctx context.Context, benchmark string, limit int) ([]Run, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if benchmark != "" {
		q = q.Where("benchmark = ?", benchmark)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []RunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, len(models))
	for i, m := range models {
		runs[i] = runFromModel(m)
	}
	return runs, nil
}

// GetRun looks a run up by its full id or by a prefix that matches exactly
// one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("get run: %w", ErrRunNotFound)
	}
	var m RunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err == nil {
		r := runFromModel(m)
		return &r, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var models []RunModel
	if err := s.db.WithContext(ctx).Where("substr(id, 1, ?) = ?", len(id), id).Limit(2).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	switch len(models) {
	case 0:
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	case 1:
		r := runFromModel(models[0])
		return &r, nil
	default:
		return nil, fmt.Errorf("get run %s: %w", id, ErrAmbiguousRun)
	}
}

// Answers returns a run's answers in question order.
func (s *Store) Answers(ctx context.Context, runID string) ([]Answer, error) {
	var models []AnswerModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("idx ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]Answer, len(models))
	for i, m := range models {
		out[i] = Answer{
			Index:     m.Idx,
			Turn:      m.Turn,
			Question:  m.Question,
			Answer:    m.Answer,
			Outcome:   m.Outcome,
			Mode:      m.Mode,
			SessionID: m.SessionID,
			Attempts:  m.Attempts,
			Truncated: m.Truncated,
			Error:     m.Error,
			Latency:   time.Duration(m.LatencyMs) * time.Millisecond,
			AskedAt:   m.AskedAt,
		}
	}
	return out, nil
}

func runFromModel(m RunModel) Run {
	return Run{
		ID:            m.ID,
		Benchmark:     m.Benchmark,
		Repo:          m.Repo,
		PRNumber:      m.PRNumber,
		Strategy:      m.Strategy,
		ToolVersion:   m.ToolVersion,
		Status:        m.Status,
		SessionID:     m.SessionID,
		FinalMode:     m.FinalMode,
		Escalated:     m.Escalated,
		Total:         m.Total,
		OK:            m.OK,
		Errors:        m.Errors,
		MemoryChecks:  m.MemoryChecks,
		MemoryPassed:  m.MemoryPassed,
		Refreshes:     m.Refreshes,
		AvgLatency:    time.Duration(m.AvgLatencyMs) * time.Millisecond,
		FailureReason: m.FailureReason,
		ResultsPath:   m.ResultsPath,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}
