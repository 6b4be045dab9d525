package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cli-eval/prbench/internal/quality"
)

const summaryPlaceholder = "### Session Summary\n[Will be populated at the end]\n"

// Entry is one question and its answer. Index 0 is the initial prompt.
type Entry struct {
	Index     int
	Turn      int
	Question  string
	Answer    string
	Elapsed   time.Duration
	Outcome   quality.Outcome
	Mode      string
	SessionID string
	Attempts  int
	Truncated bool
	Err       string
	Signals   quality.Signals
	Timestamp time.Time
	Notes     []string
}

// OK reports whether the entry counts as a successful answer.
func (e Entry) OK() bool {
	return e.Err == "" && !e.Truncated && e.Outcome == quality.OK
}

type Header struct {
	RunID        string
	Benchmark    string
	Strategy     string
	Repo         string
	PR           int
	Title        string
	ToolVersion  string
	PromptSource string
	Questions    int
	Started      time.Time
}

type Summary struct {
	Status        string
	Total         int
	OK            int
	Errors        int
	MemoryChecks  int
	MemoryPassed  int
	Refreshes     int
	Detailed      int
	MemoryRefs    int
	TotalLatency  time.Duration
	Escalated     bool
	FinalMode     string
	SessionID     string
	Finished      time.Time
	FailureReason string
}

func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.OK) / float64(s.Total) * 100
}

func (s Summary) AvgLatency() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Total)
}

// Health is "healthy" when more than 80% of answers were usable.
func (s Summary) Health() string {
	if s.Total > 0 && s.SuccessRate() > 80 {
		return "healthy"
	}
	return "degraded"
}

// Add folds one question entry into the totals.
func (s *Summary) Add(e Entry) {
	s.Total++
	s.TotalLatency += e.Elapsed
	switch {
	case e.Err != "":
		s.Errors++
	case e.OK():
		s.OK++
	}
	if e.Signals.Detailed {
		s.Detailed++
	}
	if e.Signals.MemoryReference {
		s.MemoryRefs++
	}
}

// Log is an append-only markdown results file. Only the summary placeholder
// is ever rewritten.
type Log struct {
	path string
}

// ResultsPath names the log for a benchmark run under dir.
func ResultsPath(dir, strategy string) string {
	name := "iflow_answers.md"
	if strategy != "" && strategy != "direct" {
		name = fmt.Sprintf("iflow_answers_%s.md", strategy)
	}
	return filepath.Join(dir, name)
}

func Create(path string, h Header) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# iFlow CLI Benchmark: %s\n\n", h.Benchmark)
	fmt.Fprintf(&b, "**Run ID**: %s\n", h.RunID)
	fmt.Fprintf(&b, "**Repository**: %s\n", h.Repo)
	fmt.Fprintf(&b, "**PR**: #%d %s\n", h.PR, h.Title)
	fmt.Fprintf(&b, "**Strategy**: %s\n", h.Strategy)
	fmt.Fprintf(&b, "**iFlow Version**: %s\n", h.ToolVersion)
	fmt.Fprintf(&b, "**Initial Prompt**: %s\n", h.PromptSource)
	fmt.Fprintf(&b, "**Questions**: %d\n", h.Questions)
	fmt.Fprintf(&b, "**Started**: %s\n\n", h.Started.Format(time.RFC3339))
	b.WriteString(summaryPlaceholder)
	b.WriteString("\n---\n\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("create results log: %w", err)
	}
	return &Log{path: path}, nil
}

func (l *Log) Path() string {
	return l.path
}

// AppendInitial records the opening context prompt and its response.
func (l *Log) AppendInitial(e Entry) error {
	var b strings.Builder
	b.WriteString("## Turn 0: Initial Context\n\n")
	fmt.Fprintf(&b, "**Session ID**: %s\n", valueOr(e.SessionID, "(none)"))
	fmt.Fprintf(&b, "**Mode**: %s\n", e.Mode)
	fmt.Fprintf(&b, "**Response Time**: %.2fs\n\n", e.Elapsed.Seconds())
	b.WriteString("### Prompt\n\n")
	b.WriteString(strings.TrimSpace(e.Question))
	b.WriteString("\n\n### Response\n\n")
	b.WriteString(strings.TrimSpace(e.Answer))
	b.WriteString("\n\n---\n\n")
	return l.append(b.String())
}

func (l *Log) Append(e Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "## Question %d\n\n", e.Index)
	fmt.Fprintf(&b, "**Session ID**: %s\n", valueOr(e.SessionID, "(none)"))
	fmt.Fprintf(&b, "**Turn**: %d\n", e.Turn)
	fmt.Fprintf(&b, "**Mode**: %s\n", e.Mode)
	fmt.Fprintf(&b, "**Quality**: %s\n", entryQuality(e))
	fmt.Fprintf(&b, "**Attempts**: %d\n", e.Attempts)
	fmt.Fprintf(&b, "**Response Time**: %.2fs\n", e.Elapsed.Seconds())
	fmt.Fprintf(&b, "**Timestamp**: %s\n\n", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Question**: %s\n\n", e.Question)
	b.WriteString("**Answer**:\n\n")
	if e.Err != "" {
		b.WriteString("ERROR: " + e.Err)
	} else {
		b.WriteString(strings.TrimSpace(e.Answer))
	}
	b.WriteString("\n\n")
	for _, n := range e.Notes {
		fmt.Fprintf(&b, "> %s\n", n)
	}
	if len(e.Notes) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("---\n\n")
	return l.append(b.String())
}

// Finalize replaces the summary placeholder with s.
func (l *Log) Finalize(s Summary) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read results log: %w", err)
	}
	out := strings.Replace(string(data), summaryPlaceholder, renderSummary(s), 1)

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(out), 0644); err != nil {
		return fmt.Errorf("write results log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace results log: %w", err)
	}
	return nil
}

func (l *Log) append(text string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append results log: %w", err)
	}
	return nil
}

func renderSummary(s Summary) string {
	var b strings.Builder
	b.WriteString("### Session Summary\n\n")
	fmt.Fprintf(&b, "- **Status**: %s\n", s.Status)
	if s.FailureReason != "" {
		fmt.Fprintf(&b, "- **Failure**: %s\n", s.FailureReason)
	}
	fmt.Fprintf(&b, "- **Session ID**: %s\n", valueOr(s.SessionID, "(none)"))
	fmt.Fprintf(&b, "- **Questions**: %d\n", s.Total)
	fmt.Fprintf(&b, "- **Successful Answers**: %d (%.1f%%)\n", s.OK, s.SuccessRate())
	fmt.Fprintf(&b, "- **Errors**: %d\n", s.Errors)
	fmt.Fprintf(&b, "- **Detailed Answers**: %d\n", s.Detailed)
	fmt.Fprintf(&b, "- **Memory References**: %d\n", s.MemoryRefs)
	fmt.Fprintf(&b, "- **Memory Checks Passed**: %d/%d\n", s.MemoryPassed, s.MemoryChecks)
	fmt.Fprintf(&b, "- **Context Refreshes**: %d\n", s.Refreshes)
	fmt.Fprintf(&b, "- **Average Response Time**: %.2fs\n", s.AvgLatency().Seconds())
	fmt.Fprintf(&b, "- **Final Mode**: %s", s.FinalMode)
	if s.Escalated {
		b.WriteString(" (escalated)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- **Session Health**: %s\n", s.Health())
	fmt.Fprintf(&b, "- **Finished**: %s\n", s.Finished.Format(time.RFC3339))
	return b.String()
}

func entryQuality(e Entry) string {
	if e.Err != "" {
		return "error"
	}
	if e.Truncated {
		return e.Outcome.String() + " (truncated)"
	}
	return e.Outcome.String()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
