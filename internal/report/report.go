package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/cli-eval/prbench/internal/store"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 120

type column struct {
	title string
	width int
}

var runColumns = []column{
	{"STARTED", 16},
	{"BENCHMARK", 16},
	{"STRATEGY", 8},
	{"STATUS", 14},
	{"OK", 7},
	{"RATE", 6},
	{"AVG", 7},
	{"MODE", 10},
	{"RUN", 8},
}

// Render lists runs newest first, one line each.
func Render(runs []store.Run, width int) string {
	width = normalizeWidth(width)
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("prbench │ %d runs", len(runs))))
	b.WriteString("\n")

	if len(runs) == 0 {
		b.WriteString(emptyStyle.Render("  (no benchmark runs recorded)"))
		b.WriteString("\n")
		return b.String()
	}

	titles := make([]string, len(runColumns))
	for i, c := range runColumns {
		titles[i] = c.title
	}
	b.WriteString(columnStyle.Render(fitLine(row(runColumns, titles), width)))
	b.WriteString("\n")

	for _, r := range runs {
		rate := r.SuccessRate()
		mode := r.FinalMode
		if r.Escalated {
			mode += "*"
		}
		cells := []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Benchmark,
			r.Strategy,
			statusIcon(r.Status) + " " + r.Status,
			fmt.Sprintf("%d/%d", r.OK, r.Total),
			fmt.Sprintf("%.0f%%", rate),
			formatDuration(r.AvgLatency),
			mode,
			shortID(r.ID),
		}
		line := fitLine(row(runColumns, cells), width)
		b.WriteString(lipgloss.NewStyle().Foreground(statusColor(r.Status, rate)).Render(line))
		b.WriteString("\n")
	}

	b.WriteString(footerStyle.Render("* switched to the interactive terminal during the run"))
	b.WriteString("\n")
	return b.String()
}

// RenderRun shows one run's summary followed by each question and the first
// line of its answer.
func RenderRun(run store.Run, answers []store.Answer, width int) string {
	width = normalizeWidth(width)
	var b strings.Builder

	header := fmt.Sprintf("%s │ %s #%d │ %s │ iflow %s",
		run.Benchmark, run.Repo, run.PRNumber, run.Strategy, valueOr(run.ToolVersion, "?"))
	b.WriteString(headerStyle.Render(fitLine(header, width-2)))
	b.WriteString("\n")

	rate := run.SuccessRate()
	status := fmt.Sprintf("%s %s │ %d/%d ok (%.1f%%) │ memory %d/%d │ refreshes %d │ avg %s",
		statusIcon(run.Status), run.Status, run.OK, run.Total, rate,
		run.MemoryPassed, run.MemoryChecks, run.Refreshes, formatDuration(run.AvgLatency))
	b.WriteString(lipgloss.NewStyle().Foreground(statusColor(run.Status, rate)).Render(fitLine(status, width)))
	b.WriteString("\n")

	if run.FailureReason != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(colorFailed).Render(fitLine("  "+run.FailureReason, width)))
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Answers (%d)", len(answers))))
	b.WriteString("\n")
	if len(answers) == 0 {
		b.WriteString(emptyStyle.Render("  (no answers recorded)"))
		b.WriteString("\n")
	}

	for i, a := range answers {
		prefix, child := "├─", "│  "
		if i == len(answers)-1 {
			prefix, child = "└─", "   "
		}

		outcome := a.Outcome
		if a.Truncated {
			outcome += ",truncated"
		}
		q := fmt.Sprintf("%s Q%d [%s] %s %s │ %s",
			prefix, a.Index, outcome, formatDuration(a.Latency), a.Mode, oneLine(a.Question))
		b.WriteString(questionStyle.Foreground(outcomeColor(a.Outcome)).Render(fitLine(q, width)))
		b.WriteString("\n")

		text := oneLine(a.Answer)
		if a.Error != "" {
			text = "ERROR: " + a.Error
		}
		b.WriteString(answerStyle.Render(fitLine(child+"  "+text, width)))
		b.WriteString("\n")
	}

	footer := fmt.Sprintf("Run %s │ session %s", run.ID, valueOr(run.SessionID, "(none)"))
	if run.ResultsPath != "" {
		footer += " │ " + run.ResultsPath
	}
	b.WriteString(footerStyle.Render(fitLine(footer, width)))
	b.WriteString("\n")
	return b.String()
}

func row(cols []column, cells []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if runewidth.StringWidth(cell) > c.width {
			cell = runewidth.Truncate(cell, c.width, "…")
		}
		parts[i] = runewidth.FillRight(cell, c.width)
	}
	return strings.TrimRight(strings.Join(parts, " "), " ")
}

func fitLine(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "...")
	}
	return s
}

func normalizeWidth(width int) int {
	if width <= 0 {
		return DefaultWidth
	}
	if width < 40 {
		return 40
	}
	return width
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(100 * time.Millisecond)
	m := d / time.Minute
	s := float64(d%time.Minute) / float64(time.Second)
	if m > 0 {
		return fmt.Sprintf("%dm%.0fs", m, s)
	}
	return fmt.Sprintf("%.1fs", s)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
