package report

import "github.com/charmbracelet/lipgloss"

var (
	// Status colors
	colorCompleted   = lipgloss.Color("46")  // green
	colorDegraded    = lipgloss.Color("220") // yellow
	colorFailed      = lipgloss.Color("196") // red
	colorRunning     = lipgloss.Color("33")  // blue
	colorInterrupted = lipgloss.Color("240") // gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingLeft(1).
			PaddingRight(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1)

	columnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	// Q lines take their foreground from the answer outcome.
	questionStyle = lipgloss.NewStyle().
			Bold(true)

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "failed":
		return "❌"
	case "running":
		return "⚙️"
	case "interrupted":
		return "⏹"
	default:
		return "❓"
	}
}

// statusColor shades a completed run by its success rate.
func statusColor(status string, successRate float64) lipgloss.Color {
	switch status {
	case "completed":
		if successRate > 80 {
			return colorCompleted
		}
		return colorDegraded
	case "failed":
		return colorFailed
	case "running":
		return colorRunning
	case "interrupted":
		return colorInterrupted
	default:
		return lipgloss.Color("252")
	}
}

func outcomeColor(outcome string) lipgloss.Color {
	switch outcome {
	case "ok":
		return colorCompleted
	case "error":
		return colorFailed
	default:
		return colorDegraded
	}
}
