package questions

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoQuestions is returned when none of the candidate files yields a question.
var ErrNoQuestions = errors.New("no ground truth questions found")

var prefixes = []string{"Q:", "**Question:**"}

// Parse returns the questions in text, in order. A question is a line starting
// with "Q:" or "**Question:**"; the prefix is removed.
func Parse(text string) []string {
	var out []string
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		for _, p := range prefixes {
			if !strings.HasPrefix(line, p) {
				continue
			}
			if q := strings.TrimSpace(strings.TrimPrefix(line, p)); q != "" {
				out = append(out, q)
			}
			break
		}
	}
	return out
}

// Load returns the questions of the first path that exists and contains at
// least one, along with that path.
func Load(paths ...string) ([]string, string, error) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read questions: %w", err)
		}
		if qs := Parse(string(data)); len(qs) > 0 {
			return qs, p, nil
		}
	}
	return nil, "", fmt.Errorf("%w (searched %s)", ErrNoQuestions, strings.Join(paths, ", "))
}

// Limit caps qs at max entries. A max of zero or less keeps everything.
func Limit(qs []string, max int) []string {
	if max <= 0 || len(qs) <= max {
		return qs
	}
	return qs[:max]
}
