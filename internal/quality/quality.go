package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cli-eval/prbench/internal/config"
)

// Outcome is the classifier verdict for one answer.
type Outcome int

const (
	OK Outcome = iota
	TooShort
	Boilerplate
	ErrorEcho
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case TooShort:
		return "too-short"
	case Boilerplate:
		return "boilerplate"
	case ErrorEcho:
		return "error-echo"
	default:
		return "unknown"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, bool) {
	for _, o := range []Outcome{OK, TooShort, Boilerplate, ErrorEcho} {
		if o.String() == s {
			return o, true
		}
	}
	return 0, false
}

type Rules struct {
	MinLength         int
	SubstantialLength int
	ErrorPrefix       string
	// Phrases marking an answer that is still exploring or has lost context.
	Phrases []string
}

func RulesFrom(cfg config.QualityConfig) Rules {
	phrases := make([]string, 0, len(cfg.Boilerplate)+len(cfg.MemoryLoss))
	phrases = append(phrases, cfg.Boilerplate...)
	phrases = append(phrases, cfg.MemoryLoss...)
	return Rules{
		MinLength:         cfg.MinLength,
		SubstantialLength: cfg.SubstantialLength,
		ErrorPrefix:       cfg.ErrorPrefix,
		Phrases:           phrases,
	}
}

// Classify judges an answer. Text shorter than MinLength runes is never OK.
func Classify(text string, r Rules) Outcome {
	trimmed := strings.TrimSpace(text)
	if r.ErrorPrefix != "" && strings.HasPrefix(trimmed, r.ErrorPrefix) {
		return ErrorEcho
	}
	n := utf8.RuneCountInString(trimmed)
	if n < r.MinLength {
		return TooShort
	}
	if r.SubstantialLength > 0 && n >= r.SubstantialLength {
		return OK
	}
	lower := strings.ToLower(trimmed)
	for _, p := range r.Phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return Boilerplate
		}
	}
	return OK
}

// Signals are the coarse answer traits reported in the run summary.
type Signals struct {
	Detailed        bool `json:"detailed"`
	MemoryReference bool `json:"memory_reference"`
}

var (
	detailKeywords = []string{"file", "function", "class", "line"}
	memoryKeywords = []string{"earlier", "previous", "before", "mentioned", "as i"}
)

// Analyze reports whether an answer is detailed and whether it refers back to
// earlier turns. repo is the repository name, counted as a detail keyword.
func Analyze(text, repo string) Signals {
	lower := strings.ToLower(text)
	var s Signals

	if len(text) > 100 && !strings.Contains(lower, "i don't know") {
		keywords := detailKeywords
		if repo != "" {
			keywords = append(append([]string(nil), detailKeywords...), strings.ToLower(repo))
		}
		s.Detailed = containsAny(lower, keywords)
	}
	s.MemoryReference = containsAny(lower, memoryKeywords)
	return s
}

// Recalls reports whether a memory check answer names PR number n. The
// number must stand alone ("#42" or "42", not "142" or "420"), and an answer
// containing any memoryLoss phrase never counts.
func Recalls(answer string, n int, memoryLoss []string) bool {
	lower := strings.ToLower(answer)
	for _, p := range memoryLoss {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return false
		}
	}
	re := regexp.MustCompile(fmt.Sprintf(`(?:#|\b)%d\b`, n))
	return re.MatchString(answer)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
