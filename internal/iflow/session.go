package iflow

import (
	"errors"
	"time"

	"github.com/cli-eval/prbench/internal/quality"
)

var (
	ErrToolMissing = errors.New("iflow not available")
	ErrNoSession   = errors.New("no iflow session id")
	ErrTimeout     = errors.New("iflow timed out")
	ErrExited      = errors.New("iflow process exited")
	errPoorAnswer  = errors.New("poor answer")
)

// Mode is how a single turn reaches iflow.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModePTY    Mode = "pty"
)

// Boundary records how the end of a response was detected.
type Boundary string

const (
	BoundaryExit    Boundary = "exit"
	BoundaryMarker  Boundary = "marker"
	BoundaryIdle    Boundary = "idle"
	BoundaryTimeout Boundary = "timeout"
)

// Session is the conversation state carried between turns.
type Session struct {
	ID                  string
	Turn                int
	Mode                Mode
	ConsecutiveFailures int
	Escalated           bool
	StartedAt           time.Time
}

// Turn is one prompt sent to iflow and what came back.
type Turn struct {
	Prompt    string
	Answer    string
	Raw       string
	Elapsed   time.Duration
	SessionID string
	Mode      Mode
	Boundary  Boundary
	Truncated bool
	Attempts  int
	Outcome   quality.Outcome
	Info      *ExecutionInfo
}

// OK reports whether the answer is usable. Truncated turns never are.
func (t *Turn) OK() bool {
	return t != nil && t.Outcome == quality.OK && !t.Truncated
}
