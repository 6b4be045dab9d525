package iflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
)

// ptySession is a live interactive iflow process attached to a pseudo-terminal.
type ptySession struct {
	cmd        *exec.Cmd
	ptmx       *os.File
	chunks     chan []byte
	exited     chan struct{}
	pending    string
	transcript io.WriteCloser
	logger     *slog.Logger
}

type ptyOptions struct {
	bin        string
	dir        string
	env        []string
	rows, cols uint16
	transcript string
}

func startPTY(opts ptyOptions, logger *slog.Logger) (*ptySession, error) {
	logger.Info("spawning interactive iflow", "bin", opts.bin, "dir", opts.dir)

	cmd := exec.Command(opts.bin)
	cmd.Dir = opts.dir
	cmd.Env = append(os.Environ(), opts.env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.rows, Cols: opts.cols})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", opts.bin, err)
	}

	s := &ptySession{
		cmd:    cmd,
		ptmx:   ptmx,
		chunks: make(chan []byte, 64),
		exited: make(chan struct{}),
		logger: logger,
	}
	if opts.transcript != "" {
		f, err := os.OpenFile(opts.transcript, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.Warn("open pty transcript failed", "path", opts.transcript, "err", err)
		} else {
			s.transcript = f
		}
	}

	go s.readLoop()
	go func() {
		_ = cmd.Wait()
		close(s.exited)
	}()
	return s, nil
}

func (s *ptySession) readLoop() {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if s.transcript != nil {
				_, _ = s.transcript.Write(chunk)
			}
			s.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// send writes text as a single line of terminal input.
func (s *ptySession) send(text string) error {
	line := flattenLine(text)
	if _, err := s.ptmx.Write([]byte(line + "\r")); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// readUntil collects output until until matches, the output goes quiet for
// idle, timeout elapses, or the process exits. Output after the match is
// kept for the next read.
func (s *ptySession) readUntil(ctx context.Context, until *regexp.Regexp, timeout, idle time.Duration) (string, Boundary) {
	var raw bytes.Buffer
	carried := s.pending
	s.pending = ""

	current := func() string {
		return carried + normalizeTerminal(raw.String())
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	quiet := time.NewTimer(idle)
	defer quiet.Stop()

	for {
		text := current()
		if loc := until.FindStringIndex(text); loc != nil {
			s.pending = text[loc[1]:]
			return text[:loc[1]], BoundaryMarker
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return text, BoundaryExit
			}
			raw.Write(chunk)
			quiet.Reset(idle)
		case <-quiet.C:
			return text, BoundaryIdle
		case <-deadline.C:
			return text, BoundaryTimeout
		case <-ctx.Done():
			return text, BoundaryTimeout
		}
	}
}

// discard drops output that arrived between turns.
func (s *ptySession) discard() {
	s.pending = ""
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *ptySession) alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// close interrupts the process, waits up to grace for it to exit, then kills
// it and releases the terminal.
func (s *ptySession) close(grace time.Duration) error {
	if s.alive() {
		_, _ = s.ptmx.Write([]byte{0x03})
		select {
		case <-s.exited:
		case <-time.After(grace):
			s.logger.Warn("iflow ignored interrupt, killing", "pid", s.cmd.Process.Pid)
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
	}
	err := s.ptmx.Close()
	go func() {
		for range s.chunks {
		}
	}()
	if s.transcript != nil {
		_ = s.transcript.Close()
	}
	if err != nil {
		return fmt.Errorf("close pty: %w", err)
	}
	return nil
}

func flattenLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func normalizeTerminal(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// cleanPTYAnswer strips the echoed prompt and the execution-info trailer.
func cleanPTYAnswer(text, prompt string) (string, *ExecutionInfo) {
	if echo := flattenLine(prompt); echo != "" {
		text = strings.Replace(text, echo, "", 1)
	}
	return SplitExecutionInfo(text)
}
