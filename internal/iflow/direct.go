package iflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// run executes one non-interactive iflow invocation in the workspace.
func (d *Driver) run(ctx context.Context, timeout time.Duration, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Debug("exec", "cmd", d.bin+" "+describeArgs(args), "dir", d.workdir)
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Dir = d.workdir
	cmd.Env = append(os.Environ(), d.env...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), stderr.String(), fmt.Errorf("%s %s: %w after %s", d.bin, describeArgs(args), ErrTimeout, timeout)
	}
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%s %s: %w\n%s", d.bin, describeArgs(args), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}

// directTurn sends prompt with -p, resuming the session when one is known.
func (d *Driver) directTurn(ctx context.Context, prompt string, timeout time.Duration, resume bool) (*Turn, error) {
	args := []string{"-p", prompt}
	if resume {
		if d.session.ID == "" {
			return nil, ErrNoSession
		}
		args = append([]string{"-r", d.session.ID}, args...)
	}

	start := time.Now()
	stdout, stderr, err := d.run(ctx, timeout, args...)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	answer, info := SplitExecutionInfo(stdout)
	turn := &Turn{
		Prompt:   prompt,
		Answer:   answer,
		Raw:      stdout,
		Elapsed:  elapsed,
		Mode:     ModeDirect,
		Boundary: BoundaryExit,
		Info:     info,
	}
	switch {
	case info != nil && info.SessionID != "":
		turn.SessionID = info.SessionID
	case resume:
		// Answer prose can look like an id; only the execution info may
		// change an established session.
	default:
		if id, ok := ExtractSessionID(stdout + "\n" + stderr); ok {
			turn.SessionID = id
		}
	}
	return turn, nil
}

// describeArgs keeps long prompt arguments out of logs and errors.
func describeArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if len(a) > 60 || strings.ContainsAny(a, "\n") {
			out[i] = fmt.Sprintf("<%d chars>", len(a))
			continue
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
