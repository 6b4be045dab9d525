package iflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cli-eval/prbench/internal/config"
	"github.com/cli-eval/prbench/internal/quality"
)

type Options struct {
	Config  config.IFlowConfig
	Rules   quality.Rules
	Workdir string
	Logger  *slog.Logger
}

// Driver owns one iflow conversation. The strategy decides whether turns go
// through one-shot invocations, an interactive pseudo-terminal, or start
// one-shot and move to the terminal after repeated failures.
type Driver struct {
	cfg      config.IFlowConfig
	rules    quality.Rules
	bin      string
	env      []string
	workdir  string
	strategy string
	boundary *regexp.Regexp
	ready    *regexp.Regexp
	logger   *slog.Logger

	session       Session
	primer        string
	pty           *ptySession
	escalateFails bool
}

func New(opts Options) (*Driver, error) {
	boundary, err := regexp.Compile(opts.Config.PTY.Boundary)
	if err != nil {
		return nil, fmt.Errorf("compile pty boundary: %w", err)
	}
	ready, err := regexp.Compile(opts.Config.PTY.ReadyPattern)
	if err != nil {
		return nil, fmt.Errorf("compile pty ready pattern: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mode := ModeDirect
	if opts.Config.Strategy == config.StrategyPTY {
		mode = ModePTY
	}

	return &Driver{
		cfg:      opts.Config,
		rules:    opts.Rules,
		bin:      opts.Config.Binary,
		env:      opts.Config.Env(),
		workdir:  opts.Workdir,
		strategy: opts.Config.Strategy,
		boundary: boundary,
		ready:    ready,
		logger:   logger.With("strategy", opts.Config.Strategy),
		session:  Session{Mode: mode},
	}, nil
}

// Session returns a copy of the current conversation state.
func (d *Driver) Session() Session {
	return d.session
}

// SetPrimer replaces the context message sent when the driver switches to the
// interactive terminal. It defaults to the opening prompt.
func (d *Driver) SetPrimer(text string) {
	d.primer = text
}

// Version runs `iflow --version`. Any failure means the tool is unusable.
func (d *Driver) Version(ctx context.Context) (string, error) {
	stdout, _, err := d.run(ctx, d.cfg.VersionTimeout, "--version")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	return strings.TrimSpace(stdout), nil
}

// Open starts the conversation with the initial context prompt. An error here
// means no session exists and the run cannot continue.
func (d *Driver) Open(ctx context.Context, prompt string) (*Turn, error) {
	d.session.StartedAt = time.Now()
	if d.primer == "" {
		d.primer = prompt
	}

	var (
		turn *Turn
		err  error
	)
	if d.session.Mode == ModePTY {
		turn, err = d.openPTY(ctx, prompt, d.cfg.InitialTimeout)
	} else {
		turn, err = d.directTurn(ctx, prompt, d.cfg.InitialTimeout, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	d.record(turn)
	turn.Attempts = 1
	turn.Outcome = quality.Classify(turn.Answer, d.rules)
	if d.session.Mode == ModeDirect && d.session.ID == "" {
		d.logger.Warn("no session id in iflow output; resumed turns will fail")
	}
	d.logger.Info("session opened", "session", d.session.ID, "mode", d.session.Mode,
		"elapsed", turn.Elapsed.Round(time.Millisecond), "outcome", turn.Outcome)
	return turn, nil
}

// Ask sends a question within the session, retrying failed or poor turns.
// A poor answer that survives every attempt is returned with its outcome and
// no error; a command failure that survives every attempt is returned as an
// error.
func (d *Driver) Ask(ctx context.Context, question string) (*Turn, error) {
	policy := &retryPolicy{failure: d.cfg.Retry.Backoff, poor: d.cfg.Retry.PoorBackoff}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.Retry.MaxAttempts-1)), ctx)

	var (
		last     *Turn
		attempts int
	)
	op := func() error {
		attempts++
		if d.shouldEscalate() {
			d.escalate(ctx)
		}

		turn, err := d.turn(ctx, question, d.cfg.QuestionTimeout)
		if err != nil {
			d.fail()
			policy.last = err
			if errors.Is(err, ErrNoSession) && !d.canEscalate() {
				return backoff.Permanent(err)
			}
			return err
		}

		d.record(turn)
		turn.Outcome = quality.Classify(turn.Answer, d.rules)
		last = turn
		if !turn.OK() {
			d.fail()
			policy.last = errPoorAnswer
			return errPoorAnswer
		}
		d.session.ConsecutiveFailures = 0
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("retrying question", "attempt", attempts, "err", firstLine(err), "wait", wait)
	}

	err := backoff.RetryNotify(op, b, notify)
	if last != nil {
		last.Attempts = attempts
	}
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errPoorAnswer) && last != nil:
		return last, nil
	default:
		return nil, err
	}
}

// Probe sends a side message such as a memory check or context refresh. It
// makes one attempt and does not touch the failure count.
func (d *Driver) Probe(ctx context.Context, text string) (*Turn, error) {
	turn, err := d.turn(ctx, text, d.cfg.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	d.record(turn)
	turn.Attempts = 1
	turn.Outcome = quality.Classify(turn.Answer, d.rules)
	return turn, nil
}

// MarkUnhealthy counts a failed memory check toward escalation.
func (d *Driver) MarkUnhealthy() {
	d.fail()
}

// Close terminates the interactive process, if any. It is safe to call more
// than once.
func (d *Driver) Close() error {
	if d.pty == nil {
		return nil
	}
	s := d.pty
	d.pty = nil
	d.logger.Info("closing interactive iflow")
	return s.close(d.cfg.PTY.CloseTimeout)
}

func (d *Driver) turn(ctx context.Context, prompt string, timeout time.Duration) (*Turn, error) {
	if d.session.Mode == ModePTY {
		return d.ptyTurn(ctx, prompt, timeout)
	}
	return d.directTurn(ctx, prompt, timeout, true)
}

func (d *Driver) record(turn *Turn) {
	d.session.Turn++
	if turn.SessionID != "" && turn.SessionID != d.session.ID {
		if d.session.ID != "" {
			d.logger.Debug("session id changed", "from", d.session.ID, "to", turn.SessionID)
		}
		d.session.ID = turn.SessionID
	}
	if turn.SessionID == "" {
		turn.SessionID = d.session.ID
	}
}

func (d *Driver) fail() {
	d.session.ConsecutiveFailures++
}

func (d *Driver) canEscalate() bool {
	return d.strategy == config.StrategyHybrid && d.session.Mode == ModeDirect && !d.escalateFails
}

func (d *Driver) shouldEscalate() bool {
	return d.canEscalate() && d.session.ConsecutiveFailures >= d.cfg.EscalateAfter
}

// escalate moves a hybrid session onto the interactive terminal and primes
// it with context. On failure the driver stays direct and does not retry the
// switch.
func (d *Driver) escalate(ctx context.Context) {
	d.logger.Warn("switching to interactive iflow", "failures", d.session.ConsecutiveFailures)
	if _, err := d.openPTY(ctx, d.primer, d.cfg.InitialTimeout); err != nil {
		d.logger.Error("interactive fallback failed", "err", err)
		d.escalateFails = true
		return
	}
	d.session.Mode = ModePTY
	d.session.Escalated = true
	d.session.ConsecutiveFailures = 0
}

func (d *Driver) openPTY(ctx context.Context, prompt string, timeout time.Duration) (*Turn, error) {
	s, err := startPTY(ptyOptions{
		bin:        d.bin,
		dir:        d.workdir,
		env:        d.env,
		rows:       d.cfg.PTY.Rows,
		cols:       d.cfg.PTY.Cols,
		transcript: d.cfg.PTY.Transcript,
	}, d.logger)
	if err != nil {
		return nil, err
	}

	banner, boundary := s.readUntil(ctx, d.ready, d.cfg.PTY.ReadyTimeout, d.cfg.PTY.ReadyTimeout)
	switch boundary {
	case BoundaryExit:
		_ = s.close(d.cfg.PTY.CloseTimeout)
		return nil, fmt.Errorf("%w before ready prompt: %s", ErrExited, strings.TrimSpace(banner))
	case BoundaryMarker:
	default:
		d.logger.Warn("no ready prompt from interactive iflow, sending anyway", "waited", d.cfg.PTY.ReadyTimeout)
	}
	s.discard()

	prev := d.pty
	d.pty = s
	turn, err := d.ptyTurn(ctx, prompt, timeout)
	if err != nil {
		d.pty = prev
		_ = s.close(d.cfg.PTY.CloseTimeout)
		return nil, err
	}
	return turn, nil
}

func (d *Driver) ptyTurn(ctx context.Context, prompt string, timeout time.Duration) (*Turn, error) {
	s := d.pty
	if s == nil || !s.alive() {
		return nil, ErrExited
	}
	s.discard()

	start := time.Now()
	if err := s.send(prompt); err != nil {
		return nil, err
	}
	raw, boundary := s.readUntil(ctx, d.boundary, timeout, d.cfg.PTY.IdleTimeout)
	elapsed := time.Since(start)

	switch boundary {
	case BoundaryExit:
		return nil, fmt.Errorf("%w mid-turn", ErrExited)
	case BoundaryTimeout:
		return nil, fmt.Errorf("interactive turn: %w after %s", ErrTimeout, timeout)
	}

	answer, info := cleanPTYAnswer(raw, prompt)
	turn := &Turn{
		Prompt:    prompt,
		Answer:    answer,
		Raw:       raw,
		Elapsed:   elapsed,
		Mode:      ModePTY,
		Boundary:  boundary,
		Truncated: boundary != BoundaryMarker,
		Info:      info,
	}
	if info != nil {
		turn.SessionID = info.SessionID
	}
	if turn.Truncated {
		d.logger.Warn("interactive answer ended on idle timeout", "idle", d.cfg.PTY.IdleTimeout, "chars", len(answer))
	}
	return turn, nil
}

// retryPolicy waits longer after a failed command than after a poor answer.
type retryPolicy struct {
	failure time.Duration
	poor    time.Duration
	last    error
}

func (p *retryPolicy) NextBackOff() time.Duration {
	if errors.Is(p.last, errPoorAnswer) {
		return p.poor
	}
	return p.failure
}

func (p *retryPolicy) Reset() {}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
