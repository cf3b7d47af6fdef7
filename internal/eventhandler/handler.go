package eventhandler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
	logx "notificationforwarder/pkg/logx"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultShell   = "/bin/sh"
)

type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Discarded Outcome = "discarded"
	Failed    Outcome = "failed"
)

type Config struct {
	// Runner is the runner name including its tag, e.g. "ssh_dmz".
	Runner  string
	Timeout time.Duration
	Shell   string
}

// Deps are the collaborators of a Handler. Metrics is optional.
type Deps struct {
	Env     omd.Env
	Runner  Runner
	Decider Decider
	Options options.Options
	Metrics *metrics.Set
	Log     logx.Logger
}

// Result describes one handled event.
type Result struct {
	Outcome  Outcome
	Summary  string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

type Handler struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	if cfg.Runner == "" {
		return nil, errors.New("eventhandler: runner name is required")
	}
	if deps.Runner == nil || deps.Decider == nil {
		return nil, errors.New("eventhandler: runner and decider are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if deps.Options == nil {
		deps.Options = options.Options{}
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, deps: deps, log: log, now: time.Now}, nil
}

func (h *Handler) Runner() string { return h.cfg.Runner }

// Handle decides about raw and runs the runner's command. Discarded events
// are not an error.
func (h *Handler) Handle(ctx context.Context, raw event.Raw) (Result, error) {
	raw = raw.Clone()
	event.Enrich(raw, h.deps.Env, h.now())
	ev := event.NewDecided(raw)

	if err := h.deps.Decider.DecideAndPrepare(ctx, ev); err != nil {
		h.log.Error("decider failed", logx.String("event", raw.Format()), logx.Err(err))
		return h.finish(Result{Outcome: Failed, Summary: raw.Format(), ExitCode: -1, Cause: err}), fmt.Errorf("decide: %w", err)
	}
	if ev.IsDiscarded() {
		if !ev.IsDiscardedSilently() {
			if ev.Summary == "" {
				ev.Summary = raw.Format()
			}
			h.log.Info("discarded: " + ev.Summary)
		}
		return h.finish(Result{Outcome: Discarded, Summary: ev.Summary}), nil
	}
	if !ev.IsComplete() {
		h.log.Error(ErrIncomplete.Error(), logx.String("event", raw.Format()))
		return h.finish(Result{Outcome: Failed, Summary: raw.Format(), ExitCode: -1, Cause: ErrIncomplete}), ErrIncomplete
	}

	opts := h.deps.Options.Merge(ev.RunnerOpts)
	switch p := ev.Payload.(type) {
	case map[string]any:
		opts = opts.Overlay(p)
	case event.Raw:
		opts = opts.Overlay(p)
	}

	res := h.run(ctx, ev, opts)
	h.logResult(res)
	return h.finish(res), res.Cause
}

func (h *Handler) run(ctx context.Context, ev *event.DecidedEvent, opts options.Options) Result {
	res := Result{Outcome: Failed, Summary: ev.Summary, ExitCode: -1}

	if c, ok := h.deps.Runner.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			res.Cause = fmt.Errorf("connect: %w", err)
			return res
		}
		defer func() {
			if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
				h.log.Warn("disconnect failed", logx.Err(err))
			}
		}()
	}

	command, err := h.deps.Runner.Run(ctx, ev, opts)
	if err != nil {
		res.Cause = err
		return res
	}
	command = strings.TrimSpace(command)
	if command == "" {
		res.Cause = ErrNoCommand
		return res
	}
	res.Command = command
	h.log.Debug("command is " + command)

	timeout, err := opts.Duration("timeout", h.cfg.Timeout)
	if err != nil {
		res.Cause = err
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.cfg.Shell, "-c", command)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err = cmd.Run()
	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("command timed out after %s: %w", timeout, ctx.Err())
		}
		res.Cause = err
		return res
	}
	res.ExitCode = 0
	res.Outcome = Succeeded
	return res
}

func (h *Handler) logResult(res Result) {
	ownSummary := false
	if s, ok := h.deps.Runner.(SummaryLogger); ok {
		ownSummary = s.LogsOwnSummary()
	}
	if res.Outcome == Succeeded {
		if !ownSummary {
			h.log.Info(res.Summary)
			h.log.Debug("command output", logx.String("stdout", res.Stdout), logx.String("stderr", res.Stderr))
		}
		return
	}
	switch {
	case res.Stderr != "":
		h.log.Error("run failed",
			logx.String("stdout", res.Stdout),
			logx.String("stderr", res.Stderr),
			logx.Int("exit_code", res.ExitCode),
			logx.String("event", res.Summary))
	case res.Command == "" || res.ExitCode < 0:
		h.log.Error("run failed", logx.Err(res.Cause), logx.String("event", res.Summary))
	case !ownSummary:
		h.log.Error("run failed",
			logx.String("stdout", res.Stdout),
			logx.Int("exit_code", res.ExitCode),
			logx.String("event", res.Summary))
	}
}

func (h *Handler) finish(res Result) Result {
	h.deps.Metrics.Outcome(h.cfg.Runner, string(res.Outcome))
	return res
}
