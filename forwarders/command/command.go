// Package command hands formatted events to a local program.
//
// The command option is split into argv like a shell would, then every
// argument is rendered as a template on its own. It never runs through a
// shell, so event text always stays inside the argument it was placed in.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/tmpl"
	logx "notificationforwarder/pkg/logx"
)

const Name = "command"

type Forwarder struct {
	opts    options.Options
	log     logx.Logger
	timeout time.Duration
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	text, err := deps.Options.Require("command")
	if err != nil {
		return nil, err
	}
	argv, err := tmpl.SplitArgs(text)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}
	for _, a := range argv {
		if _, err := tmpl.Parse("command", a); err != nil {
			return nil, err
		}
	}
	timeout, err := deps.Options.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return &Forwarder{opts: deps.Options, log: deps.Log, timeout: timeout}, nil
}

// LogsOwnSummary: the command output is logged here, so the dispatcher
// keeps quiet.
func (f *Forwarder) LogsOwnSummary() bool { return true }

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	opts := forwarder.EffectiveOptions(f.opts, ev)
	words, err := tmpl.SplitArgs(opts["command"])
	if err != nil {
		return err
	}
	argv, err := tmpl.RenderArgs("command", words, map[string]any{
		"Payload": ev.Payload,
		"Summary": ev.Summary,
		"Event":   map[string]any(ev.EventOpts()),
		"ID":      ev.ID,
	})
	if err != nil {
		return err
	}
	if len(argv) == 0 || argv[0] == "" {
		return errors.New("command rendered empty")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin, _, err := forwarder.PayloadBytes(ev.Payload); err == nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err = cmd.Run()
	out := strings.TrimSpace(stdout.String())
	errOut := strings.TrimSpace(stderr.String())
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		f.log.Error("command failed",
			logx.String("summary", ev.Summary),
			logx.Int("exit_code", code),
			logx.String("stdout", out),
			logx.String("stderr", errOut))
		return fmt.Errorf("command %s: %w", argv[0], err)
	}
	f.log.Info("forwarded "+ev.Summary, logx.String("command", argv[0]))
	f.log.Debug("command output", logx.String("stdout", out), logx.String("stderr", errOut))
	return nil
}
