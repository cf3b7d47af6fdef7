package reporter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"notificationforwarder/internal/tmpl"
)

// naemon submits a passive service check result describing the forward,
// so a broken notification channel shows up in the monitoring itself.
type naemon struct {
	pipe    string
	host    string
	service string
}

func newNaemon(deps Deps) (Reporter, error) {
	host, err := deps.Options.Require("host_name")
	if err != nil {
		return nil, err
	}
	svc := deps.Options.String("service_description", "notificationforwarder "+deps.Runner)
	return &naemon{
		pipe:    deps.Options.String("command_file", deps.Env.CommandPipe()),
		host:    host,
		service: svc,
	}, nil
}

func stateFor(outcome string) int {
	switch outcome {
	case OutcomeSpooled:
		return 1
	case OutcomeFailed:
		return 2
	default:
		return 0
	}
}

func (n *naemon) Report(ctx context.Context, r Report) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	output := fmt.Sprintf("%s: %s", strings.ToUpper(r.Outcome), tmpl.OneLine(r.Summary))
	if r.Error != "" {
		output += " (" + tmpl.OneLine(r.Error) + ")"
	}
	output += fmt.Sprintf("|spooled=%d", r.Spooled)
	line := fmt.Sprintf("[%d] PROCESS_SERVICE_CHECK_RESULT;%s;%s;%d;%s\n",
		at.Unix(), n.host, n.service, stateFor(r.Outcome), output)

	// Non-blocking: a FIFO without a reader (core stopped) fails instead of hanging.
	f, err := os.OpenFile(n.pipe, os.O_WRONLY|os.O_APPEND|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open command pipe: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write command pipe: %w", err)
	}
	return f.Close()
}
