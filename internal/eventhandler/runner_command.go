package eventhandler

import (
	"context"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/tmpl"
)

// commandRunner renders the "command" option as a template. The data has
// .Event, .Payload, .Summary and .Options. The result runs through
// /bin/sh -c, so event text belongs inside shquote:
//
//	logger -t nagios {{ shquote .Summary }}
type commandRunner struct{}

func newCommandRunner(deps RunnerDeps) (Runner, error) {
	text, err := deps.Options.Require("command")
	if err != nil {
		return nil, err
	}
	if _, err := tmpl.Parse("command", text); err != nil {
		return nil, err
	}
	return commandRunner{}, nil
}

func (commandRunner) Run(_ context.Context, ev *event.DecidedEvent, opts options.Options) (string, error) {
	return tmpl.Render("command", opts["command"], templateData(ev, opts))
}

func templateData(ev *event.DecidedEvent, opts options.Options) map[string]any {
	return map[string]any{
		"Event":   map[string]any(ev.EventOpts()),
		"Payload": ev.Payload,
		"Summary": ev.Summary,
		"Options": map[string]string(opts),
	}
}
