package eventhandler

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/tmpl"
)

// expressionDecider evaluates the CEL expression in run_if against the
// event, e.g.
//
//	event.SERVICESTATE == "CRITICAL" && event.SERVICEATTEMPT >= 3
//
// Events for which it is false are discarded, silently unless
// log_discarded=yes. The variable runner holds the runner name.
type expressionDecider struct {
	source       string
	program      cel.Program
	runner       string
	logDiscarded bool
}

func newExpressionDecider(deps DeciderDeps) (Decider, error) {
	src, err := deps.Options.Require("run_if")
	if err != nil {
		return nil, err
	}
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("runner", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("expression env: %w", err)
	}
	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("run_if %q: %w", src, iss.Err())
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("run_if %q: %w", src, err)
	}
	return &expressionDecider{
		source:       src,
		program:      prg,
		runner:       deps.Runner,
		logDiscarded: tmpl.Truthy(deps.Options["log_discarded"]),
	}, nil
}

func (d *expressionDecider) DecideAndPrepare(ctx context.Context, ev *event.DecidedEvent) error {
	out, _, err := d.program.ContextEval(ctx, map[string]any{
		"event":  map[string]any(ev.EventOpts()),
		"runner": d.runner,
	})
	if err != nil {
		return fmt.Errorf("run_if %q: %w", d.source, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fmt.Errorf("run_if %q: want bool, got %v", d.source, out.Type())
	}
	prepare(ev)
	if !ok {
		ev.Discard(!d.logDiscarded)
	}
	return nil
}
