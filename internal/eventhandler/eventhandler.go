// Package eventhandler runs a shell command for monitoring events that a
// decider lets through.
//
// A Decider looks at the raw event and either discards it or fills in the
// payload and summary. A Runner then turns the decided event into a command
// line, which the Handler executes with /bin/sh.
package eventhandler

import (
	"context"
	"errors"
	"fmt"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/registry"
	logx "notificationforwarder/pkg/logx"
)

// DefaultDecider is used when --decider is not given.
const DefaultDecider = "default"

var (
	ErrUnknown    = errors.New("unknown eventhandler plugin")
	ErrNoCommand  = errors.New("runner did not return a command")
	ErrIncomplete = errors.New("a decided event must have a payload and a summary")
)

// Runner builds the command for a decided event. opts are the runner options
// after the event payload was applied on top.
type Runner interface {
	Run(ctx context.Context, ev *event.DecidedEvent, opts options.Options) (string, error)
}

// Connector is implemented by runners that hold a connection across the run.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// SummaryLogger is implemented by runners that write their own log lines.
type SummaryLogger interface {
	LogsOwnSummary() bool
}

type Decider interface {
	DecideAndPrepare(ctx context.Context, ev *event.DecidedEvent) error
}

// RunnerDeps is what a runner factory receives.
type RunnerDeps struct {
	Name    string
	Options options.Options
	Log     logx.Logger
}

// DeciderDeps is what a decider factory receives. Runner is the runner name
// without its tag.
type DeciderDeps struct {
	Runner  string
	Options options.Options
	Log     logx.Logger
}

type (
	RunnerFactory  func(RunnerDeps) (Runner, error)
	DeciderFactory func(DeciderDeps) (Decider, error)
)

var (
	runners = registry.New[RunnerFactory]("runner").
		With("command", newCommandRunner).
		With("ssh", newSSHRunner)
	deciders = registry.New[DeciderFactory]("decider").
		With("default", newDefaultDecider).
		With("hardstate", newHardStateDecider).
		With("expression", newExpressionDecider)
)

func RegisterRunner(name string, f RunnerFactory)   { runners.Register(name, f) }
func RegisterDecider(name string, f DeciderFactory) { deciders.Register(name, f) }

func RunnerNames() []string  { return runners.Names() }
func DeciderNames() []string { return deciders.Names() }

func NewRunner(name string, deps RunnerDeps) (Runner, error) {
	f, ok := runners.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of our runner collection", ErrUnknown, name)
	}
	deps = fillRunnerDeps(name, deps)
	return f(deps)
}

func NewDecider(name string, deps DeciderDeps) (Decider, error) {
	if name == "" {
		name = DefaultDecider
	}
	f, ok := deciders.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: found no decider %s", ErrUnknown, name)
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Options == nil {
		deps.Options = options.Options{}
	}
	return f(deps)
}

func fillRunnerDeps(name string, deps RunnerDeps) RunnerDeps {
	if deps.Name == "" {
		deps.Name = name
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Options == nil {
		deps.Options = options.Options{}
	}
	return deps
}

// DeciderFunc adapts a plain function to Decider.
type DeciderFunc func(ctx context.Context, ev *event.DecidedEvent) error

func (f DeciderFunc) DecideAndPrepare(ctx context.Context, ev *event.DecidedEvent) error {
	return f(ctx, ev)
}
