// Package reporter records the outcome of a forward somewhere other than the
// log: back into the monitoring core, or into a metrics textfile.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/registry"
	logx "notificationforwarder/pkg/logx"
)

const DefaultName = "log"

var ErrUnknown = errors.New("unknown reporter")

// Outcomes of a forward.
const (
	OutcomeForwarded    = "forwarded"
	OutcomeSpooled      = "spooled"
	OutcomeDiscarded    = "discarded"
	OutcomeDeduplicated = "deduplicated"
	OutcomeFailed       = "failed"
)

type Report struct {
	Runner  string
	Outcome string
	ID      string
	Summary string
	Error   string
	Spooled int
	At      time.Time
}

type Reporter interface {
	Report(ctx context.Context, r Report) error
}

type Deps struct {
	Runner  string
	Options options.Options
	Log     logx.Logger
	Env     omd.Env
	Metrics *metrics.Set
}

type Factory func(deps Deps) (Reporter, error)

var builtins = registry.New[Factory]("reporter").
	With(DefaultName, newLogReporter).
	With("naemon", newNaemon).
	With("textfile", newTextfile)

func Register(name string, f Factory) { builtins.Register(name, f) }

func Names() []string { return builtins.Names() }

func New(name string, deps Deps) (Reporter, error) {
	if name == "" {
		name = DefaultName
	}
	f, ok := builtins.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of our reporter collection", ErrUnknown, name)
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Options == nil {
		deps.Options = options.Options{}
	}
	return f(deps)
}

type logReporter struct{ log logx.Logger }

func newLogReporter(deps Deps) (Reporter, error) { return logReporter{log: deps.Log}, nil }

func (l logReporter) Report(ctx context.Context, r Report) error {
	l.log.Debug("report", logx.String("outcome", r.Outcome), logx.String("id", r.ID), logx.Int("spooled", r.Spooled))
	return nil
}
