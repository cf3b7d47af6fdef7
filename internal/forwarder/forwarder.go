// Package forwarder defines how a formatted event leaves the monitoring
// site: webhook, chat, message broker, database, command.
//
// Every forwarder implements Submit. Forwarders holding a connection also
// implement Connector; forwarders with a cheap liveness check implement
// Prober, which is used for heartbeat events.
package forwarder

import (
	"context"
	"errors"
	"fmt"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/registry"
	logx "notificationforwarder/pkg/logx"
)

var ErrUnknown = errors.New("unknown forwarder")

type Forwarder interface {
	Submit(ctx context.Context, ev *event.FormattedEvent) error
}

type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

type Prober interface {
	Probe(ctx context.Context) error
}

// SummaryLogger is implemented by forwarders that write their own result
// lines; the dispatcher then skips its "forwarded" summary.
type SummaryLogger interface {
	LogsOwnSummary() bool
}

// Deps is what a factory gets to build a forwarder.
type Deps struct {
	Name    string
	Options options.Options
	Log     logx.Logger
}

type Factory func(deps Deps) (Forwarder, error)

var builtins = registry.New[Factory]("forwarder")

func Register(name string, f Factory) { builtins.Register(name, f) }

func Names() []string { return builtins.Names() }

func New(name string, deps Deps) (Forwarder, error) {
	f, ok := builtins.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of our forwarder collection", ErrUnknown, name)
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Options == nil {
		deps.Options = options.Options{}
	}
	if deps.Name == "" {
		deps.Name = name
	}
	return f(deps)
}

// EffectiveOptions overlays the per-event overrides onto the configured options.
func EffectiveOptions(base options.Options, ev *event.FormattedEvent) options.Options {
	if ev == nil || len(ev.ForwarderOpts) == 0 {
		return base
	}
	return base.Merge(ev.ForwarderOpts)
}
