// Package formatter turns raw monitoring events into formatted events.
//
// A formatter decides what a forwarder will deliver (payload), what the log
// line says about it (summary), and whether the event is delivered at all
// (discard) or only checks liveness (heartbeat).
package formatter

import (
	"context"
	"errors"
	"fmt"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/registry"
)

// DefaultName is used when neither --formatter nor a formatter named like the
// forwarder exists.
const DefaultName = "monitoring"

var ErrUnknown = errors.New("unknown formatter")

type Formatter interface {
	FormatEvent(ctx context.Context, ev *event.FormattedEvent) error
}

type Factory func(opts options.Options) (Formatter, error)

// Func adapts a plain function to Formatter.
type Func func(ctx context.Context, ev *event.FormattedEvent) error

func (f Func) FormatEvent(ctx context.Context, ev *event.FormattedEvent) error { return f(ctx, ev) }

var builtins = registry.New[Factory]("formatter").
	With("monitoring", newMonitoring).
	With("template", newTemplate).
	With("telegram", newTelegram)

func Register(name string, f Factory) { builtins.Register(name, f) }

func Names() []string { return builtins.Names() }

// New instantiates a registered formatter.
func New(name string, opts options.Options) (Formatter, error) {
	f, ok := builtins.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of our formatter collection", ErrUnknown, name)
	}
	return f(opts)
}

// Resolve picks the formatter name for a forwarder: the explicit choice, a
// formatter sharing the forwarder's name, or DefaultName.
func Resolve(explicit, forwarder string) string {
	if explicit != "" {
		return explicit
	}
	if builtins.Has(forwarder) {
		return forwarder
	}
	return DefaultName
}
