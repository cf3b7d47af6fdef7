package event

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the part formatted (forwarder) and decided (eventhandler)
// events have in common: the original options, what to send, a one-line
// summary for the log, and whether the event should be dropped.
type Envelope struct {
	opts Raw

	Payload   any
	Summary   string
	Heartbeat bool

	discarded         bool
	discardedSilently bool
}

func newEnvelope(opts Raw) Envelope {
	if opts == nil {
		opts = Raw{}
	}
	return Envelope{
		opts:              opts,
		Summary:           opts.Format(),
		discardedSilently: true,
	}
}

// EventOpts returns the (enriched) raw event.
func (e *Envelope) EventOpts() Raw { return e.opts }

// Discard marks the event as not to be delivered. Silent discards are not
// logged.
func (e *Envelope) Discard(silently bool) {
	e.discarded = true
	e.discardedSilently = silently
}

func (e *Envelope) IsDiscarded() bool         { return e.discarded }
func (e *Envelope) IsDiscardedSilently() bool { return e.discardedSilently }

// IsComplete reports whether there is something to deliver and something to log.
func (e *Envelope) IsComplete() bool {
	return e.Payload != nil && e.Summary != ""
}

// FormattedEvent is what a formatter hands to a forwarder.
type FormattedEvent struct {
	Envelope

	ID        string
	CreatedAt time.Time

	// ForwarderOpts overrides forwarder options for this event only.
	ForwarderOpts map[string]string
}

func NewFormatted(opts Raw) *FormattedEvent {
	return &FormattedEvent{
		Envelope:      newEnvelope(opts),
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		ForwarderOpts: map[string]string{},
	}
}

// Option returns a per-event forwarder option override.
func (f *FormattedEvent) Option(key string) (string, bool) {
	if f == nil || f.ForwarderOpts == nil {
		return "", false
	}
	v, ok := f.ForwarderOpts[key]
	return v, ok
}

// DecidedEvent is what a decider hands to an eventhandler runner.
type DecidedEvent struct {
	Envelope

	RunnerOpts map[string]string
}

func NewDecided(opts Raw) *DecidedEvent {
	return &DecidedEvent{
		Envelope:   newEnvelope(opts),
		RunnerOpts: map[string]string{},
	}
}
