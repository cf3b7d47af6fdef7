package dispatch

import (
	"errors"
	"time"

	"notificationforwarder/internal/reporter"
)

var (
	ErrIncomplete = errors.New("a formatted event must have payload and summary")
	ErrNoSpool    = errors.New("spooling is disabled")
)

type Outcome string

const (
	Forwarded    Outcome = reporter.OutcomeForwarded
	Spooled      Outcome = reporter.OutcomeSpooled
	Discarded    Outcome = reporter.OutcomeDiscarded
	Deduplicated Outcome = reporter.OutcomeDeduplicated
	Failed       Outcome = reporter.OutcomeFailed
)

// Config controls one runner's delivery pipeline.
type Config struct {
	// Runner is "<forwarder>" or "<forwarder>_<tag>".
	Runner    string
	Formatter string

	SubmitTimeout time.Duration
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	MaxSpoolAge time.Duration
	FlushBatch  int
	FlushRate   float64 // events per second, 0 = unlimited
	LockTimeout time.Duration

	DedupWindow time.Duration
}

const (
	DefaultSubmitTimeout = 30 * time.Second
	DefaultMaxSpoolAge   = 5 * time.Minute
	DefaultLockTimeout   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.MaxSpoolAge <= 0 {
		c.MaxSpoolAge = DefaultMaxSpoolAge
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Result describes what happened to one forwarded event.
type Result struct {
	Outcome Outcome
	ID      string
	Summary string
	// Cause is the delivery error behind a spooled or failed outcome.
	Cause error
}

// FlushResult is the outcome of one spool flush.
type FlushResult struct {
	Dropped   int `json:"dropped"`
	Rescued   int `json:"rescued"`
	Remaining int `json:"remaining"`
}
