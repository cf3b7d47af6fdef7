// Package dispatch runs one forwarder: format, deliver, spool on failure and
// flush the spool on the next opportunity.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/formatter"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/reporter"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

// Deps are the collaborators of a Dispatcher. Store, Lock, Reporter, Bus
// and Metrics are optional.
type Deps struct {
	Env       omd.Env
	Formatter formatter.Formatter
	Forwarder forwarder.Forwarder
	Store     spool.Store
	Lock      *spool.Lock
	Reporter  reporter.Reporter
	Bus       eventbus.Bus
	Metrics   *metrics.Set
	Log       logx.Logger
}

type Dispatcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	limiter *rate.Limiter
	now     func() time.Time

	// Forward and Flush of one runner never overlap inside a process; the
	// spool lock covers other processes.
	mu sync.Mutex
}

func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if cfg.Runner == "" {
		return nil, errors.New("dispatch: runner name is required")
	}
	if deps.Formatter == nil || deps.Forwarder == nil {
		return nil, errors.New("dispatch: formatter and forwarder are required")
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Store != nil && deps.Lock == nil {
		return nil, errors.New("dispatch: a spool needs a lock")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With(logx.String("runner", cfg.Runner)),
		now:  time.Now,
	}
	if cfg.FlushRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.FlushRate), 1)
	}
	return d, nil
}

func (d *Dispatcher) Runner() string { return d.cfg.Runner }

// Forward delivers one raw event. The returned error is non-nil only for
// the failed outcome; a spooled event counts as handled.
func (d *Dispatcher) Forward(ctx context.Context, raw event.Raw) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw = raw.Clone()
	event.Enrich(raw, d.deps.Env, d.now())
	ev := event.NewFormatted(raw)

	if err := d.deps.Formatter.FormatEvent(ctx, ev); err != nil {
		d.log.Error("formatter failed",
			logx.String("formatter", d.cfg.Formatter),
			logx.String("event", raw.Format()),
			logx.Err(err))
		return d.finish(ctx, ev, Failed, fmt.Errorf("format: %w", err))
	}
	if ev.IsDiscarded() {
		if !ev.IsDiscardedSilently() {
			d.log.Info("discarded: " + ev.Summary)
		}
		return d.finish(ctx, ev, Discarded, nil)
	}
	if !ev.IsComplete() {
		d.log.Error(ErrIncomplete.Error(), logx.String("event", raw.Format()))
		return d.finish(ctx, ev, Failed, ErrIncomplete)
	}

	var key string
	if d.cfg.DedupWindow > 0 && !ev.Heartbeat && d.deps.Store != nil {
		key = dedupKey(d.cfg.Runner, ev)
		if d.isDuplicate(ctx, key) {
			d.log.Info("duplicate suppressed: " + ev.Summary)
			return d.finish(ctx, ev, Deduplicated, nil)
		}
	}

	if c, ok := d.deps.Forwarder.(forwarder.Connector); ok {
		if err := c.Connect(ctx); err != nil {
			d.log.Warn("connect failed", logx.Err(err))
			if ev.Heartbeat {
				return d.finish(ctx, ev, Failed, fmt.Errorf("connect: %w", err))
			}
			return d.spoolAndFinish(ctx, ev, key, fmt.Errorf("connect: %w", err))
		}
		defer func() {
			if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
				d.log.Debug("disconnect failed", logx.Err(err))
			}
		}()
	}

	if ev.Heartbeat {
		return d.heartbeat(ctx, ev)
	}

	if d.deps.Store != nil {
		if n, err := d.deps.Store.Count(ctx); err == nil && n > 0 {
			d.log.Debug("spool not empty, flushing first", logx.Int("spooled", n))
			fr, err := d.flushLocked(ctx)
			if err != nil || fr.Remaining > 0 {
				cause := err
				if cause == nil {
					cause = fmt.Errorf("%d older events still spooled", fr.Remaining)
				}
				return d.spoolAndFinish(ctx, ev, key, cause)
			}
		}
	}

	if err := d.submit(ctx, ev); err != nil {
		d.log.Warn("forward failed: "+ev.Summary, logx.Err(err))
		return d.spoolAndFinish(ctx, ev, key, err)
	}
	if sl, ok := d.deps.Forwarder.(forwarder.SummaryLogger); !ok || !sl.LogsOwnSummary() {
		d.log.Info("forwarded " + ev.Summary)
	}
	d.rememberDedup(ctx, key)
	return d.finish(ctx, ev, Forwarded, nil)
}

func (d *Dispatcher) heartbeat(ctx context.Context, ev *event.FormattedEvent) (Result, error) {
	var err error
	if p, ok := d.deps.Forwarder.(forwarder.Prober); ok {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		err = p.Probe(pctx)
		cancel()
	} else {
		err = d.submit(ctx, ev)
	}
	if err != nil {
		d.log.Error("heartbeat failed: "+ev.Summary, logx.Err(err))
		return d.finish(ctx, ev, Failed, fmt.Errorf("heartbeat: %w", err))
	}
	d.log.Info("heartbeat ok: " + ev.Summary)

	// The channel is alive; a good moment to deliver what is waiting.
	if d.deps.Store != nil {
		if n, cerr := d.deps.Store.Count(ctx); cerr == nil && n > 0 {
			if _, ferr := d.flushLocked(ctx); ferr != nil && !errors.Is(ferr, spool.ErrLocked) {
				d.log.Warn("flush after heartbeat failed", logx.Err(ferr))
			}
		}
	}
	return d.finish(ctx, ev, Forwarded, nil)
}

// submit tries the forwarder up to 1+RetryMax times, each attempt bounded
// by SubmitTimeout.
func (d *Dispatcher) submit(ctx context.Context, ev *event.FormattedEvent) error {
	maxAttempts := 1 + max(d.cfg.RetryMax, 0)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		start := d.now()
		err := d.deps.Forwarder.Submit(callCtx, ev)
		cancel()
		d.deps.Metrics.ObserveSubmit(d.cfg.Runner, time.Since(start), err == nil)
		if err == nil {
			return nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("submit timed out after %s: %w", d.cfg.SubmitTimeout, err)
		}
		lastErr = err
		d.log.Debug("submit failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(d.cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return multierror.Append(lastErr, ctx.Err())
		}
	}
	return lastErr
}

func (d *Dispatcher) spoolAndFinish(ctx context.Context, ev *event.FormattedEvent, key string, cause error) (Result, error) {
	if d.deps.Store == nil {
		d.log.Error("could not forward and spooling is disabled: "+ev.Summary, logx.Err(cause))
		return d.finish(ctx, ev, Failed, multierror.Append(cause, ErrNoSpool))
	}
	entry, err := encodeEntry(ev)
	if err == nil {
		err = d.deps.Store.Put(context.WithoutCancel(ctx), entry)
	}
	if err != nil {
		d.log.Error("spooling failed: "+ev.Summary, logx.Err(err))
		return d.finish(ctx, ev, Failed, multierror.Append(cause, err))
	}
	n, _ := d.deps.Store.Count(context.WithoutCancel(ctx))
	d.log.Warn("spooled "+ev.Summary, logx.Int("spooled", n), logx.Err(cause))
	d.rememberDedup(ctx, key)
	return d.finish(ctx, ev, Spooled, cause)
}

func (d *Dispatcher) isDuplicate(ctx context.Context, key string) bool {
	until, ok, err := d.deps.Store.GetDedup(ctx, key)
	if err != nil {
		d.log.Debug("dedup lookup failed", logx.Err(err))
		return false
	}
	return ok && d.now().Before(until)
}

func (d *Dispatcher) rememberDedup(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := d.deps.Store.PutDedup(context.WithoutCancel(ctx), key, d.now().Add(d.cfg.DedupWindow)); err != nil {
		d.log.Debug("dedup store failed", logx.Err(err))
	}
}

// finish records the outcome everywhere it is observed.
func (d *Dispatcher) finish(ctx context.Context, ev *event.FormattedEvent, outcome Outcome, cause error) (Result, error) {
	res := Result{Outcome: outcome, ID: ev.ID, Summary: ev.Summary, Cause: cause}
	spooled := 0
	if d.deps.Store != nil {
		spooled, _ = d.deps.Store.Count(context.WithoutCancel(ctx))
		d.deps.Metrics.Depth(d.cfg.Runner, spooled)
	}
	d.deps.Metrics.Outcome(d.cfg.Runner, string(outcome))

	if d.deps.Bus != nil {
		data := eventbus.ForwardEvent{Runner: d.cfg.Runner, ID: ev.ID, Summary: ev.Summary}
		if cause != nil {
			data.Error = cause.Error()
		}
		d.deps.Bus.Publish(eventbus.Event{Type: "forward." + string(outcome), Time: d.now(), Data: data})
	}
	if d.deps.Reporter != nil {
		rep := reporter.Report{
			Runner:  d.cfg.Runner,
			Outcome: string(outcome),
			ID:      ev.ID,
			Summary: ev.Summary,
			Spooled: spooled,
			At:      d.now(),
		}
		if cause != nil {
			rep.Error = cause.Error()
		}
		if err := d.deps.Reporter.Report(context.WithoutCancel(ctx), rep); err != nil {
			d.log.Warn("reporter failed", logx.Err(err))
		}
	}

	if outcome == Failed {
		return res, cause
	}
	return res, nil
}

// Close releases the spool and the forwarder's resources.
// It waits for a running Forward or Flush.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result *multierror.Error
	if c, ok := d.deps.Forwarder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close forwarder: %w", err))
		}
	}
	if d.deps.Store != nil {
		if err := d.deps.Store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close spool: %w", err))
		}
	}
	return result.ErrorOrNil()
}
