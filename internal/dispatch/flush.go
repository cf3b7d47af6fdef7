package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

// Flush resubmits spooled events, oldest first, without a new event. It
// returns spool.ErrLocked if another process is flushing.
func (d *Dispatcher) Flush(ctx context.Context) (FlushResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deps.Store == nil {
		return FlushResult{}, ErrNoSpool
	}
	n, err := d.deps.Store.Count(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	if n == 0 {
		return FlushResult{}, nil
	}

	if c, ok := d.deps.Forwarder.(forwarder.Connector); ok {
		if err := c.Connect(ctx); err != nil {
			d.log.Warn("connect failed, spool stays", logx.Err(err), logx.Int("spooled", n))
			return FlushResult{Remaining: n}, err
		}
		defer func() {
			if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
				d.log.Debug("disconnect failed", logx.Err(err))
			}
		}()
	}
	return d.flushLocked(ctx)
}

// Pending lists spooled events, oldest first.
func (d *Dispatcher) Pending(ctx context.Context, limit int) ([]spool.Entry, error) {
	if d.deps.Store == nil {
		return nil, ErrNoSpool
	}
	return d.deps.Store.Oldest(ctx, limit)
}

// flushLocked expects d.mu held and the forwarder connected.
func (d *Dispatcher) flushLocked(ctx context.Context) (res FlushResult, err error) {
	st := d.deps.Store
	if err := d.deps.Lock.TryLock(ctx, d.cfg.LockTimeout); err != nil {
		res.Remaining, _ = st.Count(ctx)
		if errors.Is(err, spool.ErrLocked) {
			d.log.Info("spool is being flushed by another process", logx.Int("spooled", res.Remaining))
		}
		return res, err
	}
	defer func() {
		if uerr := d.deps.Lock.Unlock(); uerr != nil {
			d.log.Warn("spool unlock failed", logx.Err(uerr))
		}
		res.Remaining, _ = st.Count(context.WithoutCancel(ctx))
		d.deps.Metrics.Flushed(d.cfg.Runner, res.Dropped, res.Rescued, res.Remaining)
		if d.deps.Bus != nil && (res.Dropped > 0 || res.Rescued > 0) {
			d.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeFlushed, Time: d.now(), Data: eventbus.FlushEvent{
				Runner: d.cfg.Runner, Dropped: res.Dropped, Rescued: res.Rescued, Remaining: res.Remaining,
			}})
		}
	}()

	dropped, err := st.DropOlderThan(ctx, d.now().Add(-d.cfg.MaxSpoolAge))
	if err != nil {
		return res, err
	}
	if dropped > 0 {
		res.Dropped = dropped
		d.log.Info("dropped outdated spooled events", logx.Int("dropped", dropped), logx.Duration("max_age", d.cfg.MaxSpoolAge))
	}

	entries, err := st.Oldest(ctx, d.cfg.FlushBatch)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		ev, derr := decodeEntry(e)
		if derr != nil {
			d.log.Error("dropping unreadable spooled event", logx.String("id", e.ID), logx.Err(derr))
			if err := st.Delete(ctx, e.ID); err != nil && !errors.Is(err, spool.ErrNotFound) {
				return res, err
			}
			res.Dropped++
			continue
		}
		if serr := d.submit(ctx, ev); serr != nil {
			d.log.Warn("flush stopped: "+ev.Summary, logx.Err(serr), logx.Int("attempts", e.Attempts+1))
			if err := st.MarkAttempt(context.WithoutCancel(ctx), e.ID, serr); err != nil {
				d.log.Debug("mark attempt failed", logx.Err(err))
			}
			return res, nil
		}
		if err := st.Delete(context.WithoutCancel(ctx), e.ID); err != nil && !errors.Is(err, spool.ErrNotFound) {
			return res, err
		}
		res.Rescued++
		d.log.Info("rescued " + ev.Summary)
	}
	if res.Rescued > 0 {
		d.log.Info("spool flushed", logx.Int("rescued", res.Rescued))
	}
	return res, nil
}

// retryDelay is the pause before attempt+1: base*2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}
