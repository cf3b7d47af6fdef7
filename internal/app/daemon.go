package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"notificationforwarder/internal/config"
	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/httpapi"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/runtime/supervisor"
	"notificationforwarder/internal/scheduler"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

const (
	DefaultFlushSchedule   = "1m"
	DefaultShutdownTimeout = 10 * time.Second

	flushJob         = "spool.flush"
	flushConcurrency = 4
)

// Daemon flushes the spools of all configured forwarders on a schedule and
// serves the HTTP API. It follows config file changes.
type Daemon struct {
	env  omd.Env
	cfgm *config.Manager
	log  logx.Logger

	bus     eventbus.Bus
	metrics *metrics.Set
	runners *runnerSet
	sched   *scheduler.Service

	// Listen overrides daemon.listen when set. "off" disables the API.
	Listen string

	notify func(state string)

	textfileMu sync.Mutex
}

// NewDaemon expects cfgm to hold a loaded config.
func NewDaemon(env omd.Env, cfgm *config.Manager, log logx.Logger) *Daemon {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg := cfgm.Get()
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Daemon{
		env:     env,
		cfgm:    cfgm,
		log:     log,
		bus:     eventbus.New(cfg.Daemon.HistorySize),
		metrics: metrics.New(true),
		runners: newRunnerSet(),
		sched:   scheduler.New(cfg.Daemon.Timezone, log.With(logx.String("comp", "scheduler"))),
		notify:  sdNotify(log),
	}
}

func (d *Daemon) shared() Shared {
	return Shared{Env: d.env, Log: d.log, Bus: d.bus, Metrics: d.metrics}
}

func (d *Daemon) config() *config.Config {
	if cfg := d.cfgm.Get(); cfg != nil {
		return cfg
	}
	return &config.Config{}
}

// Run blocks until ctx is done or a supervised goroutine fails.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.config()
	if len(cfg.Forwarders) == 0 {
		d.log.Warn("no forwarders configured; waiting for a config change", logx.String("path", d.cfgm.Path()))
	}
	if err := d.runners.apply(cfg, d.shared()); err != nil {
		d.log.Warn("some runners failed to start", logx.Err(err))
	}
	defer func() {
		if err := d.runners.close(); err != nil {
			d.log.Warn("closing runners failed", logx.Err(err))
		}
	}()

	shutdown, err := config.ParseDurationOrDefault("daemon.shutdown_timeout", cfg.Daemon.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return err
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(d.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	runCtx := sup.Context()

	if err := d.scheduleFlush(cfg); err != nil {
		return err
	}
	d.sched.Start(runCtx)

	if srv := d.server(cfg, sup); srv != nil {
		sup.GoRestart("http.api", srv.Serve, time.Second, 30*time.Second)
	}
	if _, err := os.Stat(d.cfgm.Path()); err == nil {
		d.cfgm.SetValidator(d.validate)
		sup.GoRestart("config.watch", d.cfgm.Watch, time.Second, 30*time.Second)
		d.startReload(sup)
	}
	d.startWatchdog(sup)

	d.log.Info("daemon started",
		logx.String("flush_schedule", flushSchedule(cfg)),
		logx.Int("runners", len(d.runners.RunnerNames())))
	d.notify(daemon.SdNotifyReady)

	<-runCtx.Done()
	d.notify(daemon.SdNotifyStopping)
	d.log.Info("daemon stopping")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdown)
	defer cancel()
	if err := d.sched.Stop(stopCtx); err != nil {
		d.log.Warn("scheduler did not stop in time", logx.Err(err))
	}
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func flushSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Daemon.FlushSchedule); s != "" {
		return s
	}
	return DefaultFlushSchedule
}

func (d *Daemon) scheduleFlush(cfg *config.Config) error {
	return d.sched.Add(flushJob, flushSchedule(cfg), func(ctx context.Context) {
		if err := d.FlushAll(ctx); err != nil {
			d.log.Warn("flush round finished with errors", logx.Err(err))
		}
	})
}

func (d *Daemon) server(cfg *config.Config, sup *supervisor.Supervisor) *httpapi.Server {
	listen := strings.TrimSpace(d.Listen)
	if listen == "" {
		listen = strings.TrimSpace(cfg.Daemon.Listen)
	}
	switch strings.ToLower(listen) {
	case "off", "none", "-":
		return nil
	}
	hcfg := httpapi.Config{
		AuthToken:         cfg.Daemon.AuthToken,
		RequestsPerMinute: cfg.Daemon.RequestsPerMinute,
		Pprof:             cfg.Daemon.Pprof,
	}
	log := d.log.With(logx.String("comp", "http"))
	h := httpapi.NewRouter(hcfg, httpapi.Deps{
		Runners: d.runners,
		Bus:     d.bus,
		Metrics: d.metrics,
		Health:  func() (any, error) { return d.health(sup) },
		Log:     log,
	})
	return httpapi.NewServer(listen, hcfg, h, log)
}

type healthReport struct {
	Runners   []string               `json:"runners"`
	Tasks     []supervisor.TaskStats `json:"tasks"`
	NextFlush time.Time              `json:"next_flush,omitzero"`
}

func (d *Daemon) health(sup *supervisor.Supervisor) (any, error) {
	rep := healthReport{
		Runners:   d.runners.RunnerNames(),
		Tasks:     sup.Snapshot(),
		NextFlush: d.sched.Next(flushJob),
	}
	for _, t := range rep.Tasks {
		if !t.Running && t.LastError != "" {
			return rep, fmt.Errorf("%s: %s", t.Name, t.LastError)
		}
	}
	return rep, nil
}

// FlushAll flushes every runner concurrently. Runners without a spool and
// spools locked by another process are skipped.
func (d *Daemon) FlushAll(ctx context.Context) error {
	runners := d.runners.snapshot()
	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for key, r := range runners {
		g.Go(func() error {
			res, err := r.Flush(gctx)
			switch {
			case err == nil:
				if res.Dropped > 0 || res.Rescued > 0 {
					d.log.Info("spool flushed", logx.String("runner", key),
						logx.Int("dropped", res.Dropped), logx.Int("rescued", res.Rescued), logx.Int("remaining", res.Remaining))
				}
			case errors.Is(err, dispatch.ErrNoSpool), errors.Is(err, spool.ErrLocked):
			default:
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if path := strings.TrimSpace(d.config().Metrics.Textfile); path != "" {
		d.textfileMu.Lock()
		err := d.metrics.WriteTextfile(path)
		d.textfileMu.Unlock()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics textfile: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// validate rejects a reloaded config whose flush schedule or runners
// cannot be built.
func (d *Daemon) validate(ctx context.Context, cfg *config.Config) error {
	if err := scheduler.Validate(flushSchedule(cfg)); err != nil {
		return err
	}
	for _, fc := range cfg.Forwarders {
		if _, err := DispatchConfig(cfg, fc.RunnerName(), ""); err != nil {
			return fmt.Errorf("forwarder %s: %w", fc.Key(), err)
		}
	}
	return ctx.Err()
}

func (d *Daemon) startReload(sup *supervisor.Supervisor) {
	sub := d.cfgm.Subscribe(8)
	sup.Go("config.reload", func(ctx context.Context) error {
		defer d.cfgm.Unsubscribe(sub)
		lastApplied := d.config()
		for {
			select {
			case <-ctx.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				d.reload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (d *Daemon) reload(oldCfg, newCfg *config.Config) {
	d.notify(daemon.SdNotifyReloading)
	defer d.notify(daemon.SdNotifyReady)

	sections, fields, changed := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 && len(changed) == 0 {
		d.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	if len(changed) > 0 {
		fields = append(fields, logx.Any("runners", changed))
	}
	d.log.Info("applying config change", fields...)

	if err := d.runners.apply(newCfg, d.shared()); err != nil {
		d.log.Warn("some runners failed to start", logx.Err(err))
	}
	if oldCfg.Daemon.FlushSchedule != newCfg.Daemon.FlushSchedule {
		if err := d.scheduleFlush(newCfg); err != nil {
			d.log.Error("flush schedule not changed", logx.Err(err))
		}
	}
	if oldCfg.Daemon.Listen != newCfg.Daemon.Listen || oldCfg.Daemon.AuthToken != newCfg.Daemon.AuthToken ||
		oldCfg.Daemon.Timezone != newCfg.Daemon.Timezone || oldCfg.Daemon.Pprof != newCfg.Daemon.Pprof {
		d.log.Warn("daemon listen, auth, timezone and pprof changes need a restart")
	}
}

func (d *Daemon) startWatchdog(sup *supervisor.Supervisor) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		d.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				d.notify(daemon.SdNotifyWatchdog)
			}
		}
	})
}

func sdNotify(log logx.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Debug("sd_notify", logx.String("state", state))
		}
	}
}
