// Package app assembles runners from the config file and the command line:
// a dispatch.Dispatcher per forwarder, an eventhandler.Handler per runner,
// and the long-running daemon that flushes all spools.
package app

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"notificationforwarder/internal/config"
	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/eventhandler"
	"notificationforwarder/internal/formatter"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/reporter"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

// Prefixes of log and spool files below $OMD_ROOT.
const (
	ForwarderPrefix    = "notificationforwarder"
	EventhandlerPrefix = "eventhandler"
)

// Shared are the process-wide collaborators handed to every runner.
type Shared struct {
	Env     omd.Env
	Log     logx.Logger
	Bus     eventbus.Bus
	Metrics *metrics.Set
}

// ForwarderSpec is one forwarder as requested on the command line. Empty
// fields are filled from the matching config section.
type ForwarderSpec struct {
	Forwarder string
	Tag       string
	Formatter string
	Reporter  string

	ForwarderOpts options.Options
	FormatterOpts options.Options
	ReporterOpts  options.Options
}

func (s ForwarderSpec) Runner() string { return omd.RunnerName(s.Forwarder, s.Tag) }

// SpecFromConfig turns a config section into a spec.
func SpecFromConfig(fc config.ForwarderConfig) ForwarderSpec {
	return ForwarderSpec{
		Forwarder:     fc.Forwarder,
		Tag:           fc.Tag,
		Formatter:     fc.Formatter,
		Reporter:      fc.Reporter,
		ForwarderOpts: options.Options{}.Merge(fc.Options),
		FormatterOpts: options.Options{}.Merge(fc.FormatterOptions),
		ReporterOpts:  options.Options{}.Merge(fc.ReporterOptions),
	}
}

// WithConfig layers s over the config section of the same runner.
// Command line options win.
func (s ForwarderSpec) WithConfig(cfg *config.Config) ForwarderSpec {
	fc, ok := cfg.FindForwarder(s.Forwarder, s.Tag)
	if !ok {
		return s
	}
	out := s
	if out.Formatter == "" {
		out.Formatter = fc.Formatter
	}
	if out.Reporter == "" {
		out.Reporter = fc.Reporter
	}
	out.ForwarderOpts = options.Options{}.Merge(fc.Options).Merge(s.ForwarderOpts)
	out.FormatterOpts = options.Options{}.Merge(fc.FormatterOptions).Merge(s.FormatterOpts)
	out.ReporterOpts = options.Options{}.Merge(fc.ReporterOptions).Merge(s.ReporterOpts)
	return out
}

// SpoolConfig maps the spool section onto the store of one runner.
func SpoolConfig(env omd.Env, cfg *config.Config, runner string) (spool.Config, error) {
	sc := cfg.Spool
	busy, err := config.ParseDurationOrDefault("spool.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return spool.Config{}, err
	}
	path := env.SpoolPath(ForwarderPrefix, runner)
	if dir := strings.TrimSpace(sc.Dir); dir != "" {
		path = filepath.Join(dir, filepath.Base(path))
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == spool.DriverFile {
		path = strings.TrimSuffix(path, ".db")
	}
	return spool.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// DispatchConfig resolves the submit, spool and dedup sections.
func DispatchConfig(cfg *config.Config, runner, formatterName string) (dispatch.Config, error) {
	timeout, base, maxDelay, err := cfg.Submit.Durations()
	if err != nil {
		return dispatch.Config{}, err
	}
	maxAge, err := config.ParseDurationOrDefault("spool.max_age", cfg.Spool.MaxAge, dispatch.DefaultMaxSpoolAge)
	if err != nil {
		return dispatch.Config{}, err
	}
	lockTimeout, err := config.ParseDurationOrDefault("spool.lock_timeout", cfg.Spool.LockTimeout, dispatch.DefaultLockTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("dedup.window", cfg.Dedup.Window, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Runner:        runner,
		Formatter:     formatterName,
		SubmitTimeout: timeout,
		RetryMax:      cfg.Submit.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		MaxSpoolAge:   maxAge,
		FlushBatch:    cfg.Spool.FlushBatch,
		FlushRate:     cfg.Spool.FlushRate,
		LockTimeout:   lockTimeout,
		DedupWindow:   window,
	}, nil
}

// BuildDispatcher creates formatter, forwarder, reporter and spool for
// spec. The caller owns the returned dispatcher and must Close it.
func BuildDispatcher(cfg *config.Config, spec ForwarderSpec, sh Shared) (*dispatch.Dispatcher, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if strings.TrimSpace(spec.Forwarder) == "" {
		return nil, errors.New("no forwarder given")
	}
	spec = spec.WithConfig(cfg)
	runner := spec.Runner()
	if sh.Log.IsZero() {
		sh.Log = logx.Nop()
	}
	log := sh.Log.With(logx.String("runner", runner))

	formatterName := formatter.Resolve(spec.Formatter, spec.Forwarder)
	dcfg, err := DispatchConfig(cfg, runner, formatterName)
	if err != nil {
		return nil, err
	}
	fmtr, err := formatter.New(formatterName, spec.FormatterOpts)
	if err != nil {
		return nil, err
	}
	rep, err := reporter.New(spec.Reporter, reporter.Deps{
		Runner:  runner,
		Options: spec.ReporterOpts,
		Log:     log.With(logx.String("comp", "reporter")),
		Env:     sh.Env,
		Metrics: sh.Metrics,
	})
	if err != nil {
		return nil, err
	}
	fwd, err := forwarder.New(spec.Forwarder, forwarder.Deps{
		Name:    runner,
		Options: spec.ForwarderOpts,
		Log:     log,
	})
	if err != nil {
		return nil, err
	}

	scfg, err := SpoolConfig(sh.Env, cfg, runner)
	if err != nil {
		closeQuietly(fwd)
		return nil, err
	}
	var lock *spool.Lock
	store, err := spool.Open(scfg, log.With(logx.String("comp", "spool")))
	switch {
	case errors.Is(err, spool.ErrDisabled):
		store = nil
	case err != nil:
		closeQuietly(fwd)
		return nil, fmt.Errorf("open spool %s: %w", scfg.Path, err)
	default:
		lock = spool.NewLock(scfg.Path)
	}

	d, err := dispatch.New(dcfg, dispatch.Deps{
		Env:       sh.Env,
		Formatter: fmtr,
		Forwarder: fwd,
		Store:     store,
		Lock:      lock,
		Reporter:  rep,
		Bus:       sh.Bus,
		Metrics:   sh.Metrics,
		Log:       sh.Log,
	})
	if err != nil {
		closeQuietly(fwd)
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return d, nil
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// HandlerSpec is one eventhandler runner as requested on the command line.
type HandlerSpec struct {
	Runner  string
	Tag     string
	Decider string

	RunnerOpts  options.Options
	DeciderOpts options.Options
}

func (s HandlerSpec) Name() string { return omd.RunnerName(s.Runner, s.Tag) }

// WithConfig layers s over the matching eventhandler section.
func (s HandlerSpec) WithConfig(cfg *config.Config) HandlerSpec {
	ec, ok := cfg.FindEventhandler(s.Runner, s.Tag)
	if !ok {
		return s
	}
	out := s
	if out.Decider == "" {
		out.Decider = ec.Decider
	}
	out.RunnerOpts = options.Options{}.Merge(ec.Options).Merge(s.RunnerOpts)
	out.DeciderOpts = options.Options{}.Merge(ec.DeciderOptions).Merge(s.DeciderOpts)
	return out
}

// BuildHandler creates runner and decider for spec.
func BuildHandler(cfg *config.Config, spec HandlerSpec, sh Shared) (*eventhandler.Handler, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if strings.TrimSpace(spec.Runner) == "" {
		return nil, errors.New("no runner given")
	}
	spec = spec.WithConfig(cfg)
	name := spec.Name()
	if sh.Log.IsZero() {
		sh.Log = logx.Nop()
	}
	log := sh.Log.With(logx.String("runner", name))

	timeout, err := config.ParseDurationOrDefault("submit.timeout", cfg.Submit.Timeout, eventhandler.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	r, err := eventhandler.NewRunner(spec.Runner, eventhandler.RunnerDeps{
		Name:    name,
		Options: spec.RunnerOpts,
		Log:     log,
	})
	if err != nil {
		return nil, err
	}
	dec, err := eventhandler.NewDecider(spec.Decider, eventhandler.DeciderDeps{
		Runner:  name,
		Options: spec.DeciderOpts,
		Log:     log.With(logx.String("comp", "decider")),
	})
	if err != nil {
		return nil, err
	}
	return eventhandler.NewHandler(eventhandler.Config{Runner: name, Timeout: timeout}, eventhandler.Deps{
		Env:     sh.Env,
		Runner:  r,
		Decider: dec,
		Options: spec.RunnerOpts,
		Metrics: sh.Metrics,
		Log:     log,
	})
}

// OpenLog opens the per-runner log file, $OMD_ROOT/var/log/<prefix>_<runner>.log
// unless logging.dir says otherwise.
func OpenLog(env omd.Env, lc config.LoggingConfig, prefix, runner string, verbose, debug bool) (*logx.Service, logx.Logger) {
	path := env.LogPath(prefix, runner)
	if dir := strings.TrimSpace(lc.Dir); dir != "" {
		path = filepath.Join(dir, filepath.Base(path))
	}
	cfg := logx.ForRun(path, verbose, debug)
	if lvl := strings.TrimSpace(lc.Level); lvl != "" && !debug {
		cfg.File.Level = lvl
	}
	svc, log := logx.New(cfg)
	return svc, log.With(logx.String("runner", runner))
}
