package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notificationforwarder/forwarders/command"
	"notificationforwarder/forwarders/file"
	"notificationforwarder/forwarders/postgres"
	"notificationforwarder/forwarders/redis"
	"notificationforwarder/forwarders/telegram"
	"notificationforwarder/forwarders/webhook"
	"notificationforwarder/internal/app"
	"notificationforwarder/internal/config"
	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
)

// Exit codes.
const (
	exitOK     = 0
	exitUsage  = 1
	exitFailed = 2
)

// exitError carries the process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error  { return &exitError{code: exitUsage, err: err} }
func failedErr(err error) error { return &exitError{code: exitFailed, err: err} }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

// cliFlags are shared by all subcommands.
type cliFlags struct {
	configPath string
	verbose    bool
	debug      bool

	forwarder    string
	forwarderTag string
	formatter    string
	reporter     string

	forwarderOpts []string
	formatterOpts []string
	reporterOpts  []string
	eventOpts     []string
}

func (f *cliFlags) spec() (app.ForwarderSpec, error) {
	if f.forwarder == "" {
		return app.ForwarderSpec{}, usageErr(errors.New("--forwarder is required"))
	}
	spec := app.ForwarderSpec{
		Forwarder: f.forwarder,
		Tag:       f.forwarderTag,
		Formatter: f.formatter,
		Reporter:  f.reporter,
	}
	var err error
	if spec.ForwarderOpts, err = options.ParsePairs(f.forwarderOpts); err != nil {
		return spec, usageErr(fmt.Errorf("--forwarderopt: %w", err))
	}
	if spec.FormatterOpts, err = options.ParsePairs(f.formatterOpts); err != nil {
		return spec, usageErr(fmt.Errorf("--formatteropt: %w", err))
	}
	if spec.ReporterOpts, err = options.ParsePairs(f.reporterOpts); err != nil {
		return spec, usageErr(fmt.Errorf("--reporteropt: %w", err))
	}
	return spec, nil
}

// loadConfig reads --config, or the default file when it exists.
func (f *cliFlags) loadConfig(env omd.Env) (*config.Config, string, error) {
	path, optional := f.configPath, false
	if path == "" {
		path, optional = config.DefaultPath(env), true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, path, usageErr(fmt.Errorf("config: %w", err))
	}
	return cfg, path, nil
}

// runner builds the dispatcher the flags describe. close releases the
// dispatcher and the log file.
func (f *cliFlags) runner() (d *dispatch.Dispatcher, closeFn func(), err error) {
	spec, err := f.spec()
	if err != nil {
		return nil, nil, err
	}
	env := omd.FromEnvironment()
	cfg, _, err := f.loadConfig(env)
	if err != nil {
		return nil, nil, err
	}
	logs, log := app.OpenLog(env, cfg.Logging, app.ForwarderPrefix, spec.Runner(), f.verbose, f.debug)
	d, err = app.BuildDispatcher(cfg, spec, app.Shared{Env: env, Log: log, Metrics: metrics.New(false)})
	if err != nil {
		log.Error(err.Error())
		_ = logs.Close()
		return nil, nil, usageErr(err)
	}
	return d, func() {
		_ = d.Close()
		_ = logs.Close()
	}, nil
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "notificationforwarder",
		Short: "Forward monitoring notifications to external channels",
		Long: `notificationforwarder formats one monitoring notification and delivers it
with the selected forwarder. Events that cannot be delivered are spooled
and retried on the next run.

Example:
  notificationforwarder --forwarder webhook --forwarderopt url=https://hooks.example/x \
    --eventopt HOSTNAME=web01 --eventopt HOSTSTATE=DOWN --eventopt NOTIFICATIONTYPE=PROBLEM`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForward(cmd.Context(), f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default $OMD_ROOT/etc/notificationforwarder/notificationforwarder.yaml)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log to stderr at info level")
	pf.BoolVar(&f.debug, "debug", false, "log at debug level")
	pf.StringVar(&f.forwarder, "forwarder", "", "forwarder name (webhook, telegram, redis, postgres, command, file)")
	pf.StringVar(&f.forwarderTag, "forwarder-tag", "", "tag to run several instances of one forwarder")
	pf.StringVar(&f.formatter, "formatter", "", "formatter name (default: the forwarder's own or monitoring)")
	pf.StringVar(&f.reporter, "reporter", "", "reporter name (log, naemon, textfile)")
	pf.StringArrayVar(&f.forwarderOpts, "forwarderopt", nil, "forwarder option KEY=VALUE (repeatable)")
	pf.StringArrayVar(&f.formatterOpts, "formatteropt", nil, "formatter option KEY=VALUE (repeatable)")
	pf.StringArrayVar(&f.reporterOpts, "reporteropt", nil, "reporter option KEY=VALUE (repeatable)")
	root.Flags().StringArrayVar(&f.eventOpts, "eventopt", nil, "event attribute KEY=VALUE (repeatable)")

	root.AddCommand(newFlushCmd(f), newSpoolCmd(f), newDaemonCmd(f), newVersionCmd())
	return root
}

func runForward(ctx context.Context, f *cliFlags) error {
	eventOpts, err := options.ParsePairs(f.eventOpts)
	if err != nil {
		return usageErr(fmt.Errorf("--eventopt: %w", err))
	}
	if len(eventOpts) == 0 {
		return usageErr(errors.New("no --eventopt given"))
	}
	d, closeFn, err := f.runner()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := d.Forward(ctx, event.NewRaw(eventOpts))
	if err != nil {
		return failedErr(err)
	}
	if res.Outcome == dispatch.Failed {
		return failedErr(fmt.Errorf("%s: forwarding failed", d.Runner()))
	}
	return nil
}

// registerForwarders makes the built-in forwarders selectable by name.
// A new forwarder only needs its New registered here.
func registerForwarders() {
	forwarder.Register(command.Name, command.New)
	forwarder.Register(file.Name, file.New)
	forwarder.Register(postgres.Name, postgres.New)
	forwarder.Register(redis.Name, redis.New)
	forwarder.Register(telegram.Name, telegram.New)
	forwarder.Register(webhook.Name, webhook.New)
}

func main() {
	registerForwarders()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "notificationforwarder:", err)
	}
	os.Exit(exitCode(err))
}
