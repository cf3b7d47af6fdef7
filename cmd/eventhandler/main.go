package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notificationforwarder/internal/app"
	"notificationforwarder/internal/config"
	"notificationforwarder/internal/event"
	"notificationforwarder/internal/eventhandler"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/version"
)

const (
	exitOK     = 0
	exitUsage  = 1
	exitFailed = 2
)

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

type cliFlags struct {
	configPath string
	verbose    bool
	debug      bool

	runner    string
	runnerTag string
	decider   string

	runnerOpts  []string
	deciderOpts []string
	eventOpts   []string
}

func (f *cliFlags) spec() (app.HandlerSpec, error) {
	if f.runner == "" {
		return app.HandlerSpec{}, usageErr(errors.New("--runner is required"))
	}
	spec := app.HandlerSpec{Runner: f.runner, Tag: f.runnerTag, Decider: f.decider}
	var err error
	if spec.RunnerOpts, err = options.ParsePairs(f.runnerOpts); err != nil {
		return spec, usageErr(fmt.Errorf("--runneropt: %w", err))
	}
	if spec.DeciderOpts, err = options.ParsePairs(f.deciderOpts); err != nil {
		return spec, usageErr(fmt.Errorf("--decideropt: %w", err))
	}
	return spec, nil
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "eventhandler",
		Short: "Run a command in reaction to a monitoring event",
		Long: `eventhandler asks a decider whether an event needs a reaction and runs
the command the selected runner builds for it.

Example:
  eventhandler --runner ssh --runneropt host=web01 \
    --runneropt 'command=sudo systemctl restart {{ .Event.SERVICEDESC }}' \
    --decider hardstate --eventopt HOSTNAME=web01 --eventopt SERVICEDESC=nginx \
    --eventopt SERVICESTATE=CRITICAL --eventopt SERVICESTATETYPE=HARD`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandle(cmd.Context(), f)
		},
	}
	fl := root.Flags()
	fl.StringVar(&f.configPath, "config", "", "config file (default $OMD_ROOT/etc/notificationforwarder/notificationforwarder.yaml)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log to stderr at info level")
	fl.BoolVar(&f.debug, "debug", false, "log at debug level")
	fl.StringVar(&f.runner, "runner", "", "runner name (command, ssh)")
	fl.StringVar(&f.runnerTag, "runner-tag", "", "tag to run several instances of one runner")
	fl.StringVar(&f.decider, "decider", "", "decider name (default, hardstate, expression)")
	fl.StringArrayVar(&f.runnerOpts, "runneropt", nil, "runner option KEY=VALUE (repeatable)")
	fl.StringArrayVar(&f.deciderOpts, "decideropt", nil, "decider option KEY=VALUE (repeatable)")
	fl.StringArrayVar(&f.eventOpts, "eventopt", nil, "event attribute KEY=VALUE (repeatable)")
	return root
}

func runHandle(ctx context.Context, f *cliFlags) error {
	spec, err := f.spec()
	if err != nil {
		return err
	}
	eventOpts, err := options.ParsePairs(f.eventOpts)
	if err != nil {
		return usageErr(fmt.Errorf("--eventopt: %w", err))
	}

	env := omd.FromEnvironment()
	path, optional := f.configPath, false
	if path == "" {
		path, optional = config.DefaultPath(env), true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return usageErr(fmt.Errorf("config: %w", err))
	}

	logs, log := app.OpenLog(env, cfg.Logging, app.EventhandlerPrefix, spec.Name(), f.verbose, f.debug)
	defer logs.Close()

	h, err := app.BuildHandler(cfg, spec, app.Shared{Env: env, Log: log})
	if err != nil {
		log.Error(err.Error())
		return usageErr(err)
	}
	res, err := h.Handle(ctx, event.NewRaw(eventOpts))
	if err != nil {
		return failedErr(err)
	}
	if res.Outcome == eventhandler.Failed {
		return failedErr(fmt.Errorf("%s: %s failed", h.Runner(), res.Summary))
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "eventhandler:", err)
	}
	os.Exit(exitCode(err))
}
