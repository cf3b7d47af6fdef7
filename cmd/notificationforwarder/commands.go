package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"notificationforwarder/internal/app"
	"notificationforwarder/internal/config"
	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/spool"
	"notificationforwarder/internal/version"
	logx "notificationforwarder/pkg/logx"
)

func newFlushCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Resubmit the spooled events of one forwarder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := f.runner()
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := d.Flush(cmd.Context())
			switch {
			case errors.Is(err, spool.ErrLocked):
				fmt.Fprintf(cmd.OutOrStdout(), "%s: spool is being flushed by another process\n", d.Runner())
				return nil
			case errors.Is(err, dispatch.ErrNoSpool):
				return usageErr(fmt.Errorf("%s: %w", d.Runner(), err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: dropped=%d rescued=%d remaining=%d\n", d.Runner(), res.Dropped, res.Rescued, res.Remaining)
			switch {
			case err != nil:
				return failedErr(err)
			case res.Remaining > 0:
				return failedErr(fmt.Errorf("%s: %d event(s) still spooled", d.Runner(), res.Remaining))
			}
			return nil
		},
	}
}

func newSpoolCmd(f *cliFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Show the spooled events of one forwarder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := f.runner()
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := d.Pending(cmd.Context(), limit)
			if err != nil {
				return usageErr(fmt.Errorf("%s: %w", d.Runner(), err))
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Runner  string        `json:"runner"`
					Entries []spool.Entry `json:"entries"`
				}{d.Runner(), entries})
			}
			fmt.Fprintf(out, "%s: %d spooled event(s)\n", d.Runner(), len(entries))
			if len(entries) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tAGE\tATTEMPTS\tSUMMARY\tLAST ERROR")
			now := time.Now()
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime),
					now.Sub(e.CreatedAt).Truncate(time.Second),
					e.Attempts, e.Summary, e.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many entries (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDaemonCmd(f *cliFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Flush all configured spools on a schedule and serve the HTTP API",
		Long: `daemon runs every forwarder section of the config file. It flushes their
spools on daemon.flush_schedule, serves /healthz, /metrics and /v1 on
daemon.listen and reloads the config file when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := omd.FromEnvironment()
			path := f.configPath
			if path == "" {
				path = config.DefaultPath(env)
			}
			cfg, err := config.Load(path, false)
			if err != nil {
				return usageErr(fmt.Errorf("config: %w", err))
			}
			logs, log := app.OpenLog(env, cfg.Logging, app.ForwarderPrefix, "daemon", f.verbose, f.debug)
			defer logs.Close()
			m := config.NewManager(path, log.With(logx.String("comp", "config")))
			m.Commit(cfg)

			d := app.NewDaemon(env, m, log)
			d.Listen = listen
			if err := d.Run(cmd.Context()); err != nil {
				log.Error("daemon failed", logx.Err(err))
				return failedErr(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", `HTTP listen address, "off" to disable (default daemon.listen or 127.0.0.1:9118)`)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "notificationforwarder", version.Version)
		},
	}
}
