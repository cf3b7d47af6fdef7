package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/scheduler"
)

// FileName is the config file looked up in $OMD_ROOT/etc/notificationforwarder.
const FileName = "notificationforwarder.yaml"

// DefaultPath is where the config lives when --config is not given.
func DefaultPath(env omd.Env) string {
	return filepath.Join(env.ConfigDir("notificationforwarder"), FileName)
}

// Decode parses YAML or JSON strictly: unknown fields and trailing data
// are errors.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if len(jb) == 0 {
		return &cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Load reads and validates path. A missing file is an empty config when
// optional is set (the default location), an error otherwise.
func Load(path string, optional bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}
	cfg, err := Decode(path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks durations, schedules and runner names.
func (c *Config) Validate() error {
	checks := []struct{ path, raw string }{
		{"spool.max_age", c.Spool.MaxAge},
		{"spool.lock_timeout", c.Spool.LockTimeout},
		{"spool.busy_timeout", c.Spool.BusyTimeout},
		{"submit.timeout", c.Submit.Timeout},
		{"submit.retry_base", c.Submit.RetryBase},
		{"submit.retry_max_delay", c.Submit.RetryMaxDelay},
		{"dedup.window", c.Dedup.Window},
		{"daemon.shutdown_timeout", c.Daemon.ShutdownTimeout},
	}
	for _, ch := range checks {
		if _, err := ParseDurationField(ch.path, ch.raw); err != nil {
			return err
		}
	}
	if sched := strings.TrimSpace(c.Daemon.FlushSchedule); sched != "" {
		if err := scheduler.Validate(sched); err != nil {
			return fmt.Errorf("daemon.flush_schedule: %w", err)
		}
	}
	if tz := strings.TrimSpace(c.Daemon.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("daemon.timezone: invalid %q: %w", tz, err)
		}
	}
	if c.Daemon.HistorySize < 0 || c.Daemon.RequestsPerMinute < 0 {
		return fmt.Errorf("daemon.history_size and daemon.requests_per_minute must be >= 0")
	}
	if c.Submit.RetryMax < 0 {
		return fmt.Errorf("submit.retry_max must be >= 0")
	}
	if c.Spool.FlushRate < 0 {
		return fmt.Errorf("spool.flush_rate must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Spool.Driver)) {
	case "", "sqlite", "sqlite3", "file", "none":
	default:
		return fmt.Errorf("spool.driver: unknown driver %q", c.Spool.Driver)
	}

	seen := map[string]bool{}
	for i, f := range c.Forwarders {
		if strings.TrimSpace(f.Forwarder) == "" {
			return fmt.Errorf("forwarders[%d]: forwarder is required", i)
		}
		name := f.Key()
		if seen[name] {
			return fmt.Errorf("forwarders[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	seen = map[string]bool{}
	for i, e := range c.Eventhandlers {
		if strings.TrimSpace(e.Runner) == "" {
			return fmt.Errorf("eventhandlers[%d]: runner is required", i)
		}
		name := e.Key()
		if seen[name] {
			return fmt.Errorf("eventhandlers[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

// RunnerName is "<forwarder>" or "<forwarder>_<tag>".
func (f ForwarderConfig) RunnerName() string { return omd.RunnerName(f.Forwarder, f.Tag) }

// Key is the name the daemon and the CLI address the runner by.
func (f ForwarderConfig) Key() string {
	if n := strings.TrimSpace(f.Name); n != "" {
		return n
	}
	return f.RunnerName()
}

func (e EventhandlerConfig) RunnerName() string { return omd.RunnerName(e.Runner, e.Tag) }

func (e EventhandlerConfig) Key() string {
	if n := strings.TrimSpace(e.Name); n != "" {
		return n
	}
	return e.RunnerName()
}

// FindForwarder returns the section addressed by name: an explicit name,
// a runner name, or a forwarder+tag pair.
func (c *Config) FindForwarder(forwarder, tag string) (ForwarderConfig, bool) {
	if c == nil {
		return ForwarderConfig{}, false
	}
	runner := omd.RunnerName(forwarder, tag)
	for _, f := range c.Forwarders {
		if f.Key() == runner || (f.Forwarder == forwarder && f.Tag == tag) {
			return f, true
		}
	}
	return ForwarderConfig{}, false
}

func (c *Config) FindEventhandler(runner, tag string) (EventhandlerConfig, bool) {
	if c == nil {
		return EventhandlerConfig{}, false
	}
	name := omd.RunnerName(runner, tag)
	for _, e := range c.Eventhandlers {
		if e.Key() == name || (e.Runner == runner && e.Tag == tag) {
			return e, true
		}
	}
	return EventhandlerConfig{}, false
}

// Durations resolves the submit section with defaults.
func (s SubmitConfig) Durations() (timeout, base, maxDelay time.Duration, err error) {
	if timeout, err = ParseDurationOrDefault("submit.timeout", s.Timeout, 30*time.Second); err != nil {
		return
	}
	if base, err = ParseDurationOrDefault("submit.retry_base", s.RetryBase, 500*time.Millisecond); err != nil {
		return
	}
	maxDelay, err = ParseDurationOrDefault("submit.retry_max_delay", s.RetryMaxDelay, 10*time.Second)
	return
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
