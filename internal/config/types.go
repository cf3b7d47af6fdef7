package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Config is the optional file read by notificationforwarder and
// eventhandler. Every section may be omitted; command line options win
// over file options.
//
// All durations are Go duration strings ("500ms", "30s", "5m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Spool   SpoolConfig   `json:"spool"`
	Submit  SubmitConfig  `json:"submit"`
	Dedup   DedupConfig   `json:"dedup"`
	Metrics MetricsConfig `json:"metrics"`
	Daemon  DaemonConfig  `json:"daemon"`

	Forwarders    []ForwarderConfig    `json:"forwarders,omitempty"`
	Eventhandlers []EventhandlerConfig `json:"eventhandlers,omitempty"`
}

// LoggingConfig overrides the per-runner log file. Dir defaults to
// $OMD_ROOT/var/log.
type LoggingConfig struct {
	Dir   string `json:"dir,omitempty"`
	Level string `json:"level,omitempty"`
}

// SpoolConfig defaults:
//   - driver: "sqlite"
//   - dir: $OMD_ROOT/var/tmp
//   - max_age: "5m"
//   - flush_batch: 0 (everything)
//   - flush_rate: 0 (unlimited, events per second)
//   - lock_timeout: "10s"
type SpoolConfig struct {
	Driver      string  `json:"driver,omitempty"`
	Dir         string  `json:"dir,omitempty"`
	MaxAge      string  `json:"max_age,omitempty"`
	FlushBatch  int     `json:"flush_batch,omitempty"`
	FlushRate   float64 `json:"flush_rate,omitempty"`
	LockTimeout string  `json:"lock_timeout,omitempty"`
	BusyTimeout string  `json:"busy_timeout,omitempty"`
}

// SubmitConfig defaults: timeout "30s", retry_max 0, retry_base "500ms",
// retry_max_delay "10s".
type SubmitConfig struct {
	Timeout       string `json:"timeout,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// DedupConfig: an empty or zero window disables deduplication.
type DedupConfig struct {
	Window string `json:"window,omitempty"`
}

type MetricsConfig struct {
	// Textfile, when set, is rewritten by the daemon after each flush round.
	Textfile string `json:"textfile,omitempty"`
}

// DaemonConfig controls `notificationforwarder daemon`.
type DaemonConfig struct {
	Listen string `json:"listen,omitempty"`
	// FlushSchedule is a cron expression, "@every 1m", a plain duration or "HH:MM".
	FlushSchedule string `json:"flush_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	// RequestsPerMinute limits the HTTP intake per client IP. 0 = 120.
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	AuthToken         string `json:"auth_token,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
	Pprof             bool   `json:"pprof,omitempty"`
}

// ForwarderConfig describes one runner. Name defaults to the runner name
// ("<forwarder>" or "<forwarder>_<tag>").
type ForwarderConfig struct {
	Name             string    `json:"name,omitempty"`
	Forwarder        string    `json:"forwarder"`
	Tag              string    `json:"tag,omitempty"`
	Formatter        string    `json:"formatter,omitempty"`
	Reporter         string    `json:"reporter,omitempty"`
	Options          StringMap `json:"options,omitempty"`
	FormatterOptions StringMap `json:"formatter_options,omitempty"`
	ReporterOptions  StringMap `json:"reporter_options,omitempty"`
}

type EventhandlerConfig struct {
	Name           string    `json:"name,omitempty"`
	Runner         string    `json:"runner"`
	Tag            string    `json:"tag,omitempty"`
	Decider        string    `json:"decider,omitempty"`
	Options        StringMap `json:"options,omitempty"`
	DeciderOptions StringMap `json:"decider_options,omitempty"`
}

// StringMap is a map of plugin options. YAML scalars (numbers, booleans)
// are accepted and kept as text.
type StringMap map[string]string

func (m *StringMap) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*m = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		s, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("option %s: %w", k, err)
		}
		out[k] = s
	}
	*m = out
	return nil
}

func scalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		err := json.Unmarshal(v, &s)
		return s, err
	case '{', '[':
		return "", fmt.Errorf("must be a scalar")
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
