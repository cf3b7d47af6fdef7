// Package options holds the string options passed to plugins via
// --forwarderopt/--runneropt KEY=VALUE or the config file.
package options

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrMissing = errors.New("missing required option")

type Options map[string]string

// ParsePairs turns ["k=v", "k2=v2"] into Options. A pair without "=" is an error.
func ParsePairs(pairs []string) (Options, error) {
	out := Options{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q (want KEY=VALUE)", p)
		}
		out[k] = v
	}
	return out, nil
}

// Merge returns a copy of o with overrides applied on top.
func (o Options) Merge(overrides map[string]string) Options {
	out := make(Options, len(o)+len(overrides))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Overlay applies only the keys of src that o already has. This is how an
// event payload may override runner options without inventing new ones.
func (o Options) Overlay(src map[string]any) Options {
	out := o.Merge(nil)
	for k, v := range src {
		if _, ok := o[k]; ok && v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("option %s: invalid integer %q", key, v)
	}
	return n, nil
}

func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("option %s: invalid boolean %q", key, v)
	}
}

// Duration accepts Go durations ("10s") and plain seconds ("10").
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: invalid duration %q", key, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("option %s: duration must be >= 0", key)
	}
	return d, nil
}

// Require returns the value of key or ErrMissing.
func (o Options) Require(key string) (string, error) {
	v := strings.TrimSpace(o[key])
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissing, key)
	}
	return v, nil
}

// List splits a comma separated option.
func (o Options) List(key string) []string {
	var out []string
	for _, p := range strings.Split(o[key], ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pairs splits "k:v;k2:v2" (used for HTTP headers).
func (o Options) Pairs(key string) map[string]string {
	out := map[string]string{}
	for _, p := range strings.Split(o[key], ";") {
		k, v, ok := strings.Cut(p, ":")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// Redacted renders the options for logs with secrets masked.
func (o Options) Redacted() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := o[k]
		if isSecret(k) && v != "" {
			v = "***"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func isSecret(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"password", "token", "secret", "dsn", "apikey", "api_key"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
