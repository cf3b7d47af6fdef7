package config

import (
	"reflect"
	"sort"

	logx "notificationforwarder/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, safe log fields
// (never option values, which may hold secrets) and the keys of forwarders
// that were added, removed or modified.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var fields []logx.Field
	sections := []struct {
		name     string
		old, new any
	}{
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"spool", oldCfg.Spool, newCfg.Spool},
		{"submit", oldCfg.Submit, newCfg.Submit},
		{"dedup", oldCfg.Dedup, newCfg.Dedup},
		{"metrics", oldCfg.Metrics, newCfg.Metrics},
		{"daemon", oldCfg.Daemon, newCfg.Daemon},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	if oldCfg.Daemon.FlushSchedule != newCfg.Daemon.FlushSchedule {
		fields = append(fields, logx.String("daemon.flush_schedule", newCfg.Daemon.FlushSchedule))
	}
	if oldCfg.Daemon.Listen != newCfg.Daemon.Listen {
		fields = append(fields, logx.String("daemon.listen", newCfg.Daemon.Listen))
	}

	before := map[string]ForwarderConfig{}
	for _, f := range oldCfg.Forwarders {
		before[f.Key()] = f
	}
	after := map[string]ForwarderConfig{}
	for _, f := range newCfg.Forwarders {
		after[f.Key()] = f
	}
	var runners []string
	for k, f := range after {
		if o, ok := before[k]; !ok || !reflect.DeepEqual(o, f) {
			runners = append(runners, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			runners = append(runners, k)
		}
	}
	sort.Strings(runners)
	if len(runners) > 0 {
		changed = append(changed, "forwarders")
		fields = append(fields, logx.Int("forwarders.changed", len(runners)), logx.Int("forwarders.total", len(after)))
	}
	if !reflect.DeepEqual(oldCfg.Eventhandlers, newCfg.Eventhandlers) {
		changed = append(changed, "eventhandlers")
	}
	return changed, fields, runners
}
