package app

import (
	"reflect"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"notificationforwarder/internal/config"
	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/httpapi"
	logx "notificationforwarder/pkg/logx"
)

// runnerSet holds the daemon's dispatchers by config key.
type runnerSet struct {
	mu      sync.RWMutex
	byKey   map[string]*dispatch.Dispatcher
	configs map[string]config.ForwarderConfig
	shared  sharedSections
}

// sharedSections are the config sections every dispatcher is built from.
type sharedSections struct {
	Spool  config.SpoolConfig
	Submit config.SubmitConfig
	Dedup  config.DedupConfig
}

func sectionsOf(cfg *config.Config) sharedSections {
	return sharedSections{Spool: cfg.Spool, Submit: cfg.Submit, Dedup: cfg.Dedup}
}

func newRunnerSet() *runnerSet {
	return &runnerSet{byKey: map[string]*dispatch.Dispatcher{}, configs: map[string]config.ForwarderConfig{}}
}

func (s *runnerSet) Runner(name string) (httpapi.Runner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byKey[name]
	if !ok {
		return nil, false
	}
	return d, true
}

func (s *runnerSet) RunnerNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *runnerSet) snapshot() map[string]*dispatch.Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*dispatch.Dispatcher, len(s.byKey))
	for k, d := range s.byKey {
		out[k] = d
	}
	return out
}

// apply rebuilds the runners whose section changed and closes the ones
// that are gone. A runner that fails to build is left out and reported.
func (s *runnerSet) apply(cfg *config.Config, sh Shared) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sections := sectionsOf(cfg)
	sharedChanged := !reflect.DeepEqual(sections, s.shared)
	wanted := make(map[string]config.ForwarderConfig, len(cfg.Forwarders))
	for _, fc := range cfg.Forwarders {
		wanted[fc.Key()] = fc
	}

	var result *multierror.Error
	for key, d := range s.byKey {
		fc, keep := wanted[key]
		if keep && !sharedChanged && reflect.DeepEqual(fc, s.configs[key]) {
			continue
		}
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(s.byKey, key)
		delete(s.configs, key)
		if !keep {
			sh.Log.Info("runner removed", logx.String("runner", key))
		}
	}
	for key, fc := range wanted {
		if _, ok := s.byKey[key]; ok {
			continue
		}
		d, err := BuildDispatcher(cfg, SpecFromConfig(fc), sh)
		if err != nil {
			sh.Log.Error("runner not started", logx.String("runner", key), logx.Err(err))
			result = multierror.Append(result, err)
			continue
		}
		s.byKey[key] = d
		s.configs[key] = fc
		sh.Log.Info("runner ready", logx.String("runner", key), logx.String("forwarder", fc.Forwarder))
	}
	s.shared = sections
	return result.ErrorOrNil()
}

func (s *runnerSet) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for key, d := range s.byKey {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(s.byKey, key)
		delete(s.configs, key)
	}
	return result.ErrorOrNil()
}
