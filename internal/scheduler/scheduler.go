package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notificationforwarder/pkg/logx"
)

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Service triggers named jobs on cron or interval schedules.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	parser  cron.Parser
	loc     *time.Location
	c       *cron.Cron
	entries map[string]entry

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	id     cron.EntryID
	spec   ParsedSpec
	spread time.Duration
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a stopped scheduler. An empty or unknown timezone means local time.
func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		parser:  parser,
		loc:     loadLocation(timezone, log),
		entries: map[string]entry{},
	}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)
	return s
}

// Validate reports whether spec is a usable schedule.
func Validate(spec string) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

// Add registers job under name, replacing an existing job with that name.
func (s *Service) Add(name, spec string, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("schedule name required")
	}
	if job == nil {
		return fmt.Errorf("schedule %s: job required", name)
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sched cron.Schedule
	var spread time.Duration
	switch ps.Kind {
	case SpecInterval:
		sched, spread = intervalSchedule(ps.Every, time.Now().In(s.loc), name)
	default:
		sched, err = s.parser.Parse(ps.Cron)
		if err != nil {
			return fmt.Errorf("schedule %s: invalid cron %q: %w", name, ps.Cron, err)
		}
	}

	if old, ok := s.entries[name]; ok {
		s.c.Remove(old.id)
	}
	id := s.c.Schedule(sched, cron.FuncJob(func() {
		job(s.runContext())
	}))
	s.entries[name] = entry{id: id, spec: ps, spread: spread}
	s.log.Debug("schedule added",
		logx.String("name", name),
		logx.String("spec", strings.TrimSpace(spec)),
		logx.String("kind", ps.Source),
		logx.Duration("startup_spread", spread),
	)
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.c.Remove(e.id)
	delete(s.entries, name)
	return true
}

// Names returns the registered job names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Next returns the next planned run of name, or the zero time when the
// scheduler is not running or name is unknown.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.c.Entry(e.id).Next
}

// Location is the timezone cron expressions are evaluated in.
func (s *Service) Location() *time.Location { return s.loc }

// Start begins triggering jobs. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	done := s.c.Stop().Done()
	cancel()
	select {
	case <-done:
		s.log.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
