package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"surveybot/internal/eventbus"
	logx "surveybot/pkg/logx"
)

const EventJobFailed = "scheduler.job_failed"

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*scheduleDef{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Set registers or replaces the schedule called name.
func (s *Service) Set(name, rawSpec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" || job == nil {
		return errors.New("schedule name and job are required")
	}
	ps, err := ParseSchedule(rawSpec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.defs[name]; old != nil && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Info("schedule set", logx.String("name", name), logx.String("spec", ps.String()), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.defs[name]; d != nil {
		if s.c != nil {
			s.c.Remove(d.entryID)
		}
		delete(s.defs, name)
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.runCtx == nil {
		return
	}
	if old.Enabled != cfg.Enabled || strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.stopCronLocked(ctx)
		cancel()
		s.startCronLocked()
	}
}

// Start begins triggering. Jobs receive contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
}

// Stop halts triggering, cancels running jobs and waits for them or ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.mu.Lock()
	s.stopCronLocked(ctx)
	s.mu.Unlock()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) startCronLocked() {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.loc = s.locationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Warn("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) stopCronLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	s.c = nil
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) addLocked(d *scheduleDef) error {
	var sched cron.Schedule
	switch d.spec.Kind {
	case SpecInterval:
		sched = cron.Every(d.spec.Every)
	default:
		p, err := s.parser.Parse(d.spec.Cron)
		if err != nil {
			return err
		}
		sched = p
	}
	runCtx := s.runCtx
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.run(runCtx, d) }))
	return nil
}

func (s *Service) run(parent context.Context, d *scheduleDef) {
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx := parent
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	d.mu.Lock()
	d.runs++
	d.lastRun = start
	d.lastDur = took
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventJobFailed, Data: map[string]any{"name": d.name, "error": err.Error()}})
		}
		return
	}
	s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", took))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec.String(), Timeout: d.timeout}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		info.Runs, info.LastDur, info.LastErr = d.runs, d.lastDur, d.lastErr
		d.mu.Unlock()
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
