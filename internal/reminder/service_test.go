package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/task/scheduler"
	logx "surveybot/pkg/logx"
)

type adminSet domain.UserSet

func (a adminSet) Authorize(_ context.Context, uid domain.UserID, required domain.Tier) error {
	if required == domain.TierUser || domain.UserSet(a).Has(uid) {
		return nil
	}
	return domain.ErrPermissionDenied
}

type cronJob struct {
	spec string
	job  scheduler.Job
}

type fakeCron struct {
	mu   sync.Mutex
	jobs map[string]cronJob
}

func (f *fakeCron) Set(name, spec string, _ time.Duration, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = map[string]cronJob{}
	}
	f.jobs[name] = cronJob{spec: spec, job: job}
	return nil
}

func (f *fakeCron) fire(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	j, ok := f.jobs[name]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, j.job(ctx)
}

func (f *fakeCron) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, name)
}

func (f *fakeCron) spec(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[name]
	return j.spec, ok
}

func TestRemindNow(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, Schedule: "10m", MinInterval: time.Hour, MaxCount: 2}
	e := newEnv(t, cfg)
	cron := &fakeCron{}
	svc := NewService(cfg, e.sched, cron, adminSet(domain.NewUserSet(1)), e.store, e.sched.log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if spec, ok := cron.spec(scheduleName); !ok || spec != "10m" {
		t.Fatalf("schedule=%q ok=%v", spec, ok)
	}

	cid := e.start(t, nil, 5, 6)
	if _, err := svc.RemindNow(ctx, 9, cid); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("non-admin err=%v", err)
	}
	if _, err := svc.RemindNow(ctx, 1, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown campaign err=%v", err)
	}
	rep, err := svc.RemindNow(ctx, 1, cid)
	if err != nil || rep.Trigger != TriggerManual || rep.Sent != 2 {
		t.Fatalf("report=%+v err=%v", rep, err)
	}
	if _, err := e.store.TransitionCampaign(ctx, cid, domain.StateActive, domain.StateStopped, t0); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := svc.RemindNow(ctx, 1, cid); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stopped campaign err=%v", err)
	}
}

func TestRemindNowBusy(t *testing.T) {
	t.Parallel()
	cfg := Config{MinInterval: time.Hour, MaxCount: 2, ManualQueue: 1}
	e := newEnv(t, cfg)
	// Not started: nothing drains the queue.
	svc := NewService(cfg, e.sched, nil, adminSet(domain.NewUserSet(1)), e.store, e.sched.log)
	cid := e.start(t, nil, 5)

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := svc.RemindNow(short, 1, cid); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first err=%v", err)
	}
	if _, err := svc.RemindNow(context.Background(), 1, cid); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second err=%v want ErrBusy", err)
	}
}

func TestApplyTogglesSchedule(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, MinInterval: time.Hour, MaxCount: 2}
	e := newEnv(t, cfg)
	cron := &fakeCron{}
	svc := NewService(cfg, e.sched, cron, adminSet(nil), e.store, e.sched.log)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())
	if spec, _ := cron.spec(scheduleName); spec != "@every 5m" {
		t.Fatalf("default schedule=%q", spec)
	}

	cfg.Enabled = false
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := cron.spec(scheduleName); ok {
		t.Fatalf("schedule should be removed")
	}
	if svc.Enabled() {
		t.Fatalf("Enabled() = true")
	}
}

type countingCompleter struct {
	mu    sync.Mutex
	calls map[domain.CampaignID]int
}

func (c *countingCompleter) EvaluateCompletion(_ context.Context, id domain.CampaignID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[domain.CampaignID]int{}
	}
	c.calls[id]++
	return false, nil
}

func (c *countingCompleter) count(id domain.CampaignID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func TestTickScheduledWithZeroGlobalCap(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, MinInterval: time.Hour, MaxCount: 0}
	e := newEnv(t, cfg)
	comp := &countingCompleter{}
	sched := NewScheduler(cfg, e.store, e.tracker, comp, e.sender, nil, logx.Nop())
	sched.now = e.clock.Now
	cron := &fakeCron{}
	svc := NewService(cfg, sched, cron, adminSet(nil), e.store, logx.Nop())
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(ctx)

	withCap := e.start(t, &domain.ReminderPolicy{MaxCount: 3}, 5)
	defaults := e.start(t, nil, 6)

	ran, err := cron.fire(ctx, scheduleName)
	if !ran || err != nil {
		t.Fatalf("tick ran=%v err=%v", ran, err)
	}
	if got := e.sender.count(5); got != 1 {
		t.Fatalf("campaign cap: user 5 got %d reminders, want 1", got)
	}
	if got := e.sender.count(6); got != 0 {
		t.Fatalf("global cap 0: user 6 got %d reminders", got)
	}
	if comp.count(withCap) != 1 || comp.count(defaults) != 1 {
		t.Fatalf("completion checks: %v", comp.calls)
	}
}
