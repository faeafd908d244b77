package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/response"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[domain.UserID]int
	fail domain.UserSet
}

func (r *recordingSender) Send(_ context.Context, uid domain.UserID, _ domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[domain.UserID]int{}
	}
	r.sent[uid]++
	if r.fail.Has(uid) {
		return domain.NewDispatchError(uid, errors.New("blocked"))
	}
	return nil
}

func (r *recordingSender) count(uid domain.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[uid]
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	store   storage.Store
	tracker *response.Tracker
	sender  *recordingSender
	clock   *fakeClock
	sched   *Scheduler
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	st := storage.NewMemory()
	clk := &fakeClock{now: t0}
	tr := response.New(st, nil, logx.Nop())
	snd := &recordingSender{}
	sched := NewScheduler(cfg, st, tr, nil, snd, nil, logx.Nop())
	sched.now = clk.Now
	return &env{store: st, tracker: tr, sender: snd, clock: clk, sched: sched}
}

func (e *env) start(t *testing.T, policy *domain.ReminderPolicy, audience ...domain.UserID) domain.CampaignID {
	t.Helper()
	ctx := context.Background()
	c := &domain.Campaign{Name: "c", Question: domain.Question{Prompt: "q"}, State: domain.StateDraft, Policy: policy}
	if err := e.store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if ok, err := e.store.StartCampaign(ctx, c.ID, domain.NewUserSet(audience...), e.clock.Now()); err != nil || !ok {
		t.Fatalf("StartCampaign ok=%v err=%v", ok, err)
	}
	return c.ID
}

func (e *env) state(t *testing.T, cid domain.CampaignID, uid domain.UserID) domain.ReminderState {
	t.Helper()
	states, err := e.store.ReminderStates(context.Background(), cid)
	if err != nil {
		t.Fatalf("ReminderStates: %v", err)
	}
	return states[uid]
}

func TestPassIntervalAndCap(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 2})
	ctx := context.Background()
	cid := e.start(t, nil, 1, 2, 3)
	if _, err := e.tracker.RecordResponse(ctx, cid, 2, "done"); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}

	steps := []struct {
		at   time.Duration
		sent int
	}{
		{at: 0, sent: 2},
		{at: 30 * time.Minute, sent: 0},
		{at: 90 * time.Minute, sent: 2},
		{at: 3 * time.Hour, sent: 0},
	}
	for _, step := range steps {
		e.clock.Set(t0.Add(step.at))
		rep, err := e.sched.RunPass(ctx, TriggerTick, 0)
		if err != nil {
			t.Fatalf("RunPass at %v: %v", step.at, err)
		}
		if rep.Sent != step.sent {
			t.Fatalf("at %v sent=%d want %d (report %+v)", step.at, rep.Sent, step.sent, rep)
		}
	}

	for _, uid := range []domain.UserID{1, 3} {
		if st := e.state(t, cid, uid); st.Count != 2 {
			t.Fatalf("user %d count=%d want 2", uid, st.Count)
		}
		if n := e.sender.count(uid); n != 2 {
			t.Fatalf("user %d got %d reminders", uid, n)
		}
	}
	if e.sender.count(2) != 0 || e.state(t, cid, 2).Count != 0 {
		t.Fatalf("responder was reminded")
	}
	c, _ := e.store.GetCampaign(ctx, cid)
	if c.State != domain.StateActive {
		t.Fatalf("state=%s want active", c.State)
	}
}

func TestManualBypassesIntervalNotCap(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 2})
	ctx := context.Background()
	cid := e.start(t, nil, 1)

	if rep, _ := e.sched.RunPass(ctx, TriggerTick, 0); rep.Sent != 1 {
		t.Fatalf("tick sent=%d", rep.Sent)
	}
	e.clock.Set(t0.Add(time.Minute))
	if rep, _ := e.sched.RunPass(ctx, TriggerTick, 0); rep.Sent != 0 {
		t.Fatalf("tick within interval sent=%d", rep.Sent)
	}
	if rep, _ := e.sched.RunPass(ctx, TriggerManual, cid); rep.Sent != 1 {
		t.Fatalf("manual sent=%d", rep.Sent)
	}
	rep, _ := e.sched.RunPass(ctx, TriggerManual, cid)
	if rep.Sent != 0 || rep.Capped != 1 {
		t.Fatalf("manual at cap report=%+v", rep)
	}
}

func TestCampaignPolicyOverride(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 1})
	ctx := context.Background()
	e.start(t, &domain.ReminderPolicy{MinInterval: 10 * time.Minute, MaxCount: 3}, 1)

	for i, at := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute, 30 * time.Minute} {
		e.clock.Set(t0.Add(at))
		if _, err := e.sched.RunPass(ctx, TriggerTick, 0); err != nil {
			t.Fatalf("RunPass %d: %v", i, err)
		}
	}
	if n := e.sender.count(1); n != 3 {
		t.Fatalf("sent=%d want 3", n)
	}
}

func TestCampaignOptOut(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 3})
	ctx := context.Background()
	cid := e.start(t, &domain.ReminderPolicy{MaxCount: domain.RemindersOff}, 1)
	e.start(t, nil, 2)

	if _, err := e.sched.RunPass(ctx, TriggerTick, 0); err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	rep, err := e.sched.RunPass(ctx, TriggerManual, cid)
	if err != nil {
		t.Fatalf("manual RunPass: %v", err)
	}
	if rep.Due != 0 || e.sender.count(1) != 0 {
		t.Fatalf("opted-out campaign reminded: report=%+v sent=%d", rep, e.sender.count(1))
	}
	if e.sender.count(2) != 1 {
		t.Fatalf("default campaign sent=%d want 1", e.sender.count(2))
	}
}

func TestDispatchFailureKeepsIncrement(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 1})
	e.sender.fail = domain.NewUserSet(3)
	ctx := context.Background()
	cid := e.start(t, nil, 1, 3)

	rep, err := e.sched.RunPass(ctx, TriggerTick, 0)
	if err != nil || rep.Sent != 1 || rep.Failed != 1 {
		t.Fatalf("report=%+v err=%v", rep, err)
	}
	if st := e.state(t, cid, 3); st.Count != 1 {
		t.Fatalf("failed dispatch count=%d want 1", st.Count)
	}
	e.clock.Set(t0.Add(2 * time.Hour))
	rep, _ = e.sched.RunPass(ctx, TriggerTick, 0)
	if rep.Sent+rep.Failed != 0 || rep.Capped != 2 {
		t.Fatalf("second pass report=%+v", rep)
	}
}

// racingStore lets a response land between the due computation and the claim.
type racingStore struct {
	storage.Store
	before func()
	once   sync.Once
}

func (r *racingStore) ClaimReminder(ctx context.Context, c storage.ReminderClaim) (bool, error) {
	r.once.Do(r.before)
	return r.Store.ClaimReminder(ctx, c)
}

func TestResponseWinsClaimRace(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()
	c := &domain.Campaign{Name: "c", Question: domain.Question{Prompt: "q"}, State: domain.StateDraft}
	_ = st.CreateCampaign(ctx, c)
	_, _ = st.StartCampaign(ctx, c.ID, domain.NewUserSet(1), t0)

	tr := response.New(st, nil, logx.Nop())
	rs := &racingStore{Store: st, before: func() {
		if _, err := tr.RecordResponse(ctx, c.ID, 1, "just in time"); err != nil {
			t.Errorf("RecordResponse: %v", err)
		}
	}}
	snd := &recordingSender{}
	sched := NewScheduler(Config{MinInterval: time.Hour, MaxCount: 2}, rs, tr, nil, snd, nil, logx.Nop())

	rep, err := sched.RunPass(ctx, TriggerTick, 0)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.Due != 1 || rep.LostRace != 1 || rep.Sent != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if snd.count(1) != 0 {
		t.Fatalf("reminder sent to a user who answered")
	}
	states, _ := st.ReminderStates(ctx, c.ID)
	if states[1].Count != 0 {
		t.Fatalf("state=%+v", states[1])
	}
}

func TestConcurrentPassesSendOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 3, Workers: 3})
	ctx := context.Background()
	users := []domain.UserID{1, 2, 3, 4, 5, 6, 7, 8}
	cid := e.start(t, nil, users...)

	var wg sync.WaitGroup
	reports := make([]PassReport, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], _ = e.sched.RunPass(ctx, TriggerTick, 0)
		}()
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Sent
	}
	if total != len(users) {
		t.Fatalf("sent=%d want %d", total, len(users))
	}
	for _, uid := range users {
		if st := e.state(t, cid, uid); st.Count != 1 {
			t.Fatalf("user %d count=%d", uid, st.Count)
		}
		if n := e.sender.count(uid); n != 1 {
			t.Fatalf("user %d reminded %d times", uid, n)
		}
	}
}

type completerFunc func(ctx context.Context, id domain.CampaignID) (bool, error)

func (f completerFunc) EvaluateCompletion(ctx context.Context, id domain.CampaignID) (bool, error) {
	return f(ctx, id)
}

func TestPassSkipsCompletedAndStopped(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 2})
	ctx := context.Background()
	done := e.start(t, nil, 1)
	stopped := e.start(t, nil, 2)
	if ok, _ := e.store.TransitionCampaign(ctx, stopped, domain.StateActive, domain.StateStopped, t0); !ok {
		t.Fatalf("stop failed")
	}
	e.sched.completer = completerFunc(func(_ context.Context, id domain.CampaignID) (bool, error) {
		return id == done, nil
	})

	rep, err := e.sched.RunPass(ctx, TriggerTick, 0)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.Campaigns != 1 || rep.Completed != 1 || rep.Sent != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if rep, _ := e.sched.RunPass(ctx, TriggerManual, stopped); rep.Campaigns != 0 {
		t.Fatalf("stopped campaign scanned: %+v", rep)
	}
}

func TestMaxCountZeroDisables(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MinInterval: time.Hour, MaxCount: 0})
	e.start(t, nil, 1)
	rep, _ := e.sched.RunPass(context.Background(), TriggerManual, 0)
	if rep.Due != 0 || e.sender.count(1) != 0 {
		t.Fatalf("report=%+v", rep)
	}
}
