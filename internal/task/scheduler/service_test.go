package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "surveybot/pkg/logx"
)

func TestServiceRunsIntervalJob(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	var runs atomic.Int32
	if err := s.Set("tick", "1s", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatalf("job never ran")
	}
	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 1s" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestServiceSetRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	err := s.Set("bad", "cron:not a cron", 0, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := s.Set("", "1m", 0, nil); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestServiceDisabledDoesNotRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	_ = s.Set("tick", "1s", 0, func(ctx context.Context) error { return errors.New("should not run") })
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if s.Snapshot().Running {
		t.Fatalf("disabled scheduler should not run cron")
	}
}
