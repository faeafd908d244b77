package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"surveybot/internal/domain"
	rtsup "surveybot/internal/runtime/supervisor"
	"surveybot/internal/task/scheduler"
	logx "surveybot/pkg/logx"
)

const scheduleName = "reminder.pass"

// Cron is the subset of the task scheduler the service needs.
type Cron interface {
	Set(name, rawSpec string, timeout time.Duration, job scheduler.Job) error
	Remove(name string)
}

type manualReq struct {
	campaignID domain.CampaignID
	done       chan manualResult
}

type manualResult struct {
	report PassReport
	err    error
}

// Service drives the scheduler from a cron tick and from manual remind-now requests.
// Manual requests are serialized through a bounded queue.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	sched *Scheduler
	cron  Cron
	auth  Authorizer
	store Store
	log   logx.Logger

	queue chan manualReq
	sup   *rtsup.Supervisor
}

func NewService(cfg Config, sched *Scheduler, cron Cron, auth Authorizer, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ManualQueue <= 0 {
		cfg.ManualQueue = 8
	}
	return &Service{
		cfg:   cfg,
		sched: sched,
		cron:  cron,
		auth:  auth,
		store: store,
		log:   log.With(logx.String("comp", "reminder")),
		queue: make(chan manualReq, cfg.ManualQueue),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart0("manual", s.manualLoop, rtsup.WithStopOnCleanExit(false))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if s.cron != nil {
		s.cron.Remove(scheduleName)
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// Apply updates the policy and the tick schedule. The manual queue size is fixed at construction.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.ManualQueue = s.cfg.ManualQueue
	s.cfg = cfg
	s.sched.Apply(cfg)
	if s.sup == nil {
		return nil
	}
	return s.scheduleLocked()
}

func (s *Service) scheduleLocked() error {
	if s.cron == nil {
		return nil
	}
	// Completion checks and per-campaign caps need the tick even when the
	// global MaxCount is 0.
	if !s.cfg.Enabled {
		s.cron.Remove(scheduleName)
		s.log.Info("periodic reminders disabled")
		return nil
	}
	spec := s.cfg.Schedule
	if spec == "" {
		spec = "@every 5m"
	}
	err := s.cron.Set(scheduleName, spec, 0, func(ctx context.Context) error {
		_, err := s.sched.RunPass(ctx, TriggerTick, 0)
		return err
	})
	if err != nil {
		return fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return nil
}

// RemindNow runs a manual pass for one active campaign, bypassing the interval
// but not the cap. It returns domain.ErrBusy when too many requests are queued.
func (s *Service) RemindNow(ctx context.Context, actor domain.UserID, id domain.CampaignID) (PassReport, error) {
	if err := s.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return PassReport{}, err
	}
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return PassReport{}, err
	}
	if c.State != domain.StateActive {
		return PassReport{}, fmt.Errorf("%w: campaign %d is %s", domain.ErrInvalidTransition, id, c.State)
	}

	req := manualReq{campaignID: id, done: make(chan manualResult, 1)}
	select {
	case s.queue <- req:
	default:
		return PassReport{}, domain.ErrBusy
	}
	s.log.Info("manual reminder queued", logx.Int64("campaign", id), logx.Int64("actor", actor))

	select {
	case res := <-req.done:
		return res.report, res.err
	case <-ctx.Done():
		return PassReport{}, ctx.Err()
	}
}

func (s *Service) manualLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			rep, err := s.sched.RunPass(ctx, TriggerManual, req.campaignID)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("manual reminder pass failed", logx.Int64("campaign", req.campaignID), logx.Err(err))
			}
			req.done <- manualResult{report: rep, err: err}
		}
	}
}
