package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"surveybot/internal/domain"
	logx "surveybot/pkg/logx"
)

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		sender:    sender,
		log:       log.With(logx.String("comp", "broadcast")),
		status:    map[string]*JobStatus{},
		statusMax: 200,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Run sends msg to every user and blocks until all sends finished or ctx is done.
// A failed send never stops the others.
func (s *Service) Run(ctx context.Context, name string, users []domain.UserID, msg domain.Message) JobStatus {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	st := &JobStatus{ID: uuid.NewString(), Name: name, Total: len(users), StartedAt: time.Now()}
	s.track(st)
	s.log.Info("broadcast started", logx.String("job", st.ID), logx.String("name", name), logx.Int("total", len(users)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, uid := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sctx := gctx
			if cfg.PerSendTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, cfg.PerSendTimeout)
				defer cancel()
			}
			err := s.sender.Send(sctx, uid, msg)
			s.statusMu.Lock()
			if err != nil {
				st.Failed++
				if len(st.Failures) < 200 {
					st.Failures = append(st.Failures, uid)
				}
			} else {
				st.Sent++
			}
			s.statusMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.statusMu.Lock()
	st.DoneAt = time.Now()
	out := *st
	out.Failures = append([]domain.UserID(nil), st.Failures...)
	s.statusMu.Unlock()

	fields := []logx.Field{
		logx.String("job", out.ID),
		logx.String("name", name),
		logx.Int("total", out.Total),
		logx.Int("sent", out.Sent),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", out.DoneAt.Sub(out.StartedAt)),
	}
	if out.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return out
}

func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok {
		return JobStatus{}, false
	}
	cp := *st
	cp.Failures = append([]domain.UserID(nil), st.Failures...)
	return cp, true
}

func (s *Service) track(st *JobStatus) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status[st.ID] = st
	s.order = append(s.order, st.ID)
	for len(s.order) > s.statusMax {
		delete(s.status, s.order[0])
		s.order = s.order[1:]
	}
}
