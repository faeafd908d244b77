package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	rtsup "surveybot/internal/runtime/supervisor"
	kit "surveybot/internal/transport"
	logx "surveybot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is safe for concurrent use. Apply may run while sends are in flight.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	admins AdminSource
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}

func New(cfg Config, sender kit.Sender, admins AdminSource, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		admins: admins,
		bus:    bus,
		dedup:  map[string]time.Time{},
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	// Keep the bucket across reloads unless the rate actually changed.
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec || s.cfg.Burst != cfg.Burst {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	s.cfg = cfg
}

// Send delivers msg to uid. It blocks on the shared rate limit and retries
// transient failures. The returned error wraps domain.ErrDispatch.
func (s *Service) Send(ctx context.Context, uid domain.UserID, msg domain.Message) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return domain.NewDispatchError(uid, errors.New("no transport"))
	}
	if cfg.AdminsOnly && !s.isAdmin(ctx, uid) {
		s.log.Debug("send suppressed (admins only)", logx.Int64("user", uid), logx.Int64("campaign", msg.CampaignID))
		s.publish(EventSuppressed, DispatchEvent{UserID: uid, CampaignID: msg.CampaignID, Kind: string(msg.Kind), At: s.now()})
		return nil
	}

	text, opt := render(msg)
	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
loop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, kit.ChatTarget{ChatID: uid}, text, opt)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.publish(EventSent, DispatchEvent{UserID: uid, CampaignID: msg.CampaignID, Kind: string(msg.Kind), Attempts: attempt, At: s.now()})
			return nil
		}
		lastErr = err
		if errors.Is(err, kit.ErrUnreachable) || ctx.Err() != nil || attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		s.log.Debug("send retry scheduled", logx.Int64("user", uid), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break loop
		}
	}

	s.log.Warn("send failed",
		logx.Int64("user", uid),
		logx.Int64("campaign", msg.CampaignID),
		logx.String("kind", string(msg.Kind)),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
	s.publish(EventFailed, DispatchEvent{UserID: uid, CampaignID: msg.CampaignID, Kind: string(msg.Kind), Attempts: attempts, At: s.now(), Error: lastErr.Error()})
	return domain.NewDispatchError(uid, lastErr)
}

func (s *Service) isAdmin(ctx context.Context, uid domain.UserID) bool {
	if s.admins == nil {
		return false
	}
	ids, err := s.admins.AdminIDs(ctx)
	if err != nil {
		s.log.Warn("admin lookup failed", logx.Err(err))
		return false
	}
	return ids.Has(uid)
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
	}
}

// History returns recently delivered texts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}
