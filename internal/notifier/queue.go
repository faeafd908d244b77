package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	rtsup "surveybot/internal/runtime/supervisor"
	kit "surveybot/internal/transport"
	logx "surveybot/pkg/logx"
)

type job struct {
	n kit.ChatTarget
	// text already carries the priority prefix.
	text     string
	channel  string
	dedupKey string
}

// Supervisor returns the worker supervisor, nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the operator queue workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// notices are best-effort; a failing worker must not take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notice.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notice worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop closes intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues an operator notice. A zero target fans out to every admin.
// Identical notices within the dedup window are dropped silently.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targets := []kit.ChatTarget{n.Target}
	if n.Target.ChatID == 0 {
		if s.admins == nil {
			return nil
		}
		ids, err := s.admins.AdminIDs(ctx)
		if err != nil {
			return err
		}
		targets = targets[:0]
		for _, id := range ids.Sorted() {
			targets = append(targets, kit.ChatTarget{ChatID: id})
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	text := prefixForPriority(n.Priority) + n.Text
	for _, t := range targets {
		key := dedupKey(n.Channel, t, text)
		ev := NotificationEvent{Channel: n.Channel, ChatID: t.ChatID, ThreadID: t.ThreadID, Key: key, At: s.now()}
		if window > 0 && !s.dedupAllow(key, window, maxEntries) {
			s.publish(EventDeduped, ev)
			continue
		}
		select {
		case q <- job{n: t, text: text, channel: n.Channel, dedupKey: key}:
		default:
			ev.Error = ErrQueueFull.Error()
			s.publish(EventDropped, ev)
			return ErrQueueFull
		}
	}
	return nil
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverNotice(ctx, j)
		}
	}
}

func (s *Service) deliverNotice(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil || j.text == "" {
		return
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	ev := NotificationEvent{Channel: j.channel, ChatID: j.n.ChatID, ThreadID: j.n.ThreadID, Key: j.dedupKey}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, j.n, j.text, opt)
		cancel()
		if err == nil {
			s.appendHistory(j.text)
			ev.At = s.now()
			s.publish(EventSent, ev)
			return
		}
		lastErr = err
		if errors.Is(err, kit.ErrUnreachable) || attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Debug("notice send failed", logx.Int64("chat_id", j.n.ChatID), logx.Err(lastErr))
	ev.At = s.now()
	ev.Error = lastErr.Error()
	s.publish(EventFailed, ev)
}

func dedupKey(channel string, t kit.ChatTarget, text string) string {
	if channel == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d:%d|", channel, t.ChatID, t.ThreadID)
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key is outside its suppression window and opens a new one.
func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	if key == "" {
		return true
	}
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}
