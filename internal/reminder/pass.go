package reminder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

// Scheduler runs reminder passes. It holds no per-user state; all of it lives in the store.
type Scheduler struct {
	store     Store
	tracker   Tracker
	completer Completer
	sender    Sender
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	cfg atomic.Pointer[Config]
}

func NewScheduler(cfg Config, store Store, tracker Tracker, completer Completer, sender Sender, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		store:     store,
		tracker:   tracker,
		completer: completer,
		sender:    sender,
		bus:       bus,
		log:       log.With(logx.String("comp", "reminder")),
		now:       time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the policy used by subsequent passes.
func (s *Scheduler) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg.Store(&cfg)
}

type dueUser struct {
	campaign *domain.Campaign
	uid      domain.UserID
	state    domain.ReminderState
	max      int
}

// RunPass runs one pass. A non-zero campaignID limits it to that campaign.
// Per-user failures are counted, never returned.
func (s *Scheduler) RunPass(ctx context.Context, trigger Trigger, campaignID domain.CampaignID) (PassReport, error) {
	cfg := *s.cfg.Load()
	rep := PassReport{ID: uuid.New(), Trigger: trigger, CampaignID: campaignID, StartedAt: s.now()}
	log := s.log.With(logx.String("pass", rep.ID.String()), logx.String("trigger", string(trigger)))

	campaigns, err := s.campaigns(ctx, campaignID)
	if err != nil {
		return rep, err
	}

	now := s.now()
	manual := trigger == TriggerManual
	var due []dueUser
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Campaigns++
		if s.completer != nil {
			done, err := s.completer.EvaluateCompletion(ctx, c.ID)
			if err != nil {
				log.Warn("completion check failed", logx.Int64("campaign", c.ID), logx.Err(err))
			} else if done {
				rep.Completed++
				continue
			}
		}
		users, capped, err := s.dueUsers(ctx, c, cfg.Policy(), now, manual)
		if err != nil {
			log.Warn("campaign scan failed", logx.Int64("campaign", c.ID), logx.Err(err))
			continue
		}
		rep.Capped += capped
		due = append(due, users...)
	}
	rep.Due = len(due)

	var sent, failed, lost atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, d := range due {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			switch s.remind(gctx, log, d, trigger, cfg.SendTimeout) {
			case outcomeSent:
				sent.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeLost:
				lost.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Sent, rep.Failed, rep.LostRace = int(sent.Load()), int(failed.Load()), int(lost.Load())
	rep.Took = s.now().Sub(rep.StartedAt)

	fields := []logx.Field{
		logx.Int("campaigns", rep.Campaigns),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("lost_race", rep.LostRace),
		logx.Int("capped", rep.Capped),
		logx.Int("completed", rep.Completed),
	}
	if rep.Due > 0 || manual {
		log.Info("reminder pass finished", fields...)
	} else {
		log.Debug("reminder pass finished", fields...)
	}
	s.publish(eventbus.ReminderPass, eventbus.PassData{
		PassID:    rep.ID.String(),
		Trigger:   string(trigger),
		Campaigns: rep.Campaigns,
		Sent:      rep.Sent,
		Failed:    rep.Failed,
		LostRace:  rep.LostRace,
		Took:      rep.Took,
	})
	return rep, ctx.Err()
}

func (s *Scheduler) campaigns(ctx context.Context, id domain.CampaignID) ([]*domain.Campaign, error) {
	if id == 0 {
		return s.store.ListCampaigns(ctx, domain.StateActive)
	}
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != domain.StateActive {
		return nil, nil
	}
	return []*domain.Campaign{c}, nil
}

// dueUsers returns the unanswered users of c whose reminder is due at now,
// plus how many were skipped for having reached the cap.
func (s *Scheduler) dueUsers(ctx context.Context, c *domain.Campaign, def domain.ReminderPolicy, now time.Time, manual bool) ([]dueUser, int, error) {
	policy := c.Policy.Effective(def)
	if policy.MaxCount <= 0 {
		return nil, 0, nil
	}
	unanswered, err := s.tracker.UnansweredUsers(ctx, c.ID)
	if err != nil {
		return nil, 0, err
	}
	if unanswered.Len() == 0 {
		return nil, 0, nil
	}
	states, err := s.store.ReminderStates(ctx, c.ID)
	if err != nil {
		return nil, 0, err
	}
	var (
		out    []dueUser
		capped int
	)
	for _, uid := range unanswered.Sorted() {
		st := states[uid]
		if st.Count >= policy.MaxCount {
			capped++
			continue
		}
		if policy.Due(st, now, manual) {
			out = append(out, dueUser{campaign: c, uid: uid, state: st, max: policy.MaxCount})
		}
	}
	return out, capped, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeLost
)

func (s *Scheduler) remind(ctx context.Context, log logx.Logger, d dueUser, trigger Trigger, timeout time.Duration) outcome {
	cid := d.campaign.ID
	ok, err := s.store.ClaimReminder(ctx, storage.ReminderClaim{
		CampaignID: cid,
		UserID:     d.uid,
		Expected:   d.state,
		Max:        d.max,
		At:         s.now(),
	})
	if err != nil {
		log.Warn("reminder claim failed", logx.Int64("campaign", cid), logx.Int64("user", d.uid), logx.Err(err))
		return outcomeFailed
	}
	if !ok {
		log.Debug("reminder claim lost", logx.Int64("campaign", cid), logx.Int64("user", d.uid))
		return outcomeLost
	}

	count := d.state.Count + 1
	// In-flight reminders finish even if the campaign stops meanwhile.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	msg := domain.Message{Kind: domain.MessageReminder, CampaignID: cid, Text: d.campaign.Question.Prompt, Choices: d.campaign.Question.Choices}
	if err := s.sender.Send(sctx, d.uid, msg); err != nil {
		log.Warn("reminder dispatch failed", logx.Int64("campaign", cid), logx.Int64("user", d.uid), logx.Int("count", count), logx.Err(err))
		s.publish(eventbus.ReminderFailed, eventbus.ReminderData{CampaignID: cid, UserID: d.uid, Count: count, Trigger: string(trigger), Error: errText(err)})
		return outcomeFailed
	}
	s.publish(eventbus.ReminderSent, eventbus.ReminderData{CampaignID: cid, UserID: d.uid, Count: count, Trigger: string(trigger)})
	return outcomeSent
}

func errText(err error) string {
	var de *domain.DispatchError
	if errors.As(err, &de) && de.Err != nil {
		return de.Err.Error()
	}
	return err.Error()
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
