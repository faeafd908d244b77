package survey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	logx "surveybot/pkg/logx"
)

// Lifecycle drives campaign state. Privileged calls authorize before touching state.
type Lifecycle struct {
	store    Store
	auth     Authorizer
	resolver Resolver
	bcast    Broadcaster
	tracker  Tracker
	bus      eventbus.Bus
	log      logx.Logger
	now      clock
}

func NewLifecycle(store Store, auth Authorizer, resolver Resolver, bcast Broadcaster, tracker Tracker, bus eventbus.Bus, log logx.Logger) *Lifecycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{
		store:    store,
		auth:     auth,
		resolver: resolver,
		bcast:    bcast,
		tracker:  tracker,
		bus:      bus,
		log:      log.With(logx.String("comp", "campaign")),
		now:      time.Now,
	}
}

func (l *Lifecycle) Create(ctx context.Context, actor domain.UserID, in CreateCampaign) (*domain.Campaign, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	q, err := normalizeQuestion(in.Question)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: campaign name required", domain.ErrInvalidArgument)
	}
	if p := in.Policy; p != nil && (p.MinInterval < 0 || p.MaxCount < domain.RemindersOff) {
		return nil, fmt.Errorf("%w: reminder policy must not be negative", domain.ErrInvalidArgument)
	}
	if _, err := l.store.GetList(ctx, in.ListID); err != nil {
		return nil, fmt.Errorf("list %d: %w", in.ListID, err)
	}

	c := &domain.Campaign{
		Name:      name,
		Question:  q,
		ListID:    in.ListID,
		State:     domain.StateDraft,
		Policy:    in.Policy,
		CreatedBy: actor,
		CreatedAt: l.now(),
	}
	if err := l.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	l.log.Info("campaign created", logx.Int64("campaign", c.ID), logx.String("name", c.Name), logx.Int64("list", c.ListID), logx.Int64("actor", actor))
	return c, nil
}

func normalizeQuestion(q domain.Question) (domain.Question, error) {
	out := domain.Question{Prompt: strings.TrimSpace(q.Prompt)}
	if out.Prompt == "" {
		return out, fmt.Errorf("%w: question prompt required", domain.ErrInvalidArgument)
	}
	seen := map[string]bool{}
	for _, c := range q.Choices {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Choices = append(out.Choices, c)
	}
	if len(q.Choices) > 0 && len(out.Choices) < 2 {
		return out, fmt.Errorf("%w: a choice question needs at least two distinct choices", domain.ErrInvalidArgument)
	}
	return out, nil
}

// Start freezes the audience, activates the campaign and sends the question to
// every member. An empty audience still activates; StartResult.Empty flags it.
func (l *Lifecycle) Start(ctx context.Context, actor domain.UserID, id domain.CampaignID) (StartResult, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return StartResult{}, err
	}
	c, err := l.store.GetCampaign(ctx, id)
	if err != nil {
		return StartResult{}, err
	}
	if c.State != domain.StateDraft {
		return StartResult{}, fmt.Errorf("%w: campaign %d is %s", domain.ErrInvalidTransition, id, c.State)
	}
	list, err := l.store.GetList(ctx, c.ListID)
	if err != nil {
		return StartResult{}, fmt.Errorf("list %d: %w", c.ListID, err)
	}
	audience, err := l.resolver.Resolve(ctx, list)
	if err != nil {
		return StartResult{}, err
	}

	at := l.now()
	ok, err := l.store.StartCampaign(ctx, id, audience, at)
	if err != nil {
		return StartResult{}, err
	}
	if !ok {
		return StartResult{}, fmt.Errorf("%w: campaign %d already left draft", domain.ErrInvalidTransition, id)
	}
	c.State, c.StartedAt, c.Audience = domain.StateActive, at, audience

	res := StartResult{Campaign: c, AudienceSize: audience.Len(), Empty: audience.Len() == 0}
	l.log.Info("campaign started", logx.Int64("campaign", id), logx.Int("audience", res.AudienceSize), logx.Int64("actor", actor))
	l.publish(eventbus.CampaignStarted, eventbus.CampaignData{CampaignID: id, Name: c.Name, ActorID: actor, CreatorID: c.CreatedBy, AudienceSize: res.AudienceSize})
	if res.Empty {
		l.log.Warn("campaign audience is empty", logx.Int64("campaign", id), logx.Int64("list", c.ListID))
		l.publish(eventbus.AudienceEmpty, eventbus.CampaignData{CampaignID: id, Name: c.Name, ActorID: actor, CreatorID: c.CreatedBy})
		return res, nil
	}

	msg := domain.Message{Kind: domain.MessageQuestion, CampaignID: id, Text: c.Question.Prompt, Choices: c.Question.Choices}
	job := l.bcast.Run(ctx, fmt.Sprintf("campaign.%d", id), audience.Sorted(), msg)
	res.Sent, res.Failed, res.BroadcastID = job.Sent, job.Failed, job.ID
	return res, nil
}

// Stop ends an active campaign. In-flight sends are not cancelled.
func (l *Lifecycle) Stop(ctx context.Context, actor domain.UserID, id domain.CampaignID) (*domain.Campaign, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	c, err := l.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != domain.StateActive {
		return nil, fmt.Errorf("%w: campaign %d is %s", domain.ErrInvalidTransition, id, c.State)
	}
	at := l.now()
	ok, err := l.store.TransitionCampaign(ctx, id, domain.StateActive, domain.StateStopped, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign %d is no longer active", domain.ErrInvalidTransition, id)
	}
	c.State, c.StoppedAt = domain.StateStopped, at
	l.log.Info("campaign stopped", logx.Int64("campaign", id), logx.Int64("actor", actor))
	l.publish(eventbus.CampaignStopped, eventbus.CampaignData{CampaignID: id, Name: c.Name, ActorID: actor, CreatorID: c.CreatedBy, AudienceSize: c.Audience.Len()})
	return c, nil
}

// EvaluateCompletion moves an active campaign to completed once every audience
// member answered. It reports whether this call completed the campaign.
func (l *Lifecycle) EvaluateCompletion(ctx context.Context, id domain.CampaignID) (bool, error) {
	c, err := l.store.GetCampaign(ctx, id)
	if err != nil {
		return false, err
	}
	if c.State != domain.StateActive {
		return false, nil
	}
	left, err := l.tracker.UnansweredUsers(ctx, id)
	if err != nil {
		return false, err
	}
	if left.Len() > 0 {
		return false, nil
	}
	ok, err := l.store.TransitionCampaign(ctx, id, domain.StateActive, domain.StateCompleted, l.now())
	if err != nil || !ok {
		return false, err
	}
	l.log.Info("campaign completed", logx.Int64("campaign", id), logx.Int("audience", c.Audience.Len()))
	l.publish(eventbus.CampaignCompleted, eventbus.CampaignData{CampaignID: id, Name: c.Name, CreatorID: c.CreatedBy, AudienceSize: c.Audience.Len()})
	return true, nil
}

// OnResponse is the response tracker hook.
func (l *Lifecycle) OnResponse(ctx context.Context, id domain.CampaignID) {
	if _, err := l.EvaluateCompletion(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("completion check failed", logx.Int64("campaign", id), logx.Err(err))
	}
}

func (l *Lifecycle) Get(ctx context.Context, actor domain.UserID, id domain.CampaignID) (*domain.Campaign, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return l.store.GetCampaign(ctx, id)
}

// List returns campaigns in the given states (all when none), newest first.
func (l *Lifecycle) List(ctx context.Context, actor domain.UserID, states ...domain.CampaignState) ([]*domain.Campaign, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return l.store.ListCampaigns(ctx, states...)
}

func (l *Lifecycle) Unanswered(ctx context.Context, actor domain.UserID, id domain.CampaignID) (domain.UserSet, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return l.tracker.UnansweredUsers(ctx, id)
}

func (l *Lifecycle) CompletionRate(ctx context.Context, actor domain.UserID, id domain.CampaignID) (Completion, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return Completion{}, err
	}
	c, err := l.store.GetCampaign(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	left, err := l.tracker.UnansweredUsers(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	n := c.Audience.Len()
	return Completion{CampaignID: id, State: c.State, Audience: n, Answered: n - left.Len()}, nil
}

func (l *Lifecycle) publish(typ string, data any) {
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
