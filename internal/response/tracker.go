// Package response records answers and computes who has not answered yet.
package response

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	logx "surveybot/pkg/logx"
)

type Store interface {
	GetCampaign(ctx context.Context, id domain.CampaignID) (*domain.Campaign, error)
	UpsertResponse(ctx context.Context, r domain.ResponseRecord) (bool, error)
	ListResponses(ctx context.Context, cid domain.CampaignID) ([]domain.ResponseRecord, error)
}

// AcceptHook runs after a response is stored, typically to re-evaluate completion.
type AcceptHook func(ctx context.Context, cid domain.CampaignID)

type Tracker struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	hookMu   sync.RWMutex
	onAccept AcceptHook
}

func New(store Store, bus eventbus.Bus, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, bus: bus, log: log.With(logx.String("comp", "response")), now: time.Now}
}

func (t *Tracker) SetAcceptHook(fn AcceptHook) {
	t.hookMu.Lock()
	t.onAccept = fn
	t.hookMu.Unlock()
}

// RecordResponse stores uid's answer, overwriting an earlier one. Users outside the
// frozen audience and campaigns that are not active yield domain.ErrNotEligible
// and nothing is written.
func (t *Tracker) RecordResponse(ctx context.Context, cid domain.CampaignID, uid domain.UserID, answer string) (domain.ResponseRecord, error) {
	c, err := t.eligible(ctx, cid, uid)
	if err != nil {
		return domain.ResponseRecord{}, err
	}
	return t.accept(ctx, c, uid, answer)
}

// RecordChoice answers with the idx-th offered choice. Eligibility is checked
// before the index.
func (t *Tracker) RecordChoice(ctx context.Context, cid domain.CampaignID, uid domain.UserID, idx int) (domain.ResponseRecord, error) {
	c, err := t.eligible(ctx, cid, uid)
	if err != nil {
		return domain.ResponseRecord{}, err
	}
	if idx < 0 || idx >= len(c.Question.Choices) {
		t.publish(eventbus.ResponseRejected, eventbus.ResponseData{CampaignID: cid, UserID: uid, Reason: "invalid choice"})
		return domain.ResponseRecord{}, fmt.Errorf("%w: choice %d", domain.ErrInvalidArgument, idx)
	}
	return t.accept(ctx, c, uid, c.Question.Choices[idx])
}

func (t *Tracker) eligible(ctx context.Context, cid domain.CampaignID, uid domain.UserID) (*domain.Campaign, error) {
	c, err := t.store.GetCampaign(ctx, cid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, t.reject(cid, uid, "unknown campaign")
		}
		return nil, err
	}
	if c.State != domain.StateActive {
		return nil, t.reject(cid, uid, "campaign "+string(c.State))
	}
	if !c.Audience.Has(uid) {
		return nil, t.reject(cid, uid, "not in audience")
	}
	return c, nil
}

func (t *Tracker) accept(ctx context.Context, c *domain.Campaign, uid domain.UserID, answer string) (domain.ResponseRecord, error) {
	cid := c.ID
	norm, ok := c.Question.Normalize(answer)
	if !ok {
		t.publish(eventbus.ResponseRejected, eventbus.ResponseData{CampaignID: cid, UserID: uid, Reason: "invalid answer"})
		if len(c.Question.Choices) > 0 {
			return domain.ResponseRecord{}, fmt.Errorf("%w: answer must be one of the offered choices", domain.ErrInvalidArgument)
		}
		return domain.ResponseRecord{}, fmt.Errorf("%w: empty answer", domain.ErrInvalidArgument)
	}

	rec := domain.ResponseRecord{CampaignID: cid, UserID: uid, Answer: norm, RespondedAt: t.now()}
	created, err := t.store.UpsertResponse(ctx, rec)
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("record response: %w", err)
	}
	t.log.Debug("response accepted", logx.Int64("campaign", cid), logx.Int64("user", uid), logx.Bool("created", created))
	t.publish(eventbus.ResponseAccepted, eventbus.ResponseData{CampaignID: cid, UserID: uid, Created: created})

	t.hookMu.RLock()
	hook := t.onAccept
	t.hookMu.RUnlock()
	if hook != nil && created {
		hook(ctx, cid)
	}
	return rec, nil
}

// UnansweredUsers is the frozen audience minus users with a response.
func (t *Tracker) UnansweredUsers(ctx context.Context, cid domain.CampaignID) (domain.UserSet, error) {
	c, err := t.store.GetCampaign(ctx, cid)
	if err != nil {
		return nil, err
	}
	return t.unanswered(ctx, c)
}

func (t *Tracker) unanswered(ctx context.Context, c *domain.Campaign) (domain.UserSet, error) {
	out := c.Audience.Clone()
	if out == nil {
		out = domain.NewUserSet()
	}
	rs, err := t.store.ListResponses(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		delete(out, r.UserID)
	}
	return out, nil
}

// Responses returns stored answers ordered by user id.
func (t *Tracker) Responses(ctx context.Context, cid domain.CampaignID) ([]domain.ResponseRecord, error) {
	return t.store.ListResponses(ctx, cid)
}

func (t *Tracker) reject(cid domain.CampaignID, uid domain.UserID, reason string) error {
	t.log.Debug("response rejected", logx.Int64("campaign", cid), logx.Int64("user", uid), logx.String("reason", reason))
	t.publish(eventbus.ResponseRejected, eventbus.ResponseData{CampaignID: cid, UserID: uid, Reason: reason})
	return fmt.Errorf("%w: %s", domain.ErrNotEligible, reason)
}

func (t *Tracker) publish(typ string, data any) {
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
