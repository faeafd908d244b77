// Package reminder re-prompts audience members who have not answered.
//
// A pass walks the active campaigns (or one campaign for a manual request),
// computes the unanswered users whose reminder is due and, per user, first
// claims the reminder with a compare-and-set on the stored state and only
// then dispatches. A lost claim means another pass or a response got there
// first; the user is skipped until the next pass. A failed dispatch keeps the
// claimed increment, so a user receives at most MaxCount attempts.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"surveybot/internal/domain"
	"surveybot/internal/storage"
)

type Trigger string

const (
	TriggerTick   Trigger = "tick"
	TriggerManual Trigger = "manual"
)

type Store interface {
	GetCampaign(ctx context.Context, id domain.CampaignID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, states ...domain.CampaignState) ([]*domain.Campaign, error)
	ReminderStates(ctx context.Context, cid domain.CampaignID) (map[domain.UserID]domain.ReminderState, error)
	ClaimReminder(ctx context.Context, c storage.ReminderClaim) (bool, error)
}

type Tracker interface {
	UnansweredUsers(ctx context.Context, cid domain.CampaignID) (domain.UserSet, error)
}

// Completer re-evaluates completion for a campaign during a scan.
type Completer interface {
	EvaluateCompletion(ctx context.Context, id domain.CampaignID) (bool, error)
}

type Sender interface {
	Send(ctx context.Context, uid domain.UserID, msg domain.Message) error
}

type Authorizer interface {
	Authorize(ctx context.Context, uid domain.UserID, required domain.Tier) error
}

// PassReport summarizes one pass.
type PassReport struct {
	ID         uuid.UUID
	Trigger    Trigger
	CampaignID domain.CampaignID // zero for a full pass
	StartedAt  time.Time
	Took       time.Duration

	Campaigns int
	Completed int
	Due       int
	Sent      int
	Failed    int
	// LostRace counts claims rejected because the state changed underneath.
	LostRace int
	// Capped counts unanswered users that already reached MaxCount.
	Capped int
}

// Config holds reminder settings. MaxCount 0 disables reminders.
type Config struct {
	Enabled     bool
	Schedule    string
	Timezone    string
	MinInterval time.Duration
	MaxCount    int
	Workers     int
	SendTimeout time.Duration
	ManualQueue int
}

func (c Config) Policy() domain.ReminderPolicy {
	return domain.ReminderPolicy{MinInterval: c.MinInterval, MaxCount: c.MaxCount}
}
