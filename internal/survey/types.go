// Package survey owns user lists and the campaign lifecycle:
// draft, then active, then stopped or completed.
package survey

import (
	"context"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/notifier/broadcast"
	"surveybot/internal/storage"
)

type Authorizer interface {
	Authorize(ctx context.Context, uid domain.UserID, required domain.Tier) error
}

type Resolver interface {
	Resolve(ctx context.Context, list *domain.UserList) (domain.UserSet, error)
}

type Broadcaster interface {
	Run(ctx context.Context, name string, users []domain.UserID, msg domain.Message) broadcast.JobStatus
}

// Tracker answers who has not responded yet.
type Tracker interface {
	UnansweredUsers(ctx context.Context, cid domain.CampaignID) (domain.UserSet, error)
}

type Store interface {
	storage.Lists
	storage.Campaigns
	storage.Responses
}

// CreateCampaign is the input of Lifecycle.Create.
type CreateCampaign struct {
	Name     string
	Question domain.Question
	ListID   domain.ListID
	// Policy overrides the configured reminder policy; nil or zero fields fall back.
	// MaxCount domain.RemindersOff disables reminders for this campaign.
	Policy *domain.ReminderPolicy
}

// StartResult reports a started campaign. Empty is a warning, not an error.
type StartResult struct {
	Campaign     *domain.Campaign
	AudienceSize int
	Empty        bool
	Sent         int
	Failed       int
	BroadcastID  string
}

// Completion summarizes answers for a campaign.
type Completion struct {
	CampaignID domain.CampaignID
	State      domain.CampaignState
	Audience   int
	Answered   int
}

// Rate is Answered/Audience in [0,1]. An empty audience counts as complete.
func (c Completion) Rate() float64 {
	if c.Audience == 0 {
		return 1
	}
	return float64(c.Answered) / float64(c.Audience)
}

type clock func() time.Time
