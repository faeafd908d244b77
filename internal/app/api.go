package app

import (
	"context"

	"surveybot/internal/domain"
	"surveybot/internal/reminder"
	"surveybot/internal/survey"
)

// opsAPI exposes the campaign queries and remind-now to the HTTP API.
type opsAPI struct {
	campaigns *survey.Lifecycle
	reminders *reminder.Service
}

func (o opsAPI) ListCampaigns(ctx context.Context, actor domain.UserID, states ...domain.CampaignState) ([]*domain.Campaign, error) {
	return o.campaigns.List(ctx, actor, states...)
}

func (o opsAPI) GetCampaign(ctx context.Context, actor domain.UserID, id domain.CampaignID) (*domain.Campaign, error) {
	return o.campaigns.Get(ctx, actor, id)
}

func (o opsAPI) Unanswered(ctx context.Context, actor domain.UserID, id domain.CampaignID) (domain.UserSet, error) {
	return o.campaigns.Unanswered(ctx, actor, id)
}

func (o opsAPI) CompletionRate(ctx context.Context, actor domain.UserID, id domain.CampaignID) (survey.Completion, error) {
	return o.campaigns.CompletionRate(ctx, actor, id)
}

func (o opsAPI) RemindNow(ctx context.Context, actor domain.UserID, id domain.CampaignID) (reminder.PassReport, error) {
	return o.reminders.RemindNow(ctx, actor, id)
}
