package eventbus

import "time"

const (
	CampaignStarted   = "campaign.started"
	CampaignStopped   = "campaign.stopped"
	CampaignCompleted = "campaign.completed"

	AudienceEmpty = "audience.empty"

	ResponseAccepted = "response.accepted"
	ResponseRejected = "response.rejected"

	ReminderPass   = "reminder.pass"
	ReminderSent   = "reminder.sent"
	ReminderFailed = "reminder.failed"

	AdminGranted = "admin.granted"
	AdminRevoked = "admin.revoked"
	AdminDenied  = "admin.denied"

	UserActivated   = "user.activated"
	UserDeactivated = "user.deactivated"

	ListChanged = "list.changed"
)

type CampaignData struct {
	CampaignID   int64  `json:"campaign_id"`
	Name         string `json:"name,omitempty"`
	ActorID      int64  `json:"actor_id,omitempty"`
	CreatorID    int64  `json:"creator_id,omitempty"`
	AudienceSize int    `json:"audience_size"`
	Reason       string `json:"reason,omitempty"`
}

type ResponseData struct {
	CampaignID int64  `json:"campaign_id"`
	UserID     int64  `json:"user_id"`
	Created    bool   `json:"created"`
	Reason     string `json:"reason,omitempty"`
}

type ReminderData struct {
	CampaignID int64  `json:"campaign_id"`
	UserID     int64  `json:"user_id"`
	Count      int    `json:"count"`
	Trigger    string `json:"trigger"`
	Error      string `json:"error,omitempty"`
}

type PassData struct {
	PassID    string        `json:"pass_id"`
	Trigger   string        `json:"trigger"`
	Campaigns int           `json:"campaigns"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	LostRace  int           `json:"lost_race"`
	Took      time.Duration `json:"took"`
}

type AdminData struct {
	ActorID int64  `json:"actor_id"`
	UserID  int64  `json:"user_id"`
	Action  string `json:"action,omitempty"`
}

type ListData struct {
	ListID  int64  `json:"list_id"`
	Name    string `json:"name"`
	ActorID int64  `json:"actor_id"`
}
