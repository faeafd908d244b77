package notifier

import (
	"context"
	"time"

	"surveybot/internal/domain"
	kit "surveybot/internal/transport"
)

// Config controls dispatch. Zero values select defaults.
type Config struct {
	RatePerSec    int
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	AdminsOnly    bool

	// Operator queue.
	Workers         int
	QueueSize       int
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// AdminSource lists the current admins for admins-only delivery and operator notices.
type AdminSource interface {
	AdminIDs(ctx context.Context) (domain.UserSet, error)
}

// Notification is an operator notice. A zero Target fans out to every admin.
type Notification struct {
	Channel  string
	Priority int
	Target   kit.ChatTarget
	Text     string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

const (
	EventSent       = "notifier.sent"
	EventFailed     = "notifier.failed"
	EventSuppressed = "notifier.suppressed"
	EventDeduped    = "notifier.deduped"
	EventDropped    = "notifier.dropped"
)

// DispatchEvent is published for every Send outcome.
type DispatchEvent struct {
	UserID     int64     `json:"user_id"`
	CampaignID int64     `json:"campaign_id,omitempty"`
	Kind       string    `json:"kind"`
	Attempts   int       `json:"attempts"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// NotificationEvent is published for operator notice lifecycle events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
