package storage

import (
	"context"
	"errors"
	"time"

	"surveybot/internal/domain"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (default, not durable)
//   - "sqlite": SQLite database file (modernc.org/sqlite)
//   - "postgres": PostgreSQL via lib/pq (DSN required)
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// AuditEntry records an operator action or a rejected request.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	Action   string
	Target   string
	OK       bool
	Error    string
	MetaJSON string
}

// ReminderClaim is a compare-and-set request on one ReminderState.
//
// The claim succeeds only if, atomically:
//   - the campaign is active,
//   - the user has no response for the campaign,
//   - the stored state still equals Expected (a missing row equals the zero state),
//   - Expected.Count < Max.
//
// On success the stored state becomes {Expected.Count+1, At}.
type ReminderClaim struct {
	CampaignID domain.CampaignID
	UserID     domain.UserID
	Expected   domain.ReminderState
	Max        int
	At         time.Time
}

type Lists interface {
	CreateList(ctx context.Context, l *domain.UserList) error
	GetList(ctx context.Context, id domain.ListID) (*domain.UserList, error)
	// SaveList replaces name and membership of an existing list.
	SaveList(ctx context.Context, l *domain.UserList) error
	ListLists(ctx context.Context) ([]*domain.UserList, error)
}

type Campaigns interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id domain.CampaignID) (*domain.Campaign, error)
	// ListCampaigns returns campaigns in the given states (all when empty), newest first.
	// Audience is not loaded.
	ListCampaigns(ctx context.Context, states ...domain.CampaignState) ([]*domain.Campaign, error)
	// StartCampaign moves a draft campaign to active and stores its audience snapshot.
	// It reports false when the campaign was not in draft.
	StartCampaign(ctx context.Context, id domain.CampaignID, audience domain.UserSet, at time.Time) (bool, error)
	// TransitionCampaign is a conditional state update; it reports false when the
	// current state is not from.
	TransitionCampaign(ctx context.Context, id domain.CampaignID, from, to domain.CampaignState, at time.Time) (bool, error)
}

type Responses interface {
	// UpsertResponse stores r, overwriting any previous answer. created reports a first answer.
	UpsertResponse(ctx context.Context, r domain.ResponseRecord) (created bool, err error)
	GetResponse(ctx context.Context, cid domain.CampaignID, uid domain.UserID) (*domain.ResponseRecord, error)
	ListResponses(ctx context.Context, cid domain.CampaignID) ([]domain.ResponseRecord, error)
}

type Reminders interface {
	ReminderStates(ctx context.Context, cid domain.CampaignID) (map[domain.UserID]domain.ReminderState, error)
	ClaimReminder(ctx context.Context, c ReminderClaim) (bool, error)
}

type Admins interface {
	GetAdmin(ctx context.Context, uid domain.UserID) (*domain.AdminUser, error)
	PutAdmin(ctx context.Context, a domain.AdminUser) error
	// DeleteAdmin removes uid unless it is the last admin (domain.ErrLastAdmin).
	DeleteAdmin(ctx context.Context, uid domain.UserID) error
	ListAdmins(ctx context.Context) ([]domain.AdminUser, error)
}

type Users interface {
	// UpsertUser registers u. An existing user's Active flag is preserved.
	UpsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, uid domain.UserID) (*domain.User, error)
	SetUserActive(ctx context.Context, uid domain.UserID, active bool, at time.Time) error
}

type Audit interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Store is the full persistence API used by the survey services.
type Store interface {
	Lists
	Campaigns
	Responses
	Reminders
	Admins
	Users
	Audit
	Close() error
}
