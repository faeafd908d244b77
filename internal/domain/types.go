package domain

import (
	"sort"
	"strings"
	"time"
)

// UserID is the chat platform user identifier.
type UserID = int64

type ListID = int64

type CampaignID = int64

// UserSet is an unordered, deduplicated set of users.
type UserSet map[UserID]struct{}

func NewUserSet(ids ...UserID) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Add(ids ...UserID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s UserSet) Remove(ids ...UserID) {
	for _, id := range ids {
		delete(s, id)
	}
}

func (s UserSet) Has(id UserID) bool {
	_, ok := s[id]
	return ok
}

func (s UserSet) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s UserSet) Sorted() []UserID {
	out := make([]UserID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Minus returns s \ other as a new set.
func (s UserSet) Minus(other UserSet) UserSet {
	out := make(UserSet, len(s))
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s UserSet) Clone() UserSet {
	out := make(UserSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// UserList is a named, dynamically composed group of users.
// Exclusion always wins over inclusion.
type UserList struct {
	ID        ListID
	Name      string
	Included  UserSet
	Excluded  UserSet
	CreatedBy UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListEdit describes a batch of membership changes applied to a UserList.
// Remove drops users from both sets.
type ListEdit struct {
	Name    string
	Include []UserID
	Exclude []UserID
	Remove  []UserID
}

func (e ListEdit) Empty() bool {
	return strings.TrimSpace(e.Name) == "" && len(e.Include) == 0 && len(e.Exclude) == 0 && len(e.Remove) == 0
}

// Apply mutates l in place.
func (e ListEdit) Apply(l *UserList) {
	if l.Included == nil {
		l.Included = UserSet{}
	}
	if l.Excluded == nil {
		l.Excluded = UserSet{}
	}
	if n := strings.TrimSpace(e.Name); n != "" {
		l.Name = n
	}
	l.Included.Remove(e.Remove...)
	l.Excluded.Remove(e.Remove...)
	l.Included.Add(e.Include...)
	l.Excluded.Add(e.Exclude...)
}

type CampaignState string

const (
	StateDraft     CampaignState = "draft"
	StateActive    CampaignState = "active"
	StateStopped   CampaignState = "stopped"
	StateCompleted CampaignState = "completed"
)

func (s CampaignState) Terminal() bool {
	return s == StateStopped || s == StateCompleted
}

func ParseCampaignState(raw string) (CampaignState, bool) {
	switch CampaignState(strings.ToLower(strings.TrimSpace(raw))) {
	case StateDraft:
		return StateDraft, true
	case StateActive:
		return StateActive, true
	case StateStopped:
		return StateStopped, true
	case StateCompleted:
		return StateCompleted, true
	default:
		return "", false
	}
}

// Question is the payload asked to every audience member.
// When Choices is non-empty the answer must match one of them.
type Question struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
}

// Normalize matches answer against the allowed choices (case-insensitive).
// It returns the canonical choice text.
func (q Question) Normalize(answer string) (string, bool) {
	a := strings.TrimSpace(answer)
	if a == "" {
		return "", false
	}
	if len(q.Choices) == 0 {
		return a, true
	}
	for _, c := range q.Choices {
		if strings.EqualFold(strings.TrimSpace(c), a) {
			return c, true
		}
	}
	return "", false
}

// Campaign is a single question round targeted at a frozen audience.
type Campaign struct {
	ID          CampaignID
	Name        string
	Question    Question
	ListID      ListID
	State       CampaignState
	Policy      *ReminderPolicy // nil means use the configured default
	CreatedBy   UserID
	CreatedAt   time.Time
	StartedAt   time.Time
	StoppedAt   time.Time
	CompletedAt time.Time

	// Audience is empty until the campaign leaves Draft.
	Audience UserSet
}

// ResponseRecord is unique per (campaign, user); resubmission overwrites it.
type ResponseRecord struct {
	CampaignID  CampaignID
	UserID      UserID
	Answer      string
	RespondedAt time.Time
}

// ReminderState tracks reminders sent to one audience member.
// A zero LastSentAt means no reminder has been sent yet.
type ReminderState struct {
	CampaignID CampaignID
	UserID     UserID
	Count      int
	LastSentAt time.Time
}

type Tier int

const (
	TierUser Tier = iota
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	default:
		return "user"
	}
}

type AdminUser struct {
	UserID    UserID
	Tier      Tier
	GrantedBy UserID
	GrantedAt time.Time
}

// User is an entry in the user directory.
type User struct {
	ID        UserID
	Username  string
	Active    bool
	UpdatedAt time.Time
}

type MessageKind string

const (
	MessageQuestion MessageKind = "question"
	MessageReminder MessageKind = "reminder"
	MessageNotice   MessageKind = "notice"
)

// Message is a dispatch request addressed to a single user.
type Message struct {
	Kind       MessageKind
	CampaignID CampaignID
	Text       string
	// Choices are offered as one-tap answers when the transport supports it.
	Choices []string
}
