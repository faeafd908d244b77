package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"surveybot/internal/domain"
)

type respKey struct {
	cid domain.CampaignID
	uid domain.UserID
}

// memoryStore keeps everything in maps behind a single mutex.
// Values are copied on the way in and out so callers never share state.
type memoryStore struct {
	mu sync.Mutex

	listSeq     int64
	campaignSeq int64

	lists     map[domain.ListID]*domain.UserList
	campaigns map[domain.CampaignID]*domain.Campaign
	responses map[respKey]domain.ResponseRecord
	reminders map[respKey]domain.ReminderState
	admins    map[domain.UserID]domain.AdminUser
	users     map[domain.UserID]domain.User
	audit     []AuditEntry
}

// NewMemory returns a non-durable Store.
func NewMemory() Store {
	return &memoryStore{
		lists:     map[domain.ListID]*domain.UserList{},
		campaigns: map[domain.CampaignID]*domain.Campaign{},
		responses: map[respKey]domain.ResponseRecord{},
		reminders: map[respKey]domain.ReminderState{},
		admins:    map[domain.UserID]domain.AdminUser{},
		users:     map[domain.UserID]domain.User{},
	}
}

func (s *memoryStore) Close() error { return nil }

func copyList(l *domain.UserList) *domain.UserList {
	cp := *l
	cp.Included = l.Included.Clone()
	cp.Excluded = l.Excluded.Clone()
	return &cp
}

func copyCampaign(c *domain.Campaign, withAudience bool) *domain.Campaign {
	cp := *c
	cp.Question.Choices = append([]string(nil), c.Question.Choices...)
	if c.Policy != nil {
		p := *c.Policy
		cp.Policy = &p
	}
	cp.Audience = nil
	if withAudience {
		cp.Audience = c.Audience.Clone()
	}
	return &cp
}

func (s *memoryStore) CreateList(_ context.Context, l *domain.UserList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listSeq++
	l.ID = s.listSeq
	s.lists[l.ID] = copyList(l)
	return nil
}

func (s *memoryStore) GetList(_ context.Context, id domain.ListID) (*domain.UserList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyList(l), nil
}

func (s *memoryStore) SaveList(_ context.Context, l *domain.UserList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[l.ID]; !ok {
		return domain.ErrNotFound
	}
	s.lists[l.ID] = copyList(l)
	return nil
}

func (s *memoryStore) ListLists(_ context.Context) ([]*domain.UserList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.UserList, 0, len(s.lists))
	for _, l := range s.lists {
		out = append(out, copyList(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignSeq++
	c.ID = s.campaignSeq
	s.campaigns[c.ID] = copyCampaign(c, true)
	return nil
}

func (s *memoryStore) GetCampaign(_ context.Context, id domain.CampaignID) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCampaign(c, true), nil
}

func (s *memoryStore) ListCampaigns(_ context.Context, states ...domain.CampaignState) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[domain.CampaignState]bool{}
	for _, st := range states {
		want[st] = true
	}
	out := make([]*domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if len(want) > 0 && !want[c.State] {
			continue
		}
		out = append(out, copyCampaign(c, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memoryStore) StartCampaign(_ context.Context, id domain.CampaignID, audience domain.UserSet, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.State != domain.StateDraft {
		return false, nil
	}
	c.State = domain.StateActive
	c.StartedAt = at
	c.Audience = audience.Clone()
	return true, nil
}

func (s *memoryStore) TransitionCampaign(_ context.Context, id domain.CampaignID, from, to domain.CampaignState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.State != from {
		return false, nil
	}
	c.State = to
	switch to {
	case domain.StateStopped:
		c.StoppedAt = at
	case domain.StateCompleted:
		c.CompletedAt = at
	}
	return true, nil
}

func (s *memoryStore) UpsertResponse(_ context.Context, r domain.ResponseRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := respKey{r.CampaignID, r.UserID}
	_, existed := s.responses[k]
	s.responses[k] = r
	return !existed, nil
}

func (s *memoryStore) GetResponse(_ context.Context, cid domain.CampaignID, uid domain.UserID) (*domain.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[respKey{cid, uid}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *memoryStore) ListResponses(_ context.Context, cid domain.CampaignID) ([]domain.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResponseRecord
	for k, r := range s.responses {
		if k.cid == cid {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memoryStore) ReminderStates(_ context.Context, cid domain.CampaignID) (map[domain.UserID]domain.ReminderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.UserID]domain.ReminderState{}
	for k, st := range s.reminders {
		if k.cid == cid {
			out[k.uid] = st
		}
	}
	return out, nil
}

func (s *memoryStore) ClaimReminder(_ context.Context, c ReminderClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	camp, ok := s.campaigns[c.CampaignID]
	if !ok || camp.State != domain.StateActive {
		return false, nil
	}
	k := respKey{c.CampaignID, c.UserID}
	if _, answered := s.responses[k]; answered {
		return false, nil
	}
	if c.Expected.Count >= c.Max {
		return false, nil
	}
	cur := s.reminders[k]
	if cur.Count != c.Expected.Count || cur.LastSentAt.UnixMilli() != c.Expected.LastSentAt.UnixMilli() {
		return false, nil
	}
	s.reminders[k] = domain.ReminderState{
		CampaignID: c.CampaignID,
		UserID:     c.UserID,
		Count:      c.Expected.Count + 1,
		LastSentAt: time.UnixMilli(c.At.UnixMilli()),
	}
	return true, nil
}

func (s *memoryStore) GetAdmin(_ context.Context, uid domain.UserID) (*domain.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (s *memoryStore) PutAdmin(_ context.Context, a domain.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[a.UserID] = a
	return nil
}

func (s *memoryStore) DeleteAdmin(_ context.Context, uid domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[uid]; !ok {
		return domain.ErrNotFound
	}
	if len(s.admins) <= 1 {
		return domain.ErrLastAdmin
	}
	delete(s.admins, uid)
	return nil
}

func (s *memoryStore) ListAdmins(_ context.Context) ([]domain.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AdminUser, 0, len(s.admins))
	for _, a := range s.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memoryStore) UpsertUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.users[u.ID]; ok {
		u.Active = cur.Active
	}
	s.users[u.ID] = u
	return nil
}

func (s *memoryStore) GetUser(_ context.Context, uid domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s *memoryStore) SetUserActive(_ context.Context, uid domain.UserID, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[uid]
	u.ID = uid
	u.Active = active
	u.UpdatedAt = at
	s.users[uid] = u
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	if len(s.audit) > 5000 {
		s.audit = s.audit[len(s.audit)-5000:]
	}
	return nil
}
