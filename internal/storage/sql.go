package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/domain"
	logx "surveybot/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// sqlStore implements Store on database/sql for both SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound per dialect.
// Timestamps are unix milliseconds; 0 means unset.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// ---- lists ----

func (s *sqlStore) CreateList(ctx context.Context, l *domain.UserList) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.q(`INSERT INTO user_lists(name, created_by, created_at, updated_at) VALUES(?,?,?,?) RETURNING id`),
			l.Name, l.CreatedBy, toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
		).Scan(&l.ID)
		if err != nil {
			return err
		}
		return s.writeMembers(ctx, tx, l)
	})
}

func (s *sqlStore) writeMembers(ctx context.Context, tx *sql.Tx, l *domain.UserList) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM list_members WHERE list_id = ?`), l.ID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO list_members(list_id, user_id, mode) VALUES(?,?,?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, uid := range l.Included.Sorted() {
		if _, err := stmt.ExecContext(ctx, l.ID, uid, "include"); err != nil {
			return err
		}
	}
	for _, uid := range l.Excluded.Sorted() {
		if _, err := stmt.ExecContext(ctx, l.ID, uid, "exclude"); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) GetList(ctx context.Context, id domain.ListID) (*domain.UserList, error) {
	l := &domain.UserList{ID: id, Included: domain.UserSet{}, Excluded: domain.UserSet{}}
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT name, created_by, created_at, updated_at FROM user_lists WHERE id = ?`), id,
	).Scan(&l.Name, &l.CreatedBy, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt, l.UpdatedAt = fromMillis(created), fromMillis(updated)

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT user_id, mode FROM list_members WHERE list_id = ?`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		var mode string
		if err := rows.Scan(&uid, &mode); err != nil {
			return nil, err
		}
		if mode == "exclude" {
			l.Excluded.Add(uid)
		} else {
			l.Included.Add(uid)
		}
	}
	return l, rows.Err()
}

func (s *sqlStore) SaveList(ctx context.Context, l *domain.UserList) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE user_lists SET name = ?, updated_at = ? WHERE id = ?`),
			l.Name, toMillis(l.UpdatedAt), l.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return s.writeMembers(ctx, tx, l)
	})
}

func (s *sqlStore) ListLists(ctx context.Context) ([]*domain.UserList, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id FROM user_lists ORDER BY id`))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*domain.UserList, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetList(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ---- campaigns ----

const campaignCols = `id, name, question, list_id, state, policy_interval_ms, policy_max, created_by, created_at, started_at, stopped_at, completed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanCampaign(r rowScanner) (*domain.Campaign, error) {
	var (
		c                                   domain.Campaign
		question, state                     string
		intervalMS                          int64
		maxCount                            int
		created, started, stopped, complete int64
	)
	if err := r.Scan(&c.ID, &c.Name, &question, &c.ListID, &state, &intervalMS, &maxCount,
		&c.CreatedBy, &created, &started, &stopped, &complete); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(question), &c.Question); err != nil {
		return nil, fmt.Errorf("campaign %d: decode question: %w", c.ID, err)
	}
	c.State = domain.CampaignState(state)
	if intervalMS > 0 || maxCount != 0 {
		c.Policy = &domain.ReminderPolicy{MinInterval: time.Duration(intervalMS) * time.Millisecond, MaxCount: maxCount}
	}
	c.CreatedAt = fromMillis(created)
	c.StartedAt = fromMillis(started)
	c.StoppedAt = fromMillis(stopped)
	c.CompletedAt = fromMillis(complete)
	return &c, nil
}

func (s *sqlStore) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	q, err := json.Marshal(c.Question)
	if err != nil {
		return err
	}
	var intervalMS int64
	var maxCount int
	if c.Policy != nil {
		intervalMS = c.Policy.MinInterval.Milliseconds()
		maxCount = c.Policy.MaxCount
	}
	return s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO campaigns(name, question, list_id, state, policy_interval_ms, policy_max, created_by, created_at, started_at, stopped_at, completed_at)
		     VALUES(?,?,?,?,?,?,?,?,0,0,0) RETURNING id`),
		c.Name, string(q), c.ListID, string(c.State), intervalMS, maxCount, c.CreatedBy, toMillis(c.CreatedAt),
	).Scan(&c.ID)
}

func (s *sqlStore) GetCampaign(ctx context.Context, id domain.CampaignID) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, s.q(`SELECT `+campaignCols+` FROM campaigns WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT user_id FROM campaign_audience WHERE campaign_id = ?`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.Audience = domain.UserSet{}
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		c.Audience.Add(uid)
	}
	return c, rows.Err()
}

func (s *sqlStore) ListCampaigns(ctx context.Context, states ...domain.CampaignState) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignCols + ` FROM campaigns`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		ph := make([]string, len(states))
		for i, st := range states {
			ph[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE state IN (` + strings.Join(ph, ",") + `)`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) StartCampaign(ctx context.Context, id domain.CampaignID, audience domain.UserSet, at time.Time) (bool, error) {
	started := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE campaigns SET state = ?, started_at = ? WHERE id = ? AND state = ?`),
			string(domain.StateActive), toMillis(at), id, string(domain.StateDraft),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM campaigns WHERE id = ?`), id).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO campaign_audience(campaign_id, user_id) VALUES(?,?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, uid := range audience.Sorted() {
			if _, err := stmt.ExecContext(ctx, id, uid); err != nil {
				return err
			}
		}
		started = true
		return nil
	})
	return started, err
}

func (s *sqlStore) TransitionCampaign(ctx context.Context, id domain.CampaignID, from, to domain.CampaignState, at time.Time) (bool, error) {
	col := ""
	switch to {
	case domain.StateStopped:
		col = "stopped_at"
	case domain.StateCompleted:
		col = "completed_at"
	case domain.StateActive:
		col = "started_at"
	default:
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE campaigns SET state = ?, `+col+` = ? WHERE id = ? AND state = ?`),
		string(to), toMillis(at), id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM campaigns WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	return false, err
}

// ---- responses ----

func (s *sqlStore) UpsertResponse(ctx context.Context, r domain.ResponseRecord) (bool, error) {
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			s.q(`SELECT 1 FROM responses WHERE campaign_id = ? AND user_id = ?`), r.CampaignID, r.UserID,
		).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return err
		}
		_, err = tx.ExecContext(ctx,
			s.q(`INSERT INTO responses(campaign_id, user_id, answer, responded_at) VALUES(?,?,?,?)
			     ON CONFLICT(campaign_id, user_id) DO UPDATE SET answer = excluded.answer, responded_at = excluded.responded_at`),
			r.CampaignID, r.UserID, r.Answer, toMillis(r.RespondedAt),
		)
		return err
	})
	return created, err
}

func (s *sqlStore) GetResponse(ctx context.Context, cid domain.CampaignID, uid domain.UserID) (*domain.ResponseRecord, error) {
	r := domain.ResponseRecord{CampaignID: cid, UserID: uid}
	var at int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT answer, responded_at FROM responses WHERE campaign_id = ? AND user_id = ?`), cid, uid,
	).Scan(&r.Answer, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.RespondedAt = fromMillis(at)
	return &r, nil
}

func (s *sqlStore) ListResponses(ctx context.Context, cid domain.CampaignID) ([]domain.ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT user_id, answer, responded_at FROM responses WHERE campaign_id = ? ORDER BY user_id`), cid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ResponseRecord
	for rows.Next() {
		r := domain.ResponseRecord{CampaignID: cid}
		var at int64
		if err := rows.Scan(&r.UserID, &r.Answer, &at); err != nil {
			return nil, err
		}
		r.RespondedAt = fromMillis(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- reminders ----

func (s *sqlStore) ReminderStates(ctx context.Context, cid domain.CampaignID) (map[domain.UserID]domain.ReminderState, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT user_id, sent_count, last_sent_at FROM reminder_states WHERE campaign_id = ?`), cid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.UserID]domain.ReminderState{}
	for rows.Next() {
		st := domain.ReminderState{CampaignID: cid}
		var last int64
		if err := rows.Scan(&st.UserID, &st.Count, &last); err != nil {
			return nil, err
		}
		st.LastSentAt = fromMillis(last)
		out[st.UserID] = st
	}
	return out, rows.Err()
}

const claimGuard = ` AND NOT EXISTS (SELECT 1 FROM responses r WHERE r.campaign_id = ? AND r.user_id = ?)
	AND EXISTS (SELECT 1 FROM campaigns c WHERE c.id = ? AND c.state = ?)`

// ClaimReminder is a single conditional statement so it is atomic with respect
// to concurrent responses, stops and other passes.
func (s *sqlStore) ClaimReminder(ctx context.Context, c ReminderClaim) (bool, error) {
	if c.Expected.Count >= c.Max {
		return false, nil
	}
	at := c.At.UnixMilli()
	guardArgs := []any{c.CampaignID, c.UserID, c.CampaignID, string(domain.StateActive)}

	var (
		res sql.Result
		err error
	)
	if c.Expected.Count == 0 && c.Expected.LastSentAt.IsZero() {
		args := append([]any{c.CampaignID, c.UserID, at}, guardArgs...)
		res, err = s.db.ExecContext(ctx, s.q(`INSERT INTO reminder_states(campaign_id, user_id, sent_count, last_sent_at)
			SELECT CAST(? AS BIGINT), CAST(? AS BIGINT), 1, CAST(? AS BIGINT) WHERE 1 = 1`+claimGuard+`
			ON CONFLICT(campaign_id, user_id) DO NOTHING`), args...)
	} else {
		args := append([]any{at, c.CampaignID, c.UserID, c.Expected.Count, toMillis(c.Expected.LastSentAt), c.Max}, guardArgs...)
		res, err = s.db.ExecContext(ctx, s.q(`UPDATE reminder_states SET sent_count = sent_count + 1, last_sent_at = ?
			WHERE campaign_id = ? AND user_id = ? AND sent_count = ? AND last_sent_at = ? AND sent_count < ?`+claimGuard), args...)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---- admins ----

func (s *sqlStore) GetAdmin(ctx context.Context, uid domain.UserID) (*domain.AdminUser, error) {
	a := domain.AdminUser{UserID: uid}
	var tier int
	var at int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT tier, granted_by, granted_at FROM admins WHERE user_id = ?`), uid,
	).Scan(&tier, &a.GrantedBy, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Tier = domain.Tier(tier)
	a.GrantedAt = fromMillis(at)
	return &a, nil
}

func (s *sqlStore) PutAdmin(ctx context.Context, a domain.AdminUser) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO admins(user_id, tier, granted_by, granted_at) VALUES(?,?,?,?)
		     ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, granted_by = excluded.granted_by, granted_at = excluded.granted_at`),
		a.UserID, int(a.Tier), a.GrantedBy, toMillis(a.GrantedAt),
	)
	return err
}

func (s *sqlStore) DeleteAdmin(ctx context.Context, uid domain.UserID) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM admins WHERE user_id = ? AND (SELECT COUNT(*) FROM admins) > 1`), uid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetAdmin(ctx, uid); err != nil {
		return err
	}
	return domain.ErrLastAdmin
}

func (s *sqlStore) ListAdmins(ctx context.Context) ([]domain.AdminUser, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT user_id, tier, granted_by, granted_at FROM admins ORDER BY user_id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AdminUser
	for rows.Next() {
		var a domain.AdminUser
		var tier int
		var at int64
		if err := rows.Scan(&a.UserID, &tier, &a.GrantedBy, &at); err != nil {
			return nil, err
		}
		a.Tier = domain.Tier(tier)
		a.GrantedAt = fromMillis(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- users ----

func (s *sqlStore) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO users(id, username, active, updated_at) VALUES(?,?,?,?)
		     ON CONFLICT(id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at`),
		u.ID, u.Username, boolInt(u.Active), toMillis(u.UpdatedAt),
	)
	return err
}

func (s *sqlStore) GetUser(ctx context.Context, uid domain.UserID) (*domain.User, error) {
	u := domain.User{ID: uid}
	var active int
	var at int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT username, active, updated_at FROM users WHERE id = ?`), uid,
	).Scan(&u.Username, &active, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	u.UpdatedAt = fromMillis(at)
	return &u, nil
}

func (s *sqlStore) SetUserActive(ctx context.Context, uid domain.UserID, active bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO users(id, username, active, updated_at) VALUES(?,'',?,?)
		     ON CONFLICT(id) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`),
		uid, boolInt(active), toMillis(at),
	)
	return err
}

// ---- audit ----

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO audit(at, actor_id, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?)`),
		e.At.UnixMilli(), e.ActorID, e.Action, e.Target, boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}
