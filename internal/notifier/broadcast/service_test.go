package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"surveybot/internal/domain"
	logx "surveybot/pkg/logx"
)

type recordSender struct {
	mu   sync.Mutex
	seen []domain.UserID
	bad  domain.UserSet
}

func (r *recordSender) Send(_ context.Context, uid domain.UserID, _ domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, uid)
	if r.bad.Has(uid) {
		return domain.NewDispatchError(uid, errors.New("nope"))
	}
	return nil
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()
	rs := &recordSender{bad: domain.NewUserSet(2, 4)}
	s := New(Config{Workers: 2}, rs, logx.Nop())

	st := s.Run(context.Background(), "campaign.1", []domain.UserID{1, 2, 3, 4, 5}, domain.Message{Text: "q"})
	if st.Total != 5 || st.Sent != 3 || st.Failed != 2 {
		t.Fatalf("status=%+v", st)
	}
	if len(rs.seen) != 5 {
		t.Fatalf("seen=%v", rs.seen)
	}
	got, ok := s.Status(st.ID)
	if !ok || got.Failed != 2 || got.DoneAt.IsZero() {
		t.Fatalf("Status=%+v ok=%v", got, ok)
	}
}

func TestStatusHistoryBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordSender{}, logx.Nop())
	s.statusMax = 2
	first := s.Run(context.Background(), "a", nil, domain.Message{})
	s.Run(context.Background(), "b", nil, domain.Message{})
	s.Run(context.Background(), "c", nil, domain.Message{})
	if _, ok := s.Status(first.ID); ok {
		t.Fatalf("oldest status should be evicted")
	}
}
