package admin

import (
	"context"
	"errors"
	"testing"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

func newGate(t *testing.T, admins ...domain.UserID) (*Gate, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	g := New(storage.NewMemory(), bus, logx.Nop())
	if _, err := g.Bootstrap(context.Background(), admins); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return g, bus
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	g, bus := newGate(t, 1)
	events, unsub := bus.Subscribe(4)
	defer unsub()
	ctx := context.Background()

	if err := g.Authorize(ctx, 1, domain.TierAdmin); err != nil {
		t.Fatalf("admin denied: %v", err)
	}
	if err := g.Authorize(ctx, 2, domain.TierUser); err != nil {
		t.Fatalf("user tier should always pass: %v", err)
	}
	if err := g.Authorize(ctx, 2, domain.TierAdmin); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err=%v want ErrPermissionDenied", err)
	}
	if e := <-events; e.Type != eventbus.AdminDenied {
		t.Fatalf("event=%s", e.Type)
	}
}

func TestGrantRevoke(t *testing.T) {
	t.Parallel()
	g, _ := newGate(t, 1)
	ctx := context.Background()

	if err := g.Grant(ctx, 2, 3); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("non-admin grant err=%v", err)
	}
	if err := g.Grant(ctx, 1, 2); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !g.IsAdmin(ctx, 2) {
		t.Fatalf("2 should be admin")
	}
	if err := g.Revoke(ctx, 2, 1); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := g.Revoke(ctx, 2, 2); !errors.Is(err, domain.ErrLastAdmin) {
		t.Fatalf("revoking last admin err=%v", err)
	}
	list, err := g.List(ctx, 2)
	if err != nil || len(list) != 1 || list[0].UserID != 2 || list[0].GrantedBy != 1 {
		t.Fatalf("List=%+v err=%v", list, err)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()
	g, _ := newGate(t, 1, 2)
	n, err := g.Bootstrap(context.Background(), []domain.UserID{1, 2, 3, 0})
	if err != nil || n != 1 {
		t.Fatalf("Bootstrap added=%d err=%v", n, err)
	}
	ids, _ := g.AdminIDs(context.Background())
	if ids.Len() != 3 {
		t.Fatalf("ids=%v", ids.Sorted())
	}
}
