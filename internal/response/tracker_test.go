package response

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

func activeCampaign(t *testing.T, st storage.Store, q domain.Question, audience ...domain.UserID) domain.CampaignID {
	t.Helper()
	ctx := context.Background()
	c := &domain.Campaign{Name: "c", Question: q, State: domain.StateDraft, CreatedAt: time.Now()}
	if err := st.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if ok, err := st.StartCampaign(ctx, c.ID, domain.NewUserSet(audience...), time.Now()); err != nil || !ok {
		t.Fatalf("StartCampaign ok=%v err=%v", ok, err)
	}
	return c.ID
}

func TestRecordResponseUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	cid := activeCampaign(t, st, domain.Question{Prompt: "mood?"}, 1, 2)
	tr := New(st, nil, logx.Nop())

	hooks := 0
	tr.SetAcceptHook(func(context.Context, domain.CampaignID) { hooks++ })

	if _, err := tr.RecordResponse(ctx, cid, 1, "good"); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	rec, err := tr.RecordResponse(ctx, cid, 1, "great")
	if err != nil || rec.Answer != "great" {
		t.Fatalf("resubmit rec=%+v err=%v", rec, err)
	}
	rs, _ := tr.Responses(ctx, cid)
	if len(rs) != 1 || rs[0].Answer != "great" {
		t.Fatalf("responses=%+v", rs)
	}
	if hooks != 1 {
		t.Fatalf("hook ran %d times, want once for the first answer", hooks)
	}
	un, _ := tr.UnansweredUsers(ctx, cid)
	if !reflect.DeepEqual(un.Sorted(), []domain.UserID{2}) {
		t.Fatalf("unanswered=%v", un.Sorted())
	}
}

func TestRecordResponseRejectsOutsider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	cid := activeCampaign(t, st, domain.Question{Prompt: "q"}, 1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	tr := New(st, bus, logx.Nop())

	if _, err := tr.RecordResponse(ctx, cid, 99, "x"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("err=%v want ErrNotEligible", err)
	}
	if _, err := st.GetResponse(ctx, cid, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider response stored: %v", err)
	}
	states, _ := st.ReminderStates(ctx, cid)
	if len(states) != 0 {
		t.Fatalf("reminder state touched: %+v", states)
	}
	if e := <-events; e.Type != eventbus.ResponseRejected {
		t.Fatalf("event=%s", e.Type)
	}
}

func TestRecordResponseInactiveCampaign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	cid := activeCampaign(t, st, domain.Question{Prompt: "q"}, 1)
	if ok, _ := st.TransitionCampaign(ctx, cid, domain.StateActive, domain.StateStopped, time.Now()); !ok {
		t.Fatalf("stop failed")
	}
	tr := New(st, nil, logx.Nop())
	if _, err := tr.RecordResponse(ctx, cid, 1, "x"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("err=%v", err)
	}
	if _, err := tr.RecordResponse(ctx, 404, 1, "x"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("unknown campaign err=%v", err)
	}
}

func TestRecordChoice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	cid := activeCampaign(t, st, domain.Question{Prompt: "q", Choices: []string{"Yes", "No"}}, 1)
	tr := New(st, nil, logx.Nop())

	if _, err := tr.RecordResponse(ctx, cid, 1, "maybe"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err=%v want ErrInvalidArgument", err)
	}
	rec, err := tr.RecordResponse(ctx, cid, 1, "yes")
	if err != nil || rec.Answer != "Yes" {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	rec, err = tr.RecordChoice(ctx, cid, 1, 1)
	if err != nil || rec.Answer != "No" {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	if _, err := tr.RecordChoice(ctx, cid, 1, 5); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err=%v", err)
	}
}

func TestRecordChoiceChecksEligibilityFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	cid := activeCampaign(t, st, domain.Question{Prompt: "q", Choices: []string{"Yes", "No"}}, 1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	tr := New(st, bus, logx.Nop())

	tests := []struct {
		name string
		uid  domain.UserID
		idx  int
	}{
		{name: "outsider with valid index", uid: 99, idx: 0},
		{name: "outsider with stale index", uid: 99, idx: 7},
	}
	for _, tt := range tests {
		if _, err := tr.RecordChoice(ctx, cid, tt.uid, tt.idx); !errors.Is(err, domain.ErrNotEligible) {
			t.Fatalf("%s: err=%v want ErrNotEligible", tt.name, err)
		}
		if e := <-events; e.Type != eventbus.ResponseRejected {
			t.Fatalf("%s: event=%s", tt.name, e.Type)
		}
	}
	if _, err := tr.RecordChoice(ctx, 404, 1, 0); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("unknown campaign err=%v", err)
	}
	<-events
	if _, err := tr.RecordChoice(ctx, cid, 1, 7); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("member with stale index err=%v", err)
	}
	if e := <-events; e.Type != eventbus.ResponseRejected {
		t.Fatalf("event=%s", e.Type)
	}
}
