package domain

import (
	"testing"
	"time"
)

func TestReminderPolicyDue(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := ReminderPolicy{MinInterval: time.Hour, MaxCount: 2}

	tests := []struct {
		name   string
		st     ReminderState
		now    time.Time
		manual bool
		want   bool
	}{
		{name: "never sent", st: ReminderState{}, now: t0, want: true},
		{name: "interval not elapsed", st: ReminderState{Count: 1, LastSentAt: t0}, now: t0.Add(30 * time.Minute), want: false},
		{name: "interval elapsed exactly", st: ReminderState{Count: 1, LastSentAt: t0}, now: t0.Add(time.Hour), want: true},
		{name: "cap reached", st: ReminderState{Count: 2, LastSentAt: t0}, now: t0.Add(10 * time.Hour), want: false},
		{name: "manual bypasses interval", st: ReminderState{Count: 1, LastSentAt: t0}, now: t0.Add(time.Minute), manual: true, want: true},
		{name: "manual respects cap", st: ReminderState{Count: 2, LastSentAt: t0}, now: t0.Add(time.Minute), manual: true, want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := p.Due(tc.st, tc.now, tc.manual); got != tc.want {
				t.Fatalf("Due()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestReminderPolicyZeroMaxNeverDue(t *testing.T) {
	t.Parallel()
	p := ReminderPolicy{MinInterval: time.Minute, MaxCount: 0}
	if p.Due(ReminderState{}, time.Now(), true) {
		t.Fatalf("max_count=0 must disable reminders")
	}
}

func TestReminderPolicyEffective(t *testing.T) {
	t.Parallel()
	def := ReminderPolicy{MinInterval: time.Hour, MaxCount: 3}

	var nilPolicy *ReminderPolicy
	if got := nilPolicy.Effective(def); got != def {
		t.Fatalf("nil override: got %+v", got)
	}
	got := (&ReminderPolicy{MinInterval: 2 * time.Hour}).Effective(def)
	if got.MinInterval != 2*time.Hour || got.MaxCount != 3 {
		t.Fatalf("partial override: got %+v", got)
	}
	off := (&ReminderPolicy{MaxCount: RemindersOff}).Effective(def)
	if off.MaxCount != 0 || off.MinInterval != time.Hour {
		t.Fatalf("opt-out override: got %+v", off)
	}
	if off.Due(ReminderState{}, time.Now(), true) {
		t.Fatalf("opted-out campaign must never be due")
	}
}

func TestListEditApplyExcludedWins(t *testing.T) {
	t.Parallel()
	l := &UserList{Included: NewUserSet(1, 2), Excluded: NewUserSet()}
	ListEdit{Include: []UserID{3}, Exclude: []UserID{2}}.Apply(l)
	if !l.Included.Has(2) || !l.Excluded.Has(2) {
		t.Fatalf("user 2 should be in both sets: %+v", l)
	}
	ListEdit{Remove: []UserID{2}}.Apply(l)
	if l.Included.Has(2) || l.Excluded.Has(2) {
		t.Fatalf("remove should clear both sets: %+v", l)
	}
}

func TestQuestionNormalize(t *testing.T) {
	t.Parallel()
	q := Question{Prompt: "Lunch?", Choices: []string{"Yes", "No"}}
	if got, ok := q.Normalize(" yes "); !ok || got != "Yes" {
		t.Fatalf("Normalize(yes)=%q,%v", got, ok)
	}
	if _, ok := q.Normalize("maybe"); ok {
		t.Fatalf("maybe should be rejected")
	}
	free := Question{Prompt: "Comments?"}
	if got, ok := free.Normalize("  all good "); !ok || got != "all good" {
		t.Fatalf("free text Normalize=%q,%v", got, ok)
	}
	if _, ok := free.Normalize("   "); ok {
		t.Fatalf("blank answer should be rejected")
	}
}
