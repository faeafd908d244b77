package eventbus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: CampaignStarted})
	b.Publish(Event{Type: CampaignStopped})

	if e := <-a; e.Type != CampaignStarted || e.Time.IsZero() {
		t.Fatalf("first subscriber got %+v", e)
	}
	if len(c) != 2 {
		t.Fatalf("second subscriber buffered %d events, want 2", len(c))
	}
	if Dropped(b) != 1 {
		t.Fatalf("dropped=%d want 1", Dropped(b))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: ResponseAccepted})
}

func TestEncodeEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body, err := encodeEvent(Event{Type: ReminderSent, Time: at, Data: ReminderData{CampaignID: 3, UserID: 9, Count: 1, Trigger: "tick"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got struct {
		Type string       `json:"type"`
		Time time.Time    `json:"time"`
		Data ReminderData `json:"data"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != ReminderSent || !got.Time.Equal(at) || got.Data.UserID != 9 || got.Data.Count != 1 {
		t.Fatalf("got %+v", got)
	}
}
