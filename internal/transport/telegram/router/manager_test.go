package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"surveybot/internal/domain"
	kit "surveybot/internal/transport"
	logx "surveybot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	answered []string
	notify   chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{notify: make(chan struct{}, 64)} }

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{to: to, text: text, opt: opt})
	f.mu.Unlock()
	f.notify <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	f.answered = append(f.answered, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) waitSent(t *testing.T, n int) []sent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := append([]sent(nil), f.sent...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d sends", n)
		}
	}
}

type adminSet map[int64]bool

func (a adminSet) Authorize(ctx context.Context, uid domain.UserID, required domain.Tier) error {
	if required == domain.TierAdmin && !a[uid] {
		return domain.ErrPermissionDenied
	}
	return nil
}

func startManager(t *testing.T, cmds []Command, cbs []CallbackRoute, opt Options) (*fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := newFakeAdapter()
	m := New(logx.Nop(), ad, adminSet{1: true}, opt)
	ctx, cancel := context.WithCancel(context.Background())
	m.SetRegistry(ctx, cmds, cbs)
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ad, updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func TestAdminCommandDeniedForNonAdmin(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	cmds := []Command{{Route: "campaign start", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request) error {
		ran <- struct{}{}
		return nil
	}}}
	render := func(err error) string {
		if errors.Is(err, domain.ErrPermissionDenied) {
			return "admins only"
		}
		return ""
	}
	ad, updates := startManager(t, cmds, nil, Options{Workers: 1, RenderError: render})

	updates <- msg(2, "/campaign start 5")
	got := ad.waitSent(t, 1)
	if got[0].text != "admins only" {
		t.Fatalf("reply=%q", got[0].text)
	}
	select {
	case <-ran:
		t.Fatalf("handler must not run for non-admin")
	default:
	}
}

func TestSubcommandAndAliasRouting(t *testing.T) {
	t.Parallel()
	cmds := []Command{{Route: "campaign start", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "start "+strings.Join(req.Args, ",")+" via "+strings.Join(req.Path, "/"))
	}}}
	ad, updates := startManager(t, cmds, nil, Options{Workers: 1})

	updates <- msg(1, "/campaign start 5")
	updates <- msg(1, "/campaign_start@surveybot 6")
	got := ad.waitSent(t, 2)
	texts := []string{got[0].text, got[1].text}
	if !contains(texts, "start 5 via campaign/start") || !contains(texts, "start 6 via campaign/start") {
		t.Fatalf("replies=%q", texts)
	}
}

func TestContainerNodeShowsHelp(t *testing.T) {
	t.Parallel()
	cmds := []Command{{Route: "list create", Description: "create a list", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request) error { return nil }}}
	ad, updates := startManager(t, cmds, nil, Options{Workers: 1})

	updates <- msg(2, "/list")
	got := ad.waitSent(t, 1)
	if !strings.Contains(got[0].text, "/list create") || got[0].opt == nil || got[0].opt.ParseMode != "HTML" {
		t.Fatalf("help=%q", got[0].text)
	}
}

func TestCallbackRoute(t *testing.T) {
	t.Parallel()
	cbs := []CallbackRoute{{Scope: "survey", Action: "answer", Handle: func(ctx context.Context, req *Request, payload string) error {
		return req.Reply(ctx, "payload="+payload)
	}}}
	ad, updates := startManager(t, nil, cbs, Options{Workers: 1})

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", FromID: 9, ChatID: 9, Data: "survey:answer:4:1"}}
	got := ad.waitSent(t, 1)
	if got[0].text != "payload=4:1" {
		t.Fatalf("reply=%q", got[0].text)
	}
}

func TestMessageHookSeesPlainText(t *testing.T) {
	t.Parallel()
	seen := make(chan string, 1)
	hook := func(ctx context.Context, m *kit.Message) { seen <- m.Text }
	_, updates := startManager(t, nil, nil, Options{Workers: 1, OnMessage: hook})

	updates <- msg(3, "hello")
	select {
	case got := <-seen:
		if got != "hello" {
			t.Fatalf("hook got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("hook not called")
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
