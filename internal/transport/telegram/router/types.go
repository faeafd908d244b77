package router

import (
	"context"
	"strings"
	"time"

	"surveybot/internal/domain"
	kit "surveybot/internal/transport"
	logx "surveybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "campaign start".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // overrides the manager default
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data of the form "<scope>:<action>:<payload>".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Path         []string
	Command      string
	Payload      string

	Args      []string // positionals after flag parsing
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends HTML-formatted text, optionally with inline buttons.
func (r *Request) ReplyHTML(ctx context.Context, text string, buttons ...[]kit.Button) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: buttons})
	return err
}

// Rest joins positionals from index i onward. Empty when out of range.
func (r *Request) Rest(i int) string {
	if i >= len(r.Args) {
		return ""
	}
	return strings.Join(r.Args[i:], " ")
}

// Authorizer decides whether a user may run admin commands.
type Authorizer interface {
	Authorize(ctx context.Context, userID domain.UserID, required domain.Tier) error
}

// MessageHook sees every incoming message before routing, commands included.
type MessageHook func(ctx context.Context, msg *kit.Message)

// ErrorRenderer turns a handler error into a user-facing reply. Empty means no reply.
type ErrorRenderer func(err error) string

type Options struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
	OnMessage      MessageHook
	RenderError    ErrorRenderer
}
