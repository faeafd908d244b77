package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/notifier"
	"surveybot/internal/survey"
	kit "surveybot/internal/transport"
	"surveybot/internal/transport/telegram/router"
	logx "surveybot/pkg/logx"
)

// onMessage registers every private-chat sender in the user directory.
func (a *App) onMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil || msg.IsGroup || msg.FromID == 0 {
		return
	}
	if err := a.dir.Register(ctx, msg.FromID, msg.FromUsername); err != nil {
		a.log.Warn("user register failed", logx.Int64("user", msg.FromID), logx.Err(err))
	}
}

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "register with the bot",
			Usage:       "/start",
			Handle:      a.cmdStart,
		},
		{
			Route:       "answer",
			Aliases:     []string{"a"},
			Description: "answer a campaign question",
			Usage:       "/answer <campaign> <text...>",
			Handle:      a.cmdAnswer,
		},

		{Route: "list create", Description: "create a user list", Usage: "/list create <name> [user...]", Access: router.AccessAdmin, Handle: a.cmdListCreate},
		{Route: "list include", Description: "add users to a list", Usage: "/list include <list> <user...>", Access: router.AccessAdmin, Handle: a.listEdit(editInclude)},
		{Route: "list exclude", Description: "exclude users from a list", Usage: "/list exclude <list> <user...>", Access: router.AccessAdmin, Handle: a.listEdit(editExclude)},
		{Route: "list remove", Description: "drop users from both sides of a list", Usage: "/list remove <list> <user...>", Access: router.AccessAdmin, Handle: a.listEdit(editRemove)},
		{Route: "list rename", Description: "rename a list", Usage: "/list rename <list> <name...>", Access: router.AccessAdmin, Handle: a.cmdListRename},
		{Route: "list show", Description: "show a list", Usage: "/list show <list>", Access: router.AccessAdmin, Handle: a.cmdListShow},
		{Route: "lists", Description: "list user lists", Usage: "/lists", Access: router.AccessAdmin, Handle: a.cmdLists},

		{
			Route:       "campaign create",
			Description: "create a draft campaign (--max 0 turns reminders off)",
			Usage:       `/campaign create <list> <name> <question...> [--choices a,b] [--interval 2h] [--max 3]`,
			Access:      router.AccessAdmin,
			Handle:      a.cmdCampaignCreate,
		},
		{
			Route:       "campaign start",
			Description: "freeze the audience and send the question",
			Usage:       "/campaign start <id>",
			Access:      router.AccessAdmin,
			// The initial broadcast runs inside the command.
			Timeout: 15 * time.Minute,
			Handle:  a.cmdCampaignStart,
		},
		{Route: "campaign stop", Description: "stop a campaign", Usage: "/campaign stop <id>", Access: router.AccessAdmin, Handle: a.cmdCampaignStop},
		{Route: "campaign show", Description: "show a campaign", Usage: "/campaign show <id>", Access: router.AccessAdmin, Handle: a.cmdCampaignShow},
		{Route: "campaigns", Description: "list campaigns", Usage: "/campaigns [draft|active|stopped|completed]", Access: router.AccessAdmin, Handle: a.cmdCampaigns},
		{Route: "unanswered", Description: "users who have not answered", Usage: "/unanswered <id>", Access: router.AccessAdmin, Handle: a.cmdUnanswered},
		{Route: "rate", Description: "completion rate", Usage: "/rate <id>", Access: router.AccessAdmin, Handle: a.cmdRate},
		{
			Route:       "remind",
			Description: "send due reminders now",
			Usage:       "/remind <id>",
			Access:      router.AccessAdmin,
			Timeout:     10 * time.Minute,
			Handle:      a.cmdRemind,
		},

		{Route: "admin grant", Description: "make a user admin", Usage: "/admin grant <user>", Access: router.AccessAdmin, Handle: a.cmdAdminGrant},
		{Route: "admin revoke", Description: "revoke admin", Usage: "/admin revoke <user>", Access: router.AccessAdmin, Handle: a.cmdAdminRevoke},
		{Route: "admins", Description: "list admins", Usage: "/admins", Access: router.AccessAdmin, Handle: a.cmdAdmins},

		{Route: "user activate", Description: "include a user in audiences again", Usage: "/user activate <user>", Access: router.AccessAdmin, Handle: a.userActive(true)},
		{Route: "user deactivate", Description: "drop a user from future audiences", Usage: "/user deactivate <user>", Access: router.AccessAdmin, Handle: a.userActive(false)},
	}
}

func (a *App) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{
		Scope:  notifier.AnswerScope,
		Action: notifier.AnswerAction,
		Handle: a.cbAnswer,
	}}
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	if err := a.dir.Register(ctx, req.FromID, req.FromUsername); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "👋 You are registered. Questions will arrive here; answer with the buttons or <code>/answer &lt;campaign&gt; &lt;text&gt;</code>.")
}

func (a *App) cmdAnswer(ctx context.Context, req *router.Request) error {
	// Raw args so answers may contain dashes.
	cid, err := argID("campaign", req.RawArgs, 0)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(req.RawArgs[1:], " "))
	rec, err := a.tracker.RecordResponse(ctx, cid, req.FromID, text)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("✅ answer recorded for <code>#%d</code>: %s", cid, esc(rec.Answer)))
}

// cbAnswer handles "survey:answer:<campaign>:<choice>" button presses.
func (a *App) cbAnswer(ctx context.Context, req *router.Request, payload string) error {
	rawCID, rawIdx, ok := strings.Cut(payload, ":")
	if !ok {
		return badArg("bad answer payload %q", payload)
	}
	cid, err := parseID("campaign", rawCID)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(rawIdx)
	if err != nil {
		return badArg("bad choice %q", rawIdx)
	}
	rec, err := a.tracker.RecordChoice(ctx, cid, req.FromID, idx)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("✅ answer recorded for <code>#%d</code>: %s", cid, esc(rec.Answer)))
}

func (a *App) cmdListCreate(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return badArg("missing list name")
	}
	var include []domain.UserID
	if len(req.Args) > 1 {
		ids, err := parseUserIDs(req.Args[1:])
		if err != nil {
			return err
		}
		include = ids
	}
	l, err := a.lists.Create(ctx, req.FromID, req.Args[0], include...)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "✅ list created\n"+formatList(l))
}

type editKind int

const (
	editInclude editKind = iota
	editExclude
	editRemove
)

func (a *App) listEdit(kind editKind) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		id, err := argID("list", req.Args, 0)
		if err != nil {
			return err
		}
		var users []domain.UserID
		if len(req.Args) > 1 {
			if users, err = parseUserIDs(req.Args[1:]); err != nil {
				return err
			}
		}
		var edit domain.ListEdit
		switch kind {
		case editInclude:
			edit.Include = users
		case editExclude:
			edit.Exclude = users
		case editRemove:
			edit.Remove = users
		}
		l, err := a.lists.Update(ctx, req.FromID, id, edit)
		if err != nil {
			return err
		}
		return req.ReplyHTML(ctx, formatList(l))
	}
}

func (a *App) cmdListRename(ctx context.Context, req *router.Request) error {
	id, err := argID("list", req.Args, 0)
	if err != nil {
		return err
	}
	l, err := a.lists.Update(ctx, req.FromID, id, domain.ListEdit{Name: req.Rest(1)})
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatList(l))
}

func (a *App) cmdListShow(ctx context.Context, req *router.Request) error {
	id, err := argID("list", req.Args, 0)
	if err != nil {
		return err
	}
	l, err := a.lists.Get(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatList(l))
}

func (a *App) cmdLists(ctx context.Context, req *router.Request) error {
	ls, err := a.lists.List(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatLists(ls))
}

func (a *App) cmdCampaignCreate(ctx context.Context, req *router.Request) error {
	listID, err := argID("list", req.Args, 0)
	if err != nil {
		return err
	}
	if len(req.Args) < 3 {
		return badArg("usage: /campaign create <list> <name> <question...>")
	}
	policy, err := parsePolicy(req.Flags)
	if err != nil {
		return err
	}
	c, err := a.campaigns.Create(ctx, req.FromID, survey.CreateCampaign{
		Name:     req.Args[1],
		ListID:   listID,
		Question: domain.Question{Prompt: req.Rest(2), Choices: parseChoices(req.Flags["choices"])},
		Policy:   policy,
	})
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "📝 draft created\n"+formatCampaign(c, nil)+
		fmt.Sprintf("\n\nstart it with <code>/campaign start %d</code>", c.ID))
}

func (a *App) cmdCampaignStart(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	res, err := a.campaigns.Start(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatStart(res))
}

func (a *App) cmdCampaignStop(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	c, err := a.campaigns.Stop(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatCampaign(c, nil))
}

func (a *App) cmdCampaignShow(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	c, err := a.campaigns.Get(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	var comp *survey.Completion
	if c.State != domain.StateDraft {
		cc, err := a.campaigns.CompletionRate(ctx, req.FromID, id)
		if err != nil {
			return err
		}
		comp = &cc
	}
	return req.ReplyHTML(ctx, formatCampaign(c, comp))
}

func (a *App) cmdCampaigns(ctx context.Context, req *router.Request) error {
	var states []domain.CampaignState
	for _, raw := range req.Args {
		st, ok := domain.ParseCampaignState(raw)
		if !ok {
			return badArg("unknown state %q", raw)
		}
		states = append(states, st)
	}
	cs, err := a.campaigns.List(ctx, req.FromID, states...)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatCampaigns(cs))
}

func (a *App) cmdUnanswered(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	users, err := a.campaigns.Unanswered(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("⏳ <b>%d</b> unanswered in <code>#%d</code>\n%s", users.Len(), id, fmtUsers(users.Sorted(), 100)))
}

func (a *App) cmdRate(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	comp, err := a.campaigns.CompletionRate(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("📊 <code>#%d</code> (%s): %d/%d answered, %.1f%%",
		id, comp.State, comp.Answered, comp.Audience, comp.Rate()*100))
}

func (a *App) cmdRemind(ctx context.Context, req *router.Request) error {
	id, err := argID("campaign", req.Args, 0)
	if err != nil {
		return err
	}
	rep, err := a.reminders.RemindNow(ctx, req.FromID, id)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatPass(rep))
}

func (a *App) cmdAdminGrant(ctx context.Context, req *router.Request) error {
	uid, err := argID("user", req.Args, 0)
	if err != nil {
		return err
	}
	if err := a.gate.Grant(ctx, req.FromID, uid); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("🛡 <code>%d</code> is now admin", uid))
}

func (a *App) cmdAdminRevoke(ctx context.Context, req *router.Request) error {
	uid, err := argID("user", req.Args, 0)
	if err != nil {
		return err
	}
	if err := a.gate.Revoke(ctx, req.FromID, uid); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("🛡 <code>%d</code> is no longer admin", uid))
}

func (a *App) cmdAdmins(ctx context.Context, req *router.Request) error {
	admins, err := a.gate.List(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, formatAdmins(admins))
}

func (a *App) userActive(active bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		uid, err := argID("user", req.Args, 0)
		if err != nil {
			return err
		}
		if err := a.dir.SetActive(ctx, req.FromID, uid, active); err != nil {
			return err
		}
		state := "inactive"
		if active {
			state = "active"
		}
		return req.ReplyHTML(ctx, fmt.Sprintf("👤 <code>%d</code> is %s", uid, state))
	}
}
