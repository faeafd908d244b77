package app

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/reminder"
	"surveybot/internal/survey"
)

// renderError maps core errors to a short chat reply.
func renderError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrPermissionDenied):
		return "🔒 admin only"
	case errors.Is(err, domain.ErrNotFound):
		return "❓ not found"
	case errors.Is(err, domain.ErrNotEligible):
		return "🚫 you cannot answer this campaign"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "⚠️ " + err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return "⚠️ " + err.Error()
	case errors.Is(err, domain.ErrLastAdmin):
		return "⚠️ cannot revoke the last admin"
	case errors.Is(err, domain.ErrBusy):
		return "⏳ busy, try again later"
	default:
		return "💥 internal error"
	}
}

func badArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func parseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, badArg("bad %s id %q", what, raw)
	}
	return id, nil
}

func argID(what string, args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, badArg("missing %s id", what)
	}
	return parseID(what, args[i])
}

func parseUserIDs(args []string) ([]domain.UserID, error) {
	if len(args) == 0 {
		return nil, badArg("no user ids given")
	}
	out := make([]domain.UserID, 0, len(args))
	for _, a := range args {
		// Allow "1,2,3" as well as "1 2 3".
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := parseID("user", part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// parsePolicy reads --interval and --max. It returns nil when neither is set.
// --max 0 turns reminders off for the campaign.
func parsePolicy(flags map[string]string) (*domain.ReminderPolicy, error) {
	rawInterval, hasInterval := flags["interval"]
	rawMax, hasMax := flags["max"]
	if !hasInterval && !hasMax {
		return nil, nil
	}
	var p domain.ReminderPolicy
	if hasInterval {
		d, err := time.ParseDuration(strings.TrimSpace(rawInterval))
		if err != nil || d <= 0 {
			return nil, badArg("bad --interval %q", rawInterval)
		}
		p.MinInterval = d
	}
	if hasMax {
		n, err := strconv.Atoi(strings.TrimSpace(rawMax))
		if err != nil || n < 0 {
			return nil, badArg("bad --max %q", rawMax)
		}
		p.MaxCount = n
		if n == 0 {
			p.MaxCount = domain.RemindersOff
		}
	}
	return &p, nil
}

func parseChoices(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func esc(s string) string { return html.EscapeString(s) }

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func fmtUsers(ids []domain.UserID, limit int) string {
	if len(ids) == 0 {
		return "<i>none</i>"
	}
	parts := make([]string, 0, min(len(ids), limit))
	for i, id := range ids {
		if i == limit {
			break
		}
		parts = append(parts, "<code>"+strconv.FormatInt(id, 10)+"</code>")
	}
	s := strings.Join(parts, ", ")
	if len(ids) > limit {
		s += fmt.Sprintf(" … (+%d)", len(ids)-limit)
	}
	return s
}

func stateIcon(s domain.CampaignState) string {
	switch s {
	case domain.StateDraft:
		return "📝"
	case domain.StateActive:
		return "🟢"
	case domain.StateStopped:
		return "⏹"
	case domain.StateCompleted:
		return "✅"
	default:
		return "•"
	}
}

func formatList(l *domain.UserList) string {
	lines := []string{
		fmt.Sprintf("👥 <b>%s</b> <code>#%d</code>", esc(l.Name), l.ID),
		"included: " + fmtUsers(l.Included.Sorted(), 50),
		"excluded: " + fmtUsers(l.Excluded.Sorted(), 50),
		"updated: " + fmtTime(l.UpdatedAt),
	}
	return strings.Join(lines, "\n")
}

func formatLists(ls []*domain.UserList) string {
	if len(ls) == 0 {
		return "👥 no lists yet"
	}
	lines := []string{"👥 <b>Lists</b>"}
	for _, l := range ls {
		lines = append(lines, fmt.Sprintf("• <code>#%d</code> %s (+%d / -%d)", l.ID, esc(l.Name), l.Included.Len(), l.Excluded.Len()))
	}
	return strings.Join(lines, "\n")
}

func formatCampaign(c *domain.Campaign, comp *survey.Completion) string {
	lines := []string{
		fmt.Sprintf("%s <b>%s</b> <code>#%d</code> (%s)", stateIcon(c.State), esc(c.Name), c.ID, c.State),
		"❓ " + esc(c.Question.Prompt),
	}
	if len(c.Question.Choices) > 0 {
		lines = append(lines, "choices: "+esc(strings.Join(c.Question.Choices, " / ")))
	}
	lines = append(lines, fmt.Sprintf("list: <code>#%d</code>", c.ListID))
	switch {
	case c.Policy == nil:
	case c.Policy.MaxCount == domain.RemindersOff:
		lines = append(lines, "reminders: off")
	default:
		lines = append(lines, fmt.Sprintf("reminders: every %s, max %d", c.Policy.MinInterval, c.Policy.MaxCount))
	}
	if comp != nil {
		lines = append(lines, fmt.Sprintf("answered: %d/%d (%.0f%%)", comp.Answered, comp.Audience, comp.Rate()*100))
	}
	lines = append(lines, "created: "+fmtTime(c.CreatedAt))
	if !c.StartedAt.IsZero() {
		lines = append(lines, "started: "+fmtTime(c.StartedAt))
	}
	if !c.StoppedAt.IsZero() {
		lines = append(lines, "stopped: "+fmtTime(c.StoppedAt))
	}
	if !c.CompletedAt.IsZero() {
		lines = append(lines, "completed: "+fmtTime(c.CompletedAt))
	}
	return strings.Join(lines, "\n")
}

func formatCampaigns(cs []*domain.Campaign) string {
	if len(cs) == 0 {
		return "📋 no campaigns"
	}
	lines := []string{"📋 <b>Campaigns</b>"}
	for _, c := range cs {
		lines = append(lines, fmt.Sprintf("%s <code>#%d</code> %s", stateIcon(c.State), c.ID, esc(c.Name)))
	}
	return strings.Join(lines, "\n")
}

func formatStart(res survey.StartResult) string {
	c := res.Campaign
	if res.Empty {
		return fmt.Sprintf("⚠️ <b>%s</b> <code>#%d</code> started with an empty audience; it completes on the next check.", esc(c.Name), c.ID)
	}
	s := fmt.Sprintf("🚀 <b>%s</b> <code>#%d</code> started\naudience: %d, sent: %d", esc(c.Name), c.ID, res.AudienceSize, res.Sent)
	if res.Failed > 0 {
		s += fmt.Sprintf(", failed: %d", res.Failed)
	}
	return s
}

func formatPass(rep reminder.PassReport) string {
	s := fmt.Sprintf("🔔 reminders for <code>#%d</code>: due %d, sent %d", rep.CampaignID, rep.Due, rep.Sent)
	if rep.Failed > 0 {
		s += fmt.Sprintf(", failed %d", rep.Failed)
	}
	if rep.Capped > 0 {
		s += fmt.Sprintf(", at cap %d", rep.Capped)
	}
	if rep.Completed > 0 {
		s += "\n✅ campaign completed"
	}
	return s
}

func formatAdmins(admins []domain.AdminUser) string {
	lines := []string{"🛡 <b>Admins</b>"}
	for _, a := range admins {
		lines = append(lines, fmt.Sprintf("• <code>%d</code> since %s", a.UserID, fmtTime(a.GrantedAt)))
	}
	return strings.Join(lines, "\n")
}
