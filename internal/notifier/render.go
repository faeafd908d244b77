package notifier

import (
	"fmt"
	"html"
	"strings"

	"surveybot/internal/domain"
	kit "surveybot/internal/transport"
)

// AnswerScope and AnswerAction form the callback data of choice buttons:
// "survey:answer:<campaign>:<choice index>".
const (
	AnswerScope  = "survey"
	AnswerAction = "answer"
)

func AnswerData(cid domain.CampaignID, idx int) string {
	return fmt.Sprintf("%s:%s:%d:%d", AnswerScope, AnswerAction, cid, idx)
}

// render turns a dispatch request into HTML text and an optional keyboard.
func render(msg domain.Message) (string, *kit.SendOptions) {
	var b strings.Builder
	switch msg.Kind {
	case domain.MessageQuestion:
		fmt.Fprintf(&b, "📋 <b>Survey #%d</b>\n\n", msg.CampaignID)
	case domain.MessageReminder:
		fmt.Fprintf(&b, "⏰ <b>Reminder: survey #%d</b>\n\n", msg.CampaignID)
	}
	b.WriteString(html.EscapeString(msg.Text))

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if msg.CampaignID > 0 && (msg.Kind == domain.MessageQuestion || msg.Kind == domain.MessageReminder) {
		if len(msg.Choices) > 0 {
			for i, c := range msg.Choices {
				opt.Buttons = append(opt.Buttons, []kit.Button{{Text: c, Data: AnswerData(msg.CampaignID, i)}})
			}
		} else {
			fmt.Fprintf(&b, "\n\nReply with <code>/answer %d your answer</code>", msg.CampaignID)
		}
	}
	return b.String(), opt
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}
