package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/internal/notifier"
	"surveybot/internal/storage"
	kit "surveybot/internal/transport"
	logx "surveybot/pkg/logx"
)

// sinkEvents writes the audit trail and raises operator notices until ctx is done.
func (a *App) sinkEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if entry, ok := auditEntry(e); ok {
				actx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := a.store.AppendAudit(actx, entry); err != nil {
					a.log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
				}
				cancel()
			}
			if n, ok := noticeFor(e); ok {
				if err := a.notif.Notify(ctx, n); err != nil {
					a.log.Warn("operator notice dropped", logx.String("type", e.Type), logx.Err(err))
				}
			}
		}
	}
}

// auditEntry maps privileged actions and rejections to an audit row.
// Dispatch and per-user reminder events are too chatty for the audit table.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	entry := storage.AuditEntry{At: e.Time, Action: e.Type, OK: true}
	switch d := e.Data.(type) {
	case eventbus.CampaignData:
		entry.ActorID = d.ActorID
		entry.Target = fmt.Sprintf("campaign:%d", d.CampaignID)
	case eventbus.AdminData:
		entry.ActorID = d.ActorID
		entry.Target = fmt.Sprintf("user:%d", d.UserID)
		if e.Type == eventbus.AdminDenied {
			entry.OK = false
			entry.Target = d.Action
		}
	case eventbus.ListData:
		entry.ActorID = d.ActorID
		entry.Target = fmt.Sprintf("list:%d", d.ListID)
	case eventbus.ResponseData:
		if e.Type != eventbus.ResponseRejected {
			return storage.AuditEntry{}, false
		}
		entry.ActorID = d.UserID
		entry.Target = fmt.Sprintf("campaign:%d", d.CampaignID)
		entry.OK = false
		entry.Error = d.Reason
	default:
		return storage.AuditEntry{}, false
	}
	if meta, err := json.Marshal(e.Data); err == nil {
		entry.MetaJSON = string(meta)
	}
	return entry, true
}

// noticeFor turns campaign milestones into a notice for the campaign creator.
func noticeFor(e eventbus.Event) (notifier.Notification, bool) {
	d, ok := e.Data.(eventbus.CampaignData)
	if !ok {
		return notifier.Notification{}, false
	}
	var text string
	switch e.Type {
	case eventbus.CampaignCompleted:
		text = fmt.Sprintf("✅ Campaign <b>%s</b> <code>#%d</code> completed: all %d answered.", esc(d.Name), d.CampaignID, d.AudienceSize)
	case eventbus.AudienceEmpty:
		text = fmt.Sprintf("⚠️ Campaign <b>%s</b> <code>#%d</code> started with an empty audience.", esc(d.Name), d.CampaignID)
	default:
		return notifier.Notification{}, false
	}
	n := notifier.Notification{Channel: "campaign", Text: text}
	// A zero target fans out to all admins.
	if d.CreatorID != 0 {
		n.Target = kit.ChatTarget{ChatID: d.CreatorID}
	}
	return n, true
}
