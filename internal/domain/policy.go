package domain

import "time"

// RemindersOff as an override MaxCount disables reminders for one campaign.
const RemindersOff = -1

// ReminderPolicy bounds reminder frequency and volume.
type ReminderPolicy struct {
	MinInterval time.Duration
	MaxCount    int
}

// Effective overlays a per-campaign override on top of def.
// Zero fields in the override fall back to def; MaxCount RemindersOff yields 0.
func (p *ReminderPolicy) Effective(def ReminderPolicy) ReminderPolicy {
	if p == nil {
		return def
	}
	out := def
	if p.MinInterval > 0 {
		out.MinInterval = p.MinInterval
	}
	switch {
	case p.MaxCount == RemindersOff:
		out.MaxCount = 0
	case p.MaxCount > 0:
		out.MaxCount = p.MaxCount
	}
	return out
}

// Due reports whether st is eligible for another reminder at now.
// Manual triggers bypass the interval check but never the count cap.
func (p ReminderPolicy) Due(st ReminderState, now time.Time, manual bool) bool {
	if st.Count >= p.MaxCount {
		return false
	}
	if manual || st.LastSentAt.IsZero() {
		return true
	}
	return now.Sub(st.LastSentAt) >= p.MinInterval
}
