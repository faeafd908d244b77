// Package scheduler triggers named jobs on cron or interval schedules.
//
// Each schedule runs at most one instance at a time; a tick that fires while the
// previous run is still going is skipped. Schedules can be replaced at runtime,
// which is how config reloads change the reminder cadence.
package scheduler
