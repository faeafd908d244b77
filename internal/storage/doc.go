// Package storage persists lists, campaigns, responses, reminder state,
// admins, the user directory and the audit log.
//
// Drivers:
//   - memory: maps behind a mutex (tests, ephemeral runs)
//   - sqlite: modernc.org/sqlite, single connection, WAL
//   - postgres: lib/pq
//
// Reminder claims and campaign transitions are conditional writes; callers
// rely on them instead of in-process locks.
package storage
