// Package notifier delivers messages to individual users and operators.
//
// Send is the synchronous per-user dispatch used by campaign broadcasts and
// reminder passes. Every call waits on a shared token bucket, is bounded by a
// per-attempt timeout and retries transient transport failures with jittered
// exponential backoff. Failures come back wrapped in domain.ErrDispatch.
//
// Notify is the asynchronous operator channel: short notices (a campaign
// completed, an audience resolved empty) are queued, deduplicated within a
// window and delivered by a small worker pool.
//
// # Admins-only mode
//
// With AdminsOnly set, Send silently drops messages for non-admin recipients.
// The caller still sees success so reminder counters advance exactly as they
// would in production.
package notifier
