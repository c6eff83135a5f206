// Package scheduler admits submitted jobs against the filter budget ledger.
//
// The scheduler reacts to events (submission, completion, cancellation,
// shutdown) with an admission pass over the pending queue in priority order.
// The pass blocks filter kinds rather than jobs: a job that cannot be
// admitted marks the kinds it is short of, and later jobs touching those
// kinds are skipped so lower-priority work cannot starve a higher-priority
// job out of its slots. Work on unrelated kinds proceeds.
package scheduler
