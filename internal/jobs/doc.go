// Package jobs persists job records in SQLite and enforces the legal state
// transitions between them.
//
// Job ids come from the AUTOINCREMENT rowid, so they are monotonically
// increasing and never reused for the lifetime of the database.
package jobs
