// Package budget tracks per-filter concurrency slots.
//
// The ledger admits a job's whole demand atomically or not at all, which is
// what keeps partially admitted jobs from deadlocking each other.
package budget
