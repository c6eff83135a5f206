// Package pipeline runs an admitted job as a chain of concurrently running
// filter processes connected stdout-to-stdin, with the input file at the head
// and the output file at the tail.
//
// Cancellation is context-driven: cancelling the run context sends SIGTERM to
// the job's process group and the run reports a cancelled outcome. A
// cancelled job's partially written output file is left in place; the sdstore
// client reports that the output may be incomplete.
package pipeline
