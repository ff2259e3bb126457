// Package queue implements the execution queue entry state machine.
//
// Every transition is a pure function from an Entry to its successor.
// A transition that does not apply to the current state returns the entry
// unchanged with applied=false; callers treat that as an ignored event, never
// as an error, because the log is multi-writer and such races are expected.
//
// Lifecycle (forward only):
//
//	pending -> assigned -> executing -> completed
//	                                 -> failed
//
// Ordering is expressed as log positions (seq), never wall-clock time.
package queue
