// Package projection folds the event log into current notebook state.
//
// The fold is pure and deterministic: replaying the same events from an
// empty State always yields the same State, byte for byte via Snapshot.
// Events that do not apply (unknown cell, non-pending assignment, session
// mismatch, ...) are rejected with a reason and leave the State untouched.
//
// State is not safe for concurrent use; engine.Engine owns the live copy
// and serializes access.
package projection
