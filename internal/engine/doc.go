// Package engine keeps a live replica of one notebook's event log.
//
// ARCHITECTURE:
//
// Single-Writer Fold:
// The Engine owns the only mutable projection.State in the process. Every
// change reaches it the same way: an event is appended to the store, then
// CatchUp reads everything past State.LastSeq and folds it in seq order
// under the write lock. Nothing mutates the state directly.
//
// Event Flow:
//  1. Emit builds an event (UUIDv7 id) and appends it to the store
//  2. The store assigns seq, the only ordering key
//  3. CatchUp folds new events; rejected ones are logged at debug
//  4. Subscriptions are re-evaluated and signalled if their result changed
//
// Follow runs CatchUp on a ticker so events written by other processes
// sharing the log are folded too. It stands in for the sync layer; the
// dispatcher itself never polls, it waits on its Subscription.
//
// Wall-clock time is never used for ordering. It enters only through the
// staleness checks callers pass "now" into.
package engine
