// Package harness runs notebook scenarios against the real fold.
//
// A scenario is a YAML file listing events to append, in order, and
// assertions over the resulting state:
//
//	name: stale_kernel_not_selected
//	description: "A kernel that stopped heartbeating gets no new work"
//	heartbeat_timeout: 30s
//	steps:
//	  - event: cellCreated
//	    payload: { id: c1, position: 0, cellType: code, source: "1+1" }
//	  - event: kernelSessionStarted
//	    payload: { sessionId: k1, kernelType: python }
//	  - event: kernelSessionHeartbeat
//	    payload: { sessionId: k1, status: ready }
//	  - event: executionRequested
//	    at: 45s
//	    payload: { entryId: e1, cellId: c1, requestedBy: alice }
//	assertions:
//	  - type: eligible
//	    session: ""
//	  - type: entry_status
//	    entry: e1
//	    status: pending
//
// Each run uses a fresh in-memory log, sequential event ids and a fake clock
// starting at testutil.Epoch. A step's "at" moves the clock forward; session
// events without an explicit "at" in their payload are stamped with the
// clock. Time-based assertions are evaluated at the scenario's "now", or at
// the last step's time when unset.
//
// Scenario files are checked against an embedded CUE schema before they are
// decoded, so a misspelt key or unknown event name fails at load time.
//
// The golden form of a run (step outcomes plus the final state snapshot) is
// compared by the CLI's test command and by RunWithGolden in tests.
package harness
