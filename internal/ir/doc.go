// Package ir defines the wire contract between nbkernel and the event log.
//
// This package contains the event envelope, the typed payload of every
// domain event, and the constrained value model (IRValue) payloads are
// encoded with. All other internal packages import ir; ir imports nothing
// internal.
//
// Constraints:
//   - No floats in payloads - numbers are int64
//   - Payload keys are camelCase (wire contract); envelope JSON is snake_case
//   - Ordering comes from the log position (Seq), never from timestamps
//   - Payloads are stored as canonical JSON so replays are byte-identical
package ir
