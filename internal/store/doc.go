// Package store provides the SQLite-backed event log nbkernel attaches to.
//
// The log is append-only. Every event gets a seq from SQLite's
// AUTOINCREMENT rowid inside the write lock, which gives one total order per
// notebook across every process sharing the file.
//
// # Critical Patterns
//
// Logical order only:
//   - All ordering uses seq INTEGER, never timestamps
//   - All reads are ORDER BY seq ASC
//
// Idempotent append:
//   - UNIQUE(id) with ON CONFLICT DO NOTHING
//   - Re-appending an event with the same id returns the stored record
//
// Canonical payloads:
//   - Payloads are stored as RFC 8785 canonical JSON
//   - A domain-separated SHA-256 digest is stored next to each payload
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while a kernel appends
//   - synchronous=NORMAL
//   - busy_timeout=5000: several processes may share one notebook file
//   - foreign_keys=ON
package store
