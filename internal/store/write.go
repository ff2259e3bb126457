package store

import (
	"context"
	"fmt"

	"github.com/roach88/nbkernel/internal/ir"
)

// Append writes an event to the end of the log and returns it with Seq and
// Digest filled in.
//
// Append is idempotent on the event id: appending an id that is already in
// the log writes nothing and returns the stored record with inserted=false.
// This makes client retries after an ambiguous failure safe.
func (s *Store) Append(ctx context.Context, ev ir.Event) (stored ir.Event, inserted bool, err error) {
	if ev.ID == "" {
		return ir.Event{}, false, fmt.Errorf("append event: id is required")
	}
	if !ev.Name.Valid() {
		return ir.Event{}, false, fmt.Errorf("append event: unknown event name %q", ev.Name)
	}

	payloadJSON, err := marshalPayload(ev.Payload)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: %w", err)
	}
	digest, err := ir.PayloadDigest(ev.Name, ev.Payload)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, name, payload, origin, digest, ir_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		string(ev.Name),
		payloadJSON,
		ev.Origin,
		digest,
		ir.IRVersion,
	)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		row := tx.QueryRowContext(ctx, `
			SELECT seq, id, name, payload, origin, digest
			FROM events
			WHERE id = ?
		`, ev.ID)
		existing, err := scanEvent(row)
		if err != nil {
			return ir.Event{}, false, fmt.Errorf("append event: select existing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ir.Event{}, false, fmt.Errorf("append event: commit (existing): %w", err)
		}
		return existing, false, nil
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: commit: %w", err)
	}

	ev.Seq = seq
	ev.Digest = digest
	return ev, true, nil
}
