package store

import (
	"context"
	"fmt"

	"github.com/roach88/nbkernel/internal/ir"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadSince returns events with seq > afterSeq in log order.
// A limit <= 0 means no limit.
//
// Returns an empty slice (not nil) when there is nothing new.
func (s *Store) ReadSince(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	query := `
		SELECT seq, id, name, payload, origin, digest
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
	`
	args := []any{afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// ReadAll returns the full log in order. Used by replay.
func (s *Store) ReadAll(ctx context.Context) ([]ir.Event, error) {
	return s.ReadSince(ctx, 0, 0)
}

// ReadEvent retrieves a single event by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEvent(ctx context.Context, id string) (ir.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, name, payload, origin, digest
		FROM events
		WHERE id = ?
	`, id)
	return scanEvent(row)
}

// LastSeq returns the highest seq in the log, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// CountByName returns the number of events per event name.
func (s *Store) CountByName(ctx context.Context) (map[ir.EventName]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COUNT(*)
		FROM events
		GROUP BY name
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[ir.EventName]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ir.EventName(name)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// VerifyDigests recomputes every payload digest and returns the seqs whose
// stored digest does not match.
func (s *Store) VerifyDigests(ctx context.Context) ([]int64, error) {
	events, err := s.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify digests: %w", err)
	}

	var mismatched []int64
	for _, ev := range events {
		digest, err := ir.PayloadDigest(ev.Name, ev.Payload)
		if err != nil || digest != ev.Digest {
			mismatched = append(mismatched, ev.Seq)
		}
	}
	return mismatched, nil
}

func scanEvent(row rowScanner) (ir.Event, error) {
	var ev ir.Event
	var name, payloadJSON string
	if err := row.Scan(&ev.Seq, &ev.ID, &name, &payloadJSON, &ev.Origin, &ev.Digest); err != nil {
		return ir.Event{}, err
	}
	ev.Name = ir.EventName(name)

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return ir.Event{}, fmt.Errorf("event %d: %w", ev.Seq, err)
	}
	ev.Payload = payload
	return ev, nil
}
