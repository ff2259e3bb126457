package queue

// Less orders entries by request position, ties broken by id byte order.
func Less(a, b Entry) bool {
	if a.RequestedSeq != b.RequestedSeq {
		return a.RequestedSeq < b.RequestedSeq
	}
	return a.ID < b.ID
}

// OldestPending returns the pending entry with the smallest RequestedSeq.
// skip, when non-nil, excludes entries from consideration (the projection
// uses it to pass over entries whose cell has been deleted).
func OldestPending(entries []Entry, skip func(Entry) bool) (Entry, bool) {
	var best Entry
	found := false
	for _, e := range entries {
		if e.Status != StatusPending {
			continue
		}
		if skip != nil && skip(e) {
			continue
		}
		if !found || Less(e, best) {
			best = e
			found = true
		}
	}
	return best, found
}

// HasInFlight reports whether sessionID owns an assigned or executing entry.
// A kernel claims a new entry only when this is false.
func HasInFlight(entries []Entry, sessionID string) bool {
	for _, e := range entries {
		if e.AssignedSession == sessionID && e.Status.InFlight() {
			return true
		}
	}
	return false
}

// Counts tallies entries by status.
func Counts(entries []Entry) map[Status]int {
	counts := map[Status]int{
		StatusPending:   0,
		StatusAssigned:  0,
		StatusExecuting: 0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for _, e := range entries {
		counts[e.Status]++
	}
	return counts
}
