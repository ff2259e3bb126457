package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// evaluate checks every assertion against s and returns the failures.
func evaluate(s *projection.State, assertions []Assertion, now time.Time, timeout time.Duration) []string {
	var failures []string
	for i, a := range assertions {
		if err := check(s, a, now, timeout); err != nil {
			err.Index = i
			err.Type = a.Type
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func check(s *projection.State, a Assertion, now time.Time, timeout time.Duration) *AssertionError {
	switch a.Type {
	case AssertEntryStatus:
		e, ok := s.Entry(a.Entry)
		if !ok {
			return mismatch(a.Entry+" "+a.Status, "no entry "+a.Entry)
		}
		if string(e.Status) != a.Status {
			return mismatch(a.Entry+" "+a.Status, a.Entry+" "+string(e.Status))
		}

	case AssertEntrySession:
		e, ok := s.Entry(a.Entry)
		if !ok {
			return mismatch(quote(*a.Session), "no entry "+a.Entry)
		}
		if e.AssignedSession != *a.Session {
			return mismatch(quote(*a.Session), quote(e.AssignedSession))
		}

	case AssertEntryError:
		e, ok := s.Entry(a.Entry)
		if !ok {
			return mismatch(a.Error, "no entry "+a.Entry)
		}
		if e.Error == nil {
			return mismatch(a.Error, "no error")
		}
		if e.Error.Name != a.Error {
			return mismatch(a.Error, e.Error.Name)
		}

	case AssertCellOutputs:
		c, ok := s.Cell(a.Cell)
		if !ok {
			return mismatch(list(a.Texts), "no cell "+a.Cell)
		}
		texts := make([]string, 0, len(c.Outputs))
		for _, o := range c.Outputs {
			texts = append(texts, o.Text)
		}
		if !slices.Equal(texts, a.Texts) {
			return mismatch(list(a.Texts), list(texts))
		}

	case AssertCellDeleted:
		if _, ok := s.Cell(a.Cell); !ok {
			return mismatch(fmt.Sprintf("deleted=%t", *a.Deleted), "no cell "+a.Cell)
		}
		if got := s.CellDeleted(a.Cell); got != *a.Deleted {
			return mismatch(fmt.Sprintf("deleted=%t", *a.Deleted), fmt.Sprintf("deleted=%t", got))
		}

	case AssertCellOrder:
		var ids []string
		for _, c := range s.OrderedCells() {
			ids = append(ids, c.ID)
		}
		if !slices.Equal(ids, a.IDs) {
			return mismatch(list(a.IDs), list(ids))
		}

	case AssertEligible:
		got := ""
		if target, ok := s.Target(now, timeout); ok {
			got = target.ID
		}
		if got != *a.Session {
			return mismatch(quote(*a.Session), quote(got))
		}

	case AssertNextAssignable:
		got := ""
		if e, ok := s.NextAssignable(*a.Session, now, timeout); ok {
			got = e.ID
		}
		if got != a.Entry {
			return mismatch(quote(a.Entry), quote(got))
		}

	case AssertOrphans:
		var ids []string
		for _, e := range s.Orphans(now, timeout) {
			ids = append(ids, e.ID)
		}
		if !slices.Equal(ids, a.IDs) {
			return mismatch(list(a.IDs), list(ids))
		}

	case AssertQueueCounts:
		counts := queue.Counts(s.QueueOrder())
		for status, want := range a.Counts {
			if got := counts[queue.Status(status)]; got != want {
				return mismatch(fmt.Sprintf("%d %s", want, status), fmt.Sprintf("%d %s", got, status))
			}
		}
	}
	return nil
}

func mismatch(expected, actual string) *AssertionError {
	return &AssertionError{Expected: expected, Actual: actual}
}

func quote(s string) string {
	if s == "" {
		return "none"
	}
	return fmt.Sprintf("%q", s)
}

func list(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
