package testutil

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the wall-clock origin for deterministic tests and scenarios.
// Heartbeat timestamps are milliseconds after it.
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a fake clock set to Epoch.
//
// Heartbeat tickers and staleness checks read this clock, so a test controls
// session liveness by calling Advance.
func NewClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// At returns Epoch plus offset.
func At(offset time.Duration) time.Time {
	return Epoch.Add(offset)
}

// Millis returns Epoch plus offset as Unix milliseconds, the unit carried by
// session events.
func Millis(offset time.Duration) int64 {
	return At(offset).UnixMilli()
}
