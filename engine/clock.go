package engine

import "time"

// =============================================================================
// CLOCK - Injectable time source for the 24-hour window computation
// =============================================================================

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock (UTC).
func SystemClock() Clock { return systemClock{} }

// FixedClock always reports At. Used by tests to pin the booking window.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }
