// Package clock supplies the time source used throughout edgegate's
// admission and audit paths so tests can advance time deterministically
// instead of sleeping in real time.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source every component that needs "now" takes as a
// dependency instead of calling time.Now() directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// New returns the real, wall-clock backed implementation.
func New() Clock {
	return clock.New()
}

// NewMock returns a controllable clock for tests. It satisfies Clock and
// additionally exposes Add/Set for advancing time explicitly.
func NewMock() *clock.Mock {
	return clock.NewMock()
}
