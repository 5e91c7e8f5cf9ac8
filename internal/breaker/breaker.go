// Package breaker implements the cycle breaker: a coarser, last-resort
// loop detector distinct from the watchdog. It watches the raw oracle
// output (the full transition text, before the guard rewrites anything)
// in a fixed-size ring keyed on exact output equality, and forces a
// fatal-debug state when the oracle itself is stuck emitting the same
// thing.
package breaker

import "github.com/turingloop/machine/internal/machine"

const (
	// DefaultSize is the ring capacity K.
	DefaultSize = 20
	// DefaultInsanityThreshold is the identical-output count that trips the breaker.
	DefaultInsanityThreshold = 10
)

// Breaker holds the last K raw oracle outputs and counts repeats.
type Breaker struct {
	Size      int
	Threshold int

	ring []string
}

// New returns a Breaker configured with the default thresholds.
func New() *Breaker {
	return &Breaker{Size: DefaultSize, Threshold: DefaultInsanityThreshold}
}

// Observe records one raw oracle output and reports whether the insanity
// threshold has been met. On trip, the ring is reset so counting starts
// fresh on the next call.
func (b *Breaker) Observe(raw string) (tripped bool) {
	if b.Size <= 0 {
		b.Size = DefaultSize
	}
	if b.Threshold <= 0 {
		b.Threshold = DefaultInsanityThreshold
	}

	b.ring = append(b.ring, raw)
	if len(b.ring) > b.Size {
		b.ring = b.ring[len(b.ring)-b.Size:]
	}

	count := 0
	for _, r := range b.ring {
		if r == raw {
			count++
		}
	}

	if count >= b.Threshold {
		b.ring = b.ring[:0]
		return true
	}
	return false
}

// FatalTransition is the transition the kernel persists in place of the
// tripping tick's guarded transition when the breaker trips:
// (FATAL_DEBUG, 👆, d_current).
func FatalTransition(dCurrent string) (qNext, sPrime, dNext string) {
	return "FATAL_DEBUG", machine.NoWriteMarker, dCurrent
}

// InsanityNote is appended to the current cell when the breaker trips.
func InsanityNote() string {
	return "[INSANITY_LOOP] the oracle repeated the same raw output past the breaker threshold; forced FATAL_DEBUG and reset."
}
