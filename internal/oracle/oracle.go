// Package oracle abstracts the transition function δ behind a single
// capability contract: collapse(discipline, q, s, d) → Transition. Two
// implementations are provided, a network adapter (anthropic.go) and a
// scripted test adapter (scripted.go), sharing the same one-method
// interface rather than a class hierarchy.
package oracle

import (
	"context"
	"fmt"

	"github.com/turingloop/machine/internal/guard"
	"github.com/turingloop/machine/internal/pointer"
)

// Transition is the (q_next, s_prime, d_next) triple the oracle returns.
type Transition = guard.Transition

// Oracle is the sole capability contract every adapter implements.
type Oracle interface {
	// Collapse asks the oracle for the next transition given the current
	// discipline text, state, observation, and pointer. raw is the verbatim
	// oracle output before any parsing, used by the cycle breaker.
	Collapse(ctx context.Context, discipline, q, s, d string) (t Transition, raw string, err error)
}

// InvalidOutputError marks oracle output that could not be parsed into a
// well-typed transition after exhausting retries — the ORACLE_INVALID
// terminal condition.
type InvalidOutputError struct {
	Attempts int
	Last     error
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("ORACLE_INVALID after %d attempts: %v", e.Attempts, e.Last)
}

func (e *InvalidOutputError) Unwrap() error { return e.Last }

// validate checks the oracle output invariant: q_next and d_next are
// non-empty strings; s_prime is a string (possibly empty, which is treated
// the same as the no-write marker downstream). It then normalizes d_next.
func validate(t Transition) (Transition, error) {
	if t.QNext == "" {
		return Transition{}, fmt.Errorf("q_next must be non-empty")
	}
	if t.DNext == "" {
		return Transition{}, fmt.Errorf("d_next must be non-empty")
	}
	t.DNext = pointer.Normalize(t.DNext)
	return t, nil
}
