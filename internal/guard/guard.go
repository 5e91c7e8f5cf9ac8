// Package guard implements the transition guard: pointer legality, halt
// canonicalization, main-tape write protection, and pointer-class
// coherence, as a pure, stateless rule-checking gate over a proposed
// transition with explicit allow/deny/rewrite outcomes.
package guard

import (
	"regexp"
	"strings"

	"github.com/turingloop/machine/internal/machine"
	"github.com/turingloop/machine/internal/pointer"
)

// Transition is the triple (q_next, s_prime, d_next) the oracle returns.
type Transition struct {
	QNext  string
	SPrime string
	DNext  string
}

// Context carries the state the guard needs beyond the candidate transition.
type Context struct {
	CurrentState   string
	CurrentPointer string
}

// Issue is a non-trap, advisory event surfaced for logging.
type Issue string

const (
	IssueHaltNormalized      Issue = "HALT_NORMALIZED"
	IssueMainTapeWriteBlocked Issue = "MAIN_TAPE_WRITE_BLOCKED"
)

// Result is the guard's verdict: the (possibly rewritten) transition, plus
// whether it is a trap and any advisory issues.
type Result struct {
	Transition Transition
	Trapped    bool
	TrapCode   string
	Issues     []Issue
}

var haltWordRe = regexp.MustCompile(`\bHALT(_[A-Z0-9]+)?\b`)

// isHaltLike recognizes the three halt patterns: exactly
// "HALT", containing "[HALT]", or a whole-word HALT with an optional
// "_SUFFIX".
func isHaltLike(s string) bool {
	if s == pointer.HaltLiteral {
		return true
	}
	if strings.Contains(s, "[HALT]") {
		return true
	}
	return haltWordRe.MatchString(s)
}

// Evaluate runs the four guard rules in order.
func Evaluate(t Transition, ctx Context) Result {
	t.DNext = pointer.Normalize(t.DNext)

	// Rule 1: pointer legality.
	if pointer.Classify(t.DNext) == pointer.Invalid {
		return Result{
			Transition: Transition{
				QNext:  "[TRAP:INVALID_POINTER] " + t.QNext + " [PREV_Q] " + ctx.CurrentState,
				SPrime: machine.NoWriteMarker,
				DNext:  pointer.TrapPointer("invalid_pointer"),
			},
			Trapped:  true,
			TrapCode: "INVALID_POINTER",
		}
	}

	var issues []Issue

	// Rule 2: halt canonicalization.
	haltQ := isHaltLike(t.QNext)
	haltD := t.DNext == pointer.HaltLiteral
	if haltQ || haltD {
		if haltQ != haltD {
			issues = append(issues, IssueHaltNormalized)
		}
		t.QNext = pointer.HaltLiteral
		t.DNext = pointer.HaltLiteral
		return Result{Transition: t, Issues: issues}
	}

	// Rule 3: main-tape write protection.
	if pointer.Normalize(ctx.CurrentPointer) == pointer.MainTape &&
		t.SPrime != machine.NoWriteMarker && t.SPrime != "" &&
		!strings.Contains(t.QNext, "[ALLOW_MAIN_TAPE_WRITE]") {
		t.QNext = "[GUARD_BLOCKED:MAIN_TAPE_WRITE] " + t.QNext
		t.SPrime = machine.NoWriteMarker
		issues = append(issues, IssueMainTapeWriteBlocked)
	}

	// Rule 4: pointer class coherence — halt never resumes to a non-halt
	// class (rule 2 above already handled the case where this transition
	// itself is halt-like, so reaching here means it is not).
	if pointer.Classify(ctx.CurrentPointer) == pointer.Halt {
		return Result{
			Transition: Transition{
				QNext:  "[TRAP:INVALID_POINTER_CLASS] " + t.QNext + " [PREV_Q] " + ctx.CurrentState,
				SPrime: machine.NoWriteMarker,
				DNext:  pointer.TrapPointer("invalid_pointer_class"),
			},
			Trapped:  true,
			TrapCode: "INVALID_POINTER_CLASS",
		}
	}

	return Result{Transition: t, Issues: issues}
}
