package guard

import "github.com/turingloop/machine/internal/pointer"

// IsHaltLike is the public halt recognizer used by the kernel to decide
// whether to stop the loop — the kernel stops only when both post-guard
// q and d equal HALT.
func IsHaltLike(s string) bool { return isHaltLike(s) }

// IsHalted reports whether a (q, d) pair is the canonical halt state.
func IsHalted(q, d string) bool {
	return q == pointer.HaltLiteral && d == pointer.HaltLiteral
}
