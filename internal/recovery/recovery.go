// Package recovery implements the supervisor-level overlays that deliberately
// live outside the tick kernel: the halt evidence gate, invalid head-pointer
// repair, and the stagnation heartbeat. The core exposes only the primitives
// these need (current tape tail, persisted q); it records no state-change
// time, so Heartbeat keeps its own stall clock. The policy
// of re-arming or declaring a timeout belongs to the supervisor, one layer
// up from the tick loop, tracking one workspace's staleness with a small
// in-memory counter rather than any persisted state of its own.
package recovery

import (
	"strings"
	"time"

	"github.com/turingloop/machine/internal/guard"
	"github.com/turingloop/machine/internal/pointer"
	"github.com/turingloop/machine/internal/registers"
)

const (
	reArmState            = "q_1: PROCESSING_USER_REQUEST"
	systemRecoveryNote    = "[SYSTEM RECOVERY] "
	defaultMaxAttempts    = 3
)

var evidenceMarkers = []string{"[EXEC RESULT", "[EXEC ERROR", "[DISCIPLINE ERROR]", "Verification", "REPORT"}

// ErrRecoveryExhausted is returned when the attempt cap is hit without the
// underlying condition clearing.
type ErrRecoveryExhausted struct{ Attempts int }

func (e *ErrRecoveryExhausted) Error() string {
	return "recovery attempts exhausted"
}

// EvidenceGate re-arms a halt-like q unless the tape tail shows evidence of
// real work.
type EvidenceGate struct {
	MaxAttempts int
	attempts    int
}

// Check inspects tapeTail (the tail of MAIN_TAPE.md) when q is halt-like.
// It returns (rearmedQ, rearmedD, true) if it re-armed the run, or ("", "",
// false) if q was not halt-like or the evidence was already present.
func (g *EvidenceGate) Check(q, tapeTail string) (newQ, newD string, rearmed bool, err error) {
	if !guard.IsHaltLike(q) {
		return "", "", false, nil
	}
	if hasEvidence(tapeTail) {
		return "", "", false, nil
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = defaultMaxAttempts
	}
	g.attempts++
	if g.attempts > g.MaxAttempts {
		return "", "", false, &ErrRecoveryExhausted{Attempts: g.attempts}
	}
	return reArmState, pointer.MainTape, true, nil
}

func hasEvidence(tail string) bool {
	for _, m := range evidenceMarkers {
		if strings.Contains(tail, m) {
			return true
		}
	}
	return false
}

// Note is the note to append to the current cell when re-arming.
func (g *EvidenceGate) Note() string {
	return systemRecoveryNote + "halt declared without evidence of completed work; re-armed the run."
}

// RepairPointer resets d (and re-arms q) when the current head pointer is
// unusable: missing, escaping the workspace, containing "..", or pointing
// at a directory. isDir and exists are supplied by the caller, which has
// the manifold/workspace handles this package intentionally does not hold.
func RepairPointer(d string, exists, isDir bool) (newQ, newD string, repaired bool) {
	norm := pointer.Normalize(d)
	broken := !exists || isDir || strings.Contains(norm, "..") || pointer.Classify(norm) == pointer.Invalid
	if !broken {
		return "", "", false
	}
	return reArmState, pointer.MainTape, true
}

// RepairNote is the note appended when RepairPointer fires.
func RepairNote(original string) string {
	return systemRecoveryNote + "head pointer " + original + " was unusable; reset to " + pointer.MainTape + "."
}

// Heartbeat tracks how long the state head has gone unchanged, for the
// stagnation overlay. The core records no state-change time: Heartbeat
// lives entirely in the supervisor and resets its own clock whenever
// Observe sees a different head.
type Heartbeat struct {
	StallThreshold      time.Duration
	MaxRecoveryAttempts int

	lastHead    string
	lastChanged time.Time
	attempts    int
}

// NewHeartbeat returns a Heartbeat seeded with the current state head.
func NewHeartbeat(stall time.Duration, maxAttempts int, initialHead string, now time.Time) *Heartbeat {
	return &Heartbeat{
		StallThreshold:      stall,
		MaxRecoveryAttempts: maxAttempts,
		lastHead:            initialHead,
		lastChanged:         now,
	}
}

// Observe records the current state head at time now. If the head has
// changed, the stall clock resets and the attempt counter is cleared. If it
// hasn't and StallThreshold has elapsed, it increments the attempt counter
// and reports whether a recovery note should fire, or an exhaustion error.
func (h *Heartbeat) Observe(head string, now time.Time) (note string, fire bool, err error) {
	if head != h.lastHead {
		h.lastHead = head
		h.lastChanged = now
		h.attempts = 0
		return "", false, nil
	}
	if now.Sub(h.lastChanged) < h.StallThreshold {
		return "", false, nil
	}
	h.attempts++
	if h.MaxRecoveryAttempts > 0 && h.attempts > h.MaxRecoveryAttempts {
		return "", false, &ErrRecoveryExhausted{Attempts: h.attempts}
	}
	h.lastChanged = now
	return systemRecoveryNote + "state head has not changed in over the stall threshold; nudging the oracle.", true, nil
}

// StateHead reads the workspace's persisted q and returns its first line,
// trimmed, as the comparable head string callers feed into
// Heartbeat.Observe.
func StateHead(ws *registers.Workspace) (string, error) {
	q, err := ws.ReadQ()
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		q = q[:i]
	}
	return strings.TrimSpace(q), nil
}
