package guard

import (
	"strings"
	"testing"

	"github.com/turingloop/machine/internal/machine"
)

func TestHaltNormalization(t *testing.T) {
	r := Evaluate(
		Transition{QNext: "HALT_COMPLETE", SPrime: machine.NoWriteMarker, DNext: "./MAIN_TAPE.md"},
		Context{CurrentState: "q_3", CurrentPointer: "./state.txt"},
	)
	if r.Trapped {
		t.Fatal("expected not trapped")
	}
	if r.Transition.QNext != "HALT" || r.Transition.DNext != "HALT" {
		t.Fatalf("expected canonical halt, got %+v", r.Transition)
	}
	if len(r.Issues) != 1 || r.Issues[0] != IssueHaltNormalized {
		t.Fatalf("expected one HALT_NORMALIZED issue, got %v", r.Issues)
	}
}

func TestInvalidPointerTrap(t *testing.T) {
	r := Evaluate(
		Transition{QNext: "q_2: keep going", SPrime: machine.NoWriteMarker, DNext: "not a pointer ???"},
		Context{CurrentState: "q_1", CurrentPointer: "./MAIN_TAPE.md"},
	)
	if !r.Trapped || r.TrapCode != "INVALID_POINTER" {
		t.Fatalf("expected INVALID_POINTER trap, got %+v", r)
	}
	if r.Transition.DNext != "sys://trap/invalid_pointer" {
		t.Errorf("wrong trap pointer: %q", r.Transition.DNext)
	}
	if !strings.HasPrefix(r.Transition.QNext, "[TRAP:INVALID_POINTER]") {
		t.Errorf("expected state prefix, got %q", r.Transition.QNext)
	}
}

func TestMainTapeWriteBlocked(t *testing.T) {
	r := Evaluate(
		Transition{QNext: "q_2: write it", SPrime: "overwrite", DNext: "./result.txt"},
		Context{CurrentState: "q_1", CurrentPointer: "./MAIN_TAPE.md"},
	)
	if r.Trapped {
		t.Fatal("expected not trapped")
	}
	if r.Transition.SPrime != machine.NoWriteMarker {
		t.Errorf("expected s_prime rewritten to no-write marker, got %q", r.Transition.SPrime)
	}
	if r.Transition.DNext != "./result.txt" {
		t.Errorf("expected d_next unchanged, got %q", r.Transition.DNext)
	}
	if !strings.HasPrefix(r.Transition.QNext, "[GUARD_BLOCKED:MAIN_TAPE_WRITE]") {
		t.Errorf("expected guard-blocked prefix, got %q", r.Transition.QNext)
	}
}

func TestMainTapeWriteAllowedWithMarker(t *testing.T) {
	r := Evaluate(
		Transition{QNext: "[ALLOW_MAIN_TAPE_WRITE] q_2", SPrime: "note", DNext: "./MAIN_TAPE.md"},
		Context{CurrentState: "q_1", CurrentPointer: "./MAIN_TAPE.md"},
	)
	if r.Trapped {
		t.Fatal("expected not trapped")
	}
	if r.Transition.SPrime != "note" {
		t.Errorf("expected write to proceed, got s_prime=%q", r.Transition.SPrime)
	}
}

func TestPointerClassCoherenceTrapsHaltToNonHalt(t *testing.T) {
	r := Evaluate(
		Transition{QNext: "q_resume: keep going", SPrime: machine.NoWriteMarker, DNext: "./MAIN_TAPE.md"},
		Context{CurrentState: "HALT", CurrentPointer: "HALT"},
	)
	if !r.Trapped || r.TrapCode != "INVALID_POINTER_CLASS" {
		t.Fatalf("expected INVALID_POINTER_CLASS trap, got %+v", r)
	}
}

func TestHaltCanonicalizationIsIdempotent(t *testing.T) {
	first := Evaluate(
		Transition{QNext: "HALT", SPrime: machine.NoWriteMarker, DNext: "HALT"},
		Context{CurrentState: "q_3", CurrentPointer: "./x"},
	)
	second := Evaluate(first.Transition, Context{CurrentState: first.Transition.QNext, CurrentPointer: first.Transition.DNext})
	if second.Transition != first.Transition {
		t.Fatalf("halt canonicalization not a fixed point: %+v vs %+v", first.Transition, second.Transition)
	}
}
