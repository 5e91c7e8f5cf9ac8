package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/turingloop/machine/internal/pointer"
	"github.com/turingloop/machine/internal/registers"
)

func TestEvidenceGateRearmsWithoutEvidence(t *testing.T) {
	g := &EvidenceGate{}
	q, d, rearmed, err := g.Check(pointer.HaltLiteral, "nothing to see here")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !rearmed {
		t.Fatal("expected rearm when no evidence markers present")
	}
	if q != reArmState || d != pointer.MainTape {
		t.Errorf("unexpected rearm target: q=%q d=%q", q, d)
	}
}

func TestEvidenceGatePassesWithEvidence(t *testing.T) {
	g := &EvidenceGate{}
	_, _, rearmed, err := g.Check(pointer.HaltLiteral, "build finished\n[EXEC RESULT for `./build.sh`]: ok")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rearmed {
		t.Fatal("expected no rearm when evidence marker present")
	}
}

func TestEvidenceGateIgnoresNonHaltState(t *testing.T) {
	g := &EvidenceGate{}
	_, _, rearmed, err := g.Check("q_1: PROCESSING_USER_REQUEST", "no evidence here")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rearmed {
		t.Fatal("expected no rearm for non-halt state")
	}
}

func TestEvidenceGateExhaustsAfterMaxAttempts(t *testing.T) {
	g := &EvidenceGate{MaxAttempts: 2}
	for i := 0; i < 2; i++ {
		_, _, rearmed, err := g.Check(pointer.HaltLiteral, "no evidence")
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if !rearmed {
			t.Fatalf("attempt %d: expected rearm", i)
		}
	}
	_, _, _, err := g.Check(pointer.HaltLiteral, "no evidence")
	var exhausted *ErrRecoveryExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrRecoveryExhausted, got %v", err)
	}
}

func TestRepairPointerFiresOnMissingOrDirOrEscaping(t *testing.T) {
	cases := []struct {
		name           string
		d              string
		exists, isDir  bool
		wantRepaired   bool
	}{
		{"missing", "./ghost.md", false, false, true},
		{"directory", "./subdir", true, true, true},
		{"escaping", "../outside.md", true, false, true},
		{"healthy", "./notes.txt", true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, d, repaired := RepairPointer(tc.d, tc.exists, tc.isDir)
			if repaired != tc.wantRepaired {
				t.Fatalf("repaired = %v, want %v", repaired, tc.wantRepaired)
			}
			if repaired {
				if q != reArmState || d != pointer.MainTape {
					t.Errorf("unexpected repair target: q=%q d=%q", q, d)
				}
			}
		})
	}
}

func TestHeartbeatResetsOnHeadChange(t *testing.T) {
	now := time.Unix(0, 0)
	hb := NewHeartbeat(time.Minute, 3, "q_0", now)
	note, fire, err := hb.Observe("q_1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if fire || note != "" {
		t.Fatalf("expected no fire on head change, got fire=%v note=%q", fire, note)
	}
}

func TestHeartbeatFiresAfterStallThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	hb := NewHeartbeat(time.Minute, 3, "q_0", now)
	note, fire, err := hb.Observe("q_0", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !fire || note == "" {
		t.Fatal("expected fire after stall threshold elapses")
	}
}

func TestHeartbeatDoesNotFireBeforeThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	hb := NewHeartbeat(time.Minute, 3, "q_0", now)
	_, fire, err := hb.Observe("q_0", now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if fire {
		t.Fatal("expected no fire before stall threshold elapses")
	}
}

func TestHeartbeatExhaustsAfterMaxAttempts(t *testing.T) {
	now := time.Unix(0, 0)
	hb := NewHeartbeat(time.Minute, 2, "q_0", now)
	for i := 0; i < 2; i++ {
		now = now.Add(2 * time.Minute)
		_, fire, err := hb.Observe("q_0", now)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if !fire {
			t.Fatalf("attempt %d: expected fire", i)
		}
	}
	now = now.Add(2 * time.Minute)
	_, _, err := hb.Observe("q_0", now)
	var exhausted *ErrRecoveryExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrRecoveryExhausted, got %v", err)
	}
}

func TestStateHeadReadsFirstLineTrimmed(t *testing.T) {
	dir := t.TempDir()
	ws, err := registers.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ws.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := ws.WriteQ("q_2: VERIFYING\nextra detail line"); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}
	head, err := StateHead(ws)
	if err != nil {
		t.Fatalf("StateHead: %v", err)
	}
	if head != "q_2: VERIFYING" {
		t.Errorf("StateHead = %q, want %q", head, "q_2: VERIFYING")
	}
}
