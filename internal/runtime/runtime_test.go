package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/turingloop/machine/internal/audit"
	"github.com/turingloop/machine/internal/config"
	"github.com/turingloop/machine/internal/events"
	"github.com/turingloop/machine/internal/oracle"
	"github.com/turingloop/machine/internal/pointer"
	"github.com/turingloop/machine/internal/recovery"
)

func newTestConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.Workspace = dir
	cfg.SliceLines = 200
	cfg.MaxStdout = 4096
	return cfg
}

func TestNewBootsWorkspaceAndDefaultsRegisters(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle(nil)
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	snap, err := rt.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.HasPrefix(snap.Q, "q_0") {
		t.Errorf("Q = %q, want q_0 prefix", snap.Q)
	}
	if snap.D != pointer.MainTape {
		t.Errorf("D = %q, want %q", snap.D, pointer.MainTape)
	}
}

func TestAppendInputWritesBlockToTape(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle(nil)
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.AppendInput(context.Background(), "please fix the build"); err != nil {
		t.Fatalf("AppendInput: %v", err)
	}

	snap, err := rt.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(snap.Tape, "please fix the build") {
		t.Errorf("tape does not contain appended input: %q", snap.Tape)
	}
	if !strings.Contains(snap.Tape, "[USER_INPUT") {
		t.Errorf("tape missing USER_INPUT label: %q", snap.Tape)
	}
}

func TestAppendInputRearmsAfterHalt(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle(nil)
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.Workspace().WriteQ(pointer.HaltLiteral); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}
	if err := rt.Workspace().WriteD(pointer.HaltLiteral); err != nil {
		t.Fatalf("WriteD: %v", err)
	}

	if err := rt.AppendInput(context.Background(), "one more thing"); err != nil {
		t.Fatalf("AppendInput: %v", err)
	}

	snap, err := rt.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Q != "q_1: PROCESSING_USER_REQUEST" {
		t.Errorf("Q = %q, want rearmed state", snap.Q)
	}
	if snap.D != pointer.MainTape {
		t.Errorf("D = %q, want %q", snap.D, pointer.MainTape)
	}
}

func TestRunDrivesToHaltAndRecordsLedger(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle([]oracle.Transition{
		{QNext: pointer.HaltLiteral, SPrime: "👆", DNext: pointer.HaltLiteral},
	})

	ledger, err := audit.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	rt, err := New(newTestConfig(dir), orc, "", WithLedger(ledger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	q, d, err := rt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q != pointer.HaltLiteral || d != pointer.HaltLiteral {
		t.Fatalf("Run returned (%q, %q), want HALT/HALT", q, d)
	}

	n, err := ledger.CountForWorkspace(dir)
	if err != nil {
		t.Fatalf("CountForWorkspace: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 ledger row, got %d", n)
	}
}

func TestTickRearmsHaltWithoutEvidenceInTapeTail(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle([]oracle.Transition{
		{QNext: "q_2: verifying", SPrime: "👆", DNext: pointer.MainTape},
	})
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.Workspace().WriteQ(pointer.HaltLiteral); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}
	if err := rt.Workspace().WriteD(pointer.HaltLiteral); err != nil {
		t.Fatalf("WriteD: %v", err)
	}

	q, d, halted, err := rt.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if halted {
		t.Fatalf("expected the evidence gate to re-arm instead of re-halting immediately, got halted=%v q=%q d=%q", halted, q, d)
	}
}

func TestTickRepairsPointerAtMissingFile(t *testing.T) {
	dir := t.TempDir()
	var observedD string
	orc := oracle.NewScriptedOracle(nil)
	orc.OnCall = func(q, s, d string) (oracle.Transition, bool) {
		observedD = d
		return oracle.Transition{QNext: pointer.HaltLiteral, SPrime: "👆", DNext: pointer.HaltLiteral}, true
	}
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.Workspace().WriteQ("q_1: PROCESSING_USER_REQUEST"); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}
	if err := rt.Workspace().WriteD("./does_not_exist.txt"); err != nil {
		t.Fatalf("WriteD: %v", err)
	}

	if _, _, _, err := rt.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if observedD != pointer.MainTape {
		t.Errorf("oracle observed d = %q, want the pointer repaired to %q before the tick ran", observedD, pointer.MainTape)
	}
}

func TestTickPublishesHeartbeatRecoveryEventOnStall(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle([]oracle.Transition{
		{QNext: "q_1: PROCESSING_USER_REQUEST", SPrime: "👆", DNext: pointer.MainTape},
	})
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	rt.heartbeat = recovery.NewHeartbeat(0, 3, "q_1: PROCESSING_USER_REQUEST", time.Now())
	if err := rt.Workspace().WriteQ("q_1: PROCESSING_USER_REQUEST"); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}

	ch, unsubscribe := rt.Bus().Subscribe(4)
	defer unsubscribe()

	if _, _, _, err := rt.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var sawRecovery bool
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindRecovery {
				sawRecovery = true
			}
		default:
			goto done
		}
	}
done:
	if !sawRecovery {
		t.Error("expected a KindRecovery event from the stalled heartbeat")
	}
}

func TestTickRecordsTrapColumnsInTheLedger(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle([]oracle.Transition{
		{QNext: "q_1: walking off the map", SPrime: "👆", DNext: "not a pointer ???"},
		{QNext: pointer.HaltLiteral, SPrime: "👆", DNext: pointer.HaltLiteral},
	})

	ledger, err := audit.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	rt, err := New(newTestConfig(dir), orc, "", WithLedger(ledger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if _, _, _, err := rt.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rec, err := ledger.Latest(dir)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !rec.Trapped || rec.TrapCode != "INVALID_POINTER" {
		t.Errorf("Trapped/TrapCode = %v/%q, want true/INVALID_POINTER", rec.Trapped, rec.TrapCode)
	}
}

func TestRuntimeBroadcastsExternallyWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle(nil)
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	ch, unsubscribe := rt.Bus().Subscribe(16)
	defer unsubscribe()

	external := filepath.Join(dir, "report.md")
	if err := os.WriteFile(external, []byte("generated externally"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindFileWrite && ev.Path == external {
				return
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Errorf("expected a KindFileWrite event for %s within the deadline", external)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	orc := oracle.NewScriptedOracle([]oracle.Transition{
		{QNext: pointer.HaltLiteral, SPrime: "👆", DNext: pointer.HaltLiteral},
	})
	rt, err := New(newTestConfig(dir), orc, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	rt.mu.Lock()
	rt.running = true
	rt.mu.Unlock()

	_, _, err = rt.Run(context.Background())
	if err != ErrAlreadyRunning {
		t.Fatalf("Run = %v, want ErrAlreadyRunning", err)
	}
}
