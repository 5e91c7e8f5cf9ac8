package registers

import (
	"os"
	"strconv"
	"testing"
)

func TestBootInitializesDefaults(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	q, _ := w.ReadQ()
	d, _ := w.ReadD()
	if q != DefaultQ0 {
		t.Errorf("q = %q", q)
	}
	if d != "./MAIN_TAPE.md" {
		t.Errorf("d = %q", d)
	}
	if _, err := os.Stat(w.TapePath()); err != nil {
		t.Errorf("expected MAIN_TAPE.md to exist: %v", err)
	}
}

func TestWriteReadRegistersRoundTrip(t *testing.T) {
	w, _ := Open(t.TempDir())
	if err := w.WriteQ("q_1: PROCESSING_USER_REQUEST"); err != nil {
		t.Fatalf("WriteQ: %v", err)
	}
	if err := w.WriteD("./state.log"); err != nil {
		t.Fatalf("WriteD: %v", err)
	}
	q, _ := w.ReadQ()
	d, _ := w.ReadD()
	if q != "q_1: PROCESSING_USER_REQUEST" || d != "./state.log" {
		t.Errorf("got q=%q d=%q", q, d)
	}
}

func TestWriteRegisterRejectsEmpty(t *testing.T) {
	w, _ := Open(t.TempDir())
	if err := w.WriteQ("   "); err == nil {
		t.Fatal("expected error writing empty register")
	}
}

func TestAcquireReleaseLock(t *testing.T) {
	w, _ := Open(t.TempDir())
	if err := w.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := w.Acquire(); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld from a second live holder, got %v", err)
	}
	if err := w.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := w.Acquire(); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	w, _ := Open(t.TempDir())
	// Simulate a lock left behind by a dead process: PID 1 owned by init is
	// alive in most containers, so instead pick a PID that is extremely
	// unlikely to be running: a very high, reserved-looking number.
	stalePID := 999999
	lockPath := w.regPath(lockFile)
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(stalePID)), 0644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}
	if err := w.Acquire(); err != nil {
		t.Fatalf("expected stale lock reclamation, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	w, _ := Open(t.TempDir())
	if err := w.Release(); err != nil {
		t.Fatalf("Release on absent lock should be nil, got %v", err)
	}
}
