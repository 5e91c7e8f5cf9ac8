// Package registers owns the workspace directory: the two non-volatile
// registers (.reg_q, .reg_d), MAIN_TAPE.md, and the per-workspace
// single-writer lock, reclaimed via a PID-liveness probe
// (os.FindProcess + Signal(0)) when the lock holder is gone.
package registers

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/turingloop/machine/internal/pointer"
)

const (
	regQFile   = ".reg_q"
	regDFile   = ".reg_d"
	lockFile   = ".runtime_lock"
	DefaultQ0  = "q_0: SYSTEM_BOOTING"
	tapeHeader = "" // MAIN_TAPE.md starts empty; the oracle fills it in.
)

// Workspace is the on-disk home of one machine's state.
type Workspace struct {
	Dir string
}

// Open ensures dir exists and returns a handle to it. It does not touch the
// registers or lock — call Boot for that.
func Open(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Boot initializes any missing register or tape file to its default:
// q_0=SYSTEM_BOOTING, d_0=./MAIN_TAPE.md.
func (w *Workspace) Boot() error {
	if _, err := os.Stat(w.regPath(regQFile)); os.IsNotExist(err) {
		if err := w.WriteQ(DefaultQ0); err != nil {
			return err
		}
	}
	if _, err := os.Stat(w.regPath(regDFile)); os.IsNotExist(err) {
		if err := w.WriteD(pointer.MainTape); err != nil {
			return err
		}
	}
	tapePath := filepath.Join(w.Dir, "MAIN_TAPE.md")
	if _, err := os.Stat(tapePath); os.IsNotExist(err) {
		if err := os.WriteFile(tapePath, []byte(tapeHeader), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) regPath(name string) string { return filepath.Join(w.Dir, name) }

// ReadQ / ReadD read a register, trimmed, defaulting if absent.
func (w *Workspace) ReadQ() (string, error) { return w.readRegister(regQFile, DefaultQ0) }
func (w *Workspace) ReadD() (string, error) { return w.readRegister(regDFile, pointer.MainTape) }

func (w *Workspace) readRegister(name, def string) (string, error) {
	data, err := os.ReadFile(w.regPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return "", err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return def, nil
	}
	return s, nil
}

// WriteQ / WriteD perform an atomic trimmed-string write with trailing
// newline. A tick writes q then d, never interleaved with
// the next tick's read, so a crash between WriteQ and WriteD leaves the
// previous tick's d intact and the new q — kernel.RunToHalt reads that
// pair back from disk and continues from there.
func (w *Workspace) WriteQ(q string) error { return w.writeRegister(regQFile, q) }
func (w *Workspace) WriteD(d string) error { return w.writeRegister(regDFile, d) }

func (w *Workspace) writeRegister(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("register write rejected: empty value for %s", name)
	}
	tmp, err := os.CreateTemp(w.Dir, ".tmp-reg-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, w.regPath(name))
}

// TapePath is the absolute path to MAIN_TAPE.md.
func (w *Workspace) TapePath() string { return filepath.Join(w.Dir, "MAIN_TAPE.md") }

// ReadTape returns the full current MAIN_TAPE.md contents.
func (w *Workspace) ReadTape() (string, error) {
	data, err := os.ReadFile(w.TapePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Acquire attempts exclusive creation of .runtime_lock containing this
// process's PID. If the file exists, it reads the holder PID and tests
// liveness with a signal-0 probe; a dead holder's lock is reclaimed and the
// attempt retried exactly once.
func (w *Workspace) Acquire() error {
	if err := w.tryCreateLock(); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return err
	}

	holder, rerr := w.readLockPID()
	if rerr == nil && !pidAlive(holder) {
		os.Remove(w.regPath(lockFile))
		if err := w.tryCreateLock(); err == nil {
			return nil
		}
	}
	return ErrLockHeld
}

// ErrLockHeld is returned when another live process holds the workspace
// lock after one stale-lock reclamation attempt.
var ErrLockHeld = fmt.Errorf("LOCK_HELD")

func (w *Workspace) tryCreateLock() error {
	f, err := os.OpenFile(w.regPath(lockFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

func (w *Workspace) readLockPID() (int, error) {
	data, err := os.ReadFile(w.regPath(lockFile))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Release removes the lock file. Idempotent: removing an absent lock is not
// an error.
func (w *Workspace) Release() error {
	err := os.Remove(w.regPath(lockFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
