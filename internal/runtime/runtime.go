// Package runtime is the facade the command-line front end drives: it boots
// a workspace, appends user input to the tape, runs the tick loop to halt,
// and exposes read-only snapshots of the registers and tape. Every value
// this package needs — config, oracle, ledger — is passed in by its
// builder; there is no package-level global runtime state, so multiple
// workspaces can be driven from one process without interfering with each
// other.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/turingloop/machine/internal/audit"
	"github.com/turingloop/machine/internal/config"
	"github.com/turingloop/machine/internal/events"
	"github.com/turingloop/machine/internal/kernel"
	"github.com/turingloop/machine/internal/logger"
	"github.com/turingloop/machine/internal/manifold"
	"github.com/turingloop/machine/internal/oracle"
	"github.com/turingloop/machine/internal/pointer"
	"github.com/turingloop/machine/internal/recovery"
	"github.com/turingloop/machine/internal/registers"
)

const (
	defaultStallThreshold      = 2 * time.Minute
	defaultMaxRecoveryAttempts = 3
	tapeTailRunes              = 4000
)

// Runtime wires one workspace's registers, manifold, kernel, event bus, and
// (optional) audit ledger together, and serializes every run against it —
// a workspace never runs two ticks loops concurrently.
type Runtime struct {
	cfg         config.Config
	ws          *registers.Workspace
	mf          *manifold.Manifold
	kn          *kernel.Kernel
	bus         *events.Bus
	ledger      *audit.Ledger
	log         *slog.Logger
	evidence    *recovery.EvidenceGate
	heartbeat   *recovery.Heartbeat
	watcher     *events.Watcher
	watchCancel context.CancelFunc
	mu          sync.Mutex
	running     bool
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLedger attaches an audit ledger; every halted or trapped tick is
// still ledger-free by default (nil Ledger is a valid no-op) since the
// ledger is a supervisory record, not a kernel dependency.
func WithLedger(l *audit.Ledger) Option {
	return func(r *Runtime) { r.ledger = l }
}

// WithBus attaches an externally-constructed event bus instead of a fresh
// one, so callers can subscribe before the first tick runs.
func WithBus(b *events.Bus) Option {
	return func(r *Runtime) { r.bus = b }
}

// New boots the workspace at cfg.Workspace, wires a manifold and oracle
// from cfg, and returns a ready-to-run Runtime. discipline is the raw
// discipline document text (already loaded by the caller via
// oracle.LoadDiscipline).
func New(cfg config.Config, orc oracle.Oracle, discipline string, opts ...Option) (*Runtime, error) {
	ws, err := registers.Open(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if err := ws.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if err := ws.Boot(); err != nil {
		return nil, fmt.Errorf("boot workspace: %w", err)
	}

	log := logger.ForWorkspace(cfg.Workspace)

	mf, err := manifold.New(cfg.Workspace,
		manifold.WithSliceLines(cfg.SliceLines),
		manifold.WithMaxStdout(cfg.MaxStdout),
		manifold.WithExecTimeout(cfg.ExecTimeout()),
		manifold.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("build manifold: %w", err)
	}

	initialHead, err := recovery.StateHead(ws)
	if err != nil {
		return nil, fmt.Errorf("read initial state head: %w", err)
	}

	r := &Runtime{
		cfg:       cfg,
		ws:        ws,
		mf:        mf,
		bus:       events.NewBus(),
		log:       log,
		evidence:  &recovery.EvidenceGate{},
		heartbeat: recovery.NewHeartbeat(defaultStallThreshold, defaultMaxRecoveryAttempts, initialHead, time.Now()),
	}
	for _, opt := range opts {
		opt(r)
	}

	kn := kernel.New(ws, mf, orc, discipline)
	kn.Broadcast = r.bus
	kn.Log = log
	r.kn = kn

	r.startFileWatch()

	return r, nil
}

// startFileWatch begins watching the workspace root for externally-authored
// files and republishing them on the bus as KindFileWrite events, so a
// subscriber can see e.g. a long-running EXEC dropping report.md without
// polling. Best-effort: a platform where fsnotify can't watch the root (rare
// outside containers with inotify limits exhausted) logs a warning and
// leaves the runtime usable without the feature, since the tick loop never
// depends on it.
func (r *Runtime) startFileWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := events.NewWatcher(r.cfg.Workspace, r.bus, r.log)
	if err != nil {
		cancel()
		r.log.Warn("file watch disabled", "error", err)
		return
	}
	r.watcher = w
	r.watchCancel = cancel
	go w.Run(ctx)
}

// Bus returns the runtime's event bus, for subscribers.
func (r *Runtime) Bus() *events.Bus { return r.bus }

// Workspace exposes the underlying registers handle for read-only status
// queries (ReadQ/ReadD/ReadTape) without giving callers write access to the
// kernel's internals.
func (r *Runtime) Workspace() *registers.Workspace { return r.ws }

// AppendInput appends user-submitted text to MAIN_TAPE.md as a labeled
// block, and — if the workspace had previously halted — resets q to
// PROCESSING_USER_REQUEST and d back to the tape so the next Run call picks
// the new input up, rather than silently re-observing a stale halt.
func (r *Runtime) AppendInput(ctx context.Context, text string) error {
	q, err := r.ws.ReadQ()
	if err != nil {
		return fmt.Errorf("read q: %w", err)
	}

	block := fmt.Sprintf("\n[USER_INPUT %s]\n%s\n", time.Now().UTC().Format(time.RFC3339), text)
	if err := r.mf.Interfere(pointer.MainTape, block); err != nil {
		return fmt.Errorf("append input: %w", err)
	}

	if isHaltedState(q) {
		if err := r.ws.WriteQ("q_1: PROCESSING_USER_REQUEST"); err != nil {
			return fmt.Errorf("rearm q: %w", err)
		}
		if err := r.ws.WriteD(pointer.MainTape); err != nil {
			return fmt.Errorf("rearm d: %w", err)
		}
	}
	return nil
}

func isHaltedState(q string) bool {
	return q == pointer.HaltLiteral
}

// Snapshot is a read-only view of the workspace's current registers and
// tape, for status reporting.
type Snapshot struct {
	Q    string
	D    string
	Tape string
}

// Status reads the current registers and tape without mutating anything.
func (r *Runtime) Status() (Snapshot, error) {
	q, err := r.ws.ReadQ()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read q: %w", err)
	}
	d, err := r.ws.ReadD()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read d: %w", err)
	}
	tape, err := r.ws.ReadTape()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read tape: %w", err)
	}
	return Snapshot{Q: q, D: d, Tape: tape}, nil
}

// ErrAlreadyRunning is returned by Run when another goroutine is already
// driving this workspace's tick loop.
var ErrAlreadyRunning = fmt.Errorf("RUNTIME_ALREADY_RUNNING")

// Tick runs exactly one iteration of the loop starting from the
// workspace's persisted registers, records a ledger row if a Ledger is
// attached, and returns the new (q, d) and whether it halted. Unlike Run,
// it does not loop to halt on its own — callers drive the cadence.
func (r *Runtime) Tick(ctx context.Context) (q, d string, halted bool, err error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", "", false, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	qBefore, err := r.ws.ReadQ()
	if err != nil {
		return "", "", false, fmt.Errorf("read q: %w", err)
	}
	dBefore, err := r.ws.ReadD()
	if err != nil {
		return "", "", false, fmt.Errorf("read d: %w", err)
	}

	qBefore, dBefore, err = r.applyRecovery(qBefore, dBefore)
	if err != nil {
		return "", "", false, err
	}

	q, d, halted, err = r.kn.Tick(ctx, qBefore, dBefore)
	if err != nil {
		return q, d, halted, err
	}
	if r.ledger != nil {
		r.recordTick(uuid.New().String(), qBefore, dBefore, q, d)
	}
	return q, d, halted, nil
}

// applyRecovery consults the evidence gate, then pointer repair, then the
// stagnation heartbeat before a tick runs; the first overlay that fires ends
// the check. The gate and the repair rewrite and persist (q, d); the
// heartbeat leaves them as they are. A fired overlay appends its note to
// MAIN_TAPE.md and is published on the bus as a KindRecovery event so a
// subscriber can see why the registers changed without a tick having
// happened.
func (r *Runtime) applyRecovery(q, d string) (string, string, error) {
	tape, err := r.ws.ReadTape()
	if err != nil {
		return q, d, fmt.Errorf("read tape for recovery check: %w", err)
	}
	tail := tape
	if runes := []rune(tail); len(runes) > tapeTailRunes {
		tail = string(runes[len(runes)-tapeTailRunes:])
	}

	if newQ, newD, rearmed, err := r.evidence.Check(q, tail); err != nil {
		return q, d, fmt.Errorf("evidence gate: %w", err)
	} else if rearmed {
		if err := r.persistRegisters(newQ, newD); err != nil {
			return q, d, err
		}
		note := r.evidence.Note()
		if err := r.mf.Interfere(newD, "\n"+note+"\n"); err != nil {
			return q, d, fmt.Errorf("append recovery note: %w", err)
		}
		logger.ForTick(r.log, q, d).Warn("recovery: re-armed halt without evidence", "note", note)
		r.bus.Publish(events.Event{Kind: events.KindRecovery, Q: newQ, D: newD, Note: note})
		return newQ, newD, nil
	}

	norm := pointer.Normalize(d)
	if pointer.Classify(norm) == pointer.File {
		exists, isDir := r.statPointer(norm)
		if newQ, newD, repaired := recovery.RepairPointer(norm, exists, isDir); repaired {
			if err := r.persistRegisters(newQ, newD); err != nil {
				return q, d, err
			}
			note := recovery.RepairNote(d)
			if err := r.mf.Interfere(newD, "\n"+note+"\n"); err != nil {
				return q, d, fmt.Errorf("append recovery note: %w", err)
			}
			logger.ForTick(r.log, q, d).Warn("recovery: repaired unusable head pointer", "note", note)
			r.bus.Publish(events.Event{Kind: events.KindRecovery, Q: newQ, D: newD, Note: note})
			return newQ, newD, nil
		}
	}

	head, err := recovery.StateHead(r.ws)
	if err != nil {
		return q, d, fmt.Errorf("read state head for heartbeat: %w", err)
	}
	if note, fire, err := r.heartbeat.Observe(head, time.Now()); err != nil {
		return q, d, fmt.Errorf("heartbeat: %w", err)
	} else if fire {
		if err := r.mf.Interfere(pointer.MainTape, "\n"+note+"\n"); err != nil {
			return q, d, fmt.Errorf("append recovery note: %w", err)
		}
		logger.ForTick(r.log, q, d).Warn("recovery: heartbeat stall detected", "head", head, "note", note)
		r.bus.Publish(events.Event{Kind: events.KindRecovery, Q: q, D: d, Note: note})
	}

	return q, d, nil
}

// statPointer reports whether a normalized File-class pointer resolves to
// an existing path inside the workspace, and whether that path is a
// directory.
func (r *Runtime) statPointer(norm string) (exists, isDir bool) {
	rel := pointer.AsFilePath(norm)
	rel = filepath.Clean(rel)
	full := rel
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.cfg.Workspace, rel)
	} else if root, err := filepath.Abs(r.cfg.Workspace); err != nil {
		return false, false
	} else if inside, err := filepath.Rel(root, full); err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return false, false
	}
	info, err := os.Stat(full)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

func (r *Runtime) persistRegisters(q, d string) error {
	if err := r.ws.WriteQ(q); err != nil {
		return fmt.Errorf("persist recovered q: %w", err)
	}
	if err := r.ws.WriteD(d); err != nil {
		return fmt.Errorf("persist recovered d: %w", err)
	}
	return nil
}

// Run drives the tick loop to halt, recording one ledger row per tick if a
// Ledger is attached. At most one Run executes per Runtime at a time; a
// concurrent call returns ErrAlreadyRunning immediately rather than
// blocking, since two loops racing over one workspace would violate the
// single-writer assumption the registers lock encodes.
func (r *Runtime) Run(ctx context.Context) (finalQ, finalD string, err error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", "", ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	return r.runLoop(ctx)
}

// runLoop drives the tick loop one tick at a time rather than delegating to
// kernel.RunToHalt, since each iteration needs applyRecovery's chance to
// rewrite (q, d) first. Every row an attached ledger records is tagged with
// one run ID shared across the whole loop, so CountForRun can answer "how
// many ticks did this run take".
func (r *Runtime) runLoop(ctx context.Context) (string, string, error) {
	runID := uuid.New().String()

	q, err := r.ws.ReadQ()
	if err != nil {
		return "", "", fmt.Errorf("read q: %w", err)
	}
	d, err := r.ws.ReadD()
	if err != nil {
		return "", "", fmt.Errorf("read d: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return q, d, ctx.Err()
		default:
		}

		q, d, err = r.applyRecovery(q, d)
		if err != nil {
			return q, d, err
		}

		qBefore, dBefore := q, d
		var halted bool
		q, d, halted, err = r.kn.Tick(ctx, q, d)
		if err != nil {
			return q, d, err
		}

		r.recordTick(runID, qBefore, dBefore, q, d)

		if halted {
			return q, d, nil
		}
	}
}

func (r *Runtime) recordTick(runID, qBefore, dBefore, qAfter, dAfter string) {
	if r.ledger == nil {
		return
	}
	trapped, trapCode, watchdogTriggered, watchdogReason, breakerTripped := classifyTickOutcome(qAfter, dAfter)
	rec := audit.TickRecord{
		RunID:             runID,
		Workspace:         r.cfg.Workspace,
		PointerBefore:     dBefore,
		StateBefore:       qBefore,
		PointerAfter:      dAfter,
		StateAfter:        qAfter,
		Trapped:           trapped,
		TrapCode:          trapCode,
		WatchdogTriggered: watchdogTriggered,
		WatchdogReason:    watchdogReason,
		BreakerTripped:    breakerTripped,
	}
	// Best-effort: a ledger write failure never blocks the tick loop, since
	// the ledger is a supervisory record the kernel's correctness does not
	// depend on.
	_ = r.ledger.Append(rec)
}

// classifyTickOutcome recovers whether a tick trapped, triggered the
// watchdog, or tripped the cycle breaker by reading the markers
// guard/watchdog/breaker already embed in (qAfter, dAfter) — kernel.Tick's
// return signature carries only the bare registers, so the ledger's richer
// columns are reconstructed here rather than threaded through every caller.
func classifyTickOutcome(qAfter, dAfter string) (trapped bool, trapCode string, watchdogTriggered bool, watchdogReason string, breakerTripped bool) {
	if pointer.Classify(dAfter) == pointer.Trap {
		trapped = true
		trapCode = pointer.TrapCode(dAfter)
		const trapPrefix = "[TRAP:"
		if end := strings.Index(qAfter, "]"); strings.HasPrefix(qAfter, trapPrefix) && end > len(trapPrefix) {
			trapCode = qAfter[len(trapPrefix):end]
		}
	}

	const watchdogPrefix = "[WATCHDOG_RECOVERY:"
	if dAfter == pointer.SysErrRecovery && strings.HasPrefix(qAfter, watchdogPrefix) {
		watchdogTriggered = true
		if end := strings.Index(qAfter, "]"); end > len(watchdogPrefix) {
			watchdogReason = qAfter[len(watchdogPrefix):end]
		}
	}

	if qAfter == "FATAL_DEBUG" {
		breakerTripped = true
	}
	return
}

// Close stops the file watcher if one is running, releases the workspace
// lock if held, and closes the ledger, if any.
func (r *Runtime) Close() error {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	if r.ledger != nil {
		_ = r.ledger.Close()
	}
	return r.ws.Release()
}
