// Package audit is an append-only sqlite ledger recording one row per tick:
// the (pointer, state) pair before and after the tick, whether the tick
// trapped, and whether the watchdog or cycle breaker fired. It is a
// supervisory record — the kernel's correctness never depends on it; a
// missing or corrupt ledger file never blocks a tick. Backed by modernc.org/sqlite in
// WAL mode, with an embedded, version-tracked migrations directory.
package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger is the append-only tick record.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dsn and applies
// any pending migrations.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// TickRecord is one row of the ledger.
type TickRecord struct {
	// RunID groups every tick belonging to one Runtime.Run invocation; a
	// bare Runtime.Tick supplies a fresh ID per tick.
	// If left blank, Append mints a fresh one so each row still gets an
	// identifier of its own.
	RunID             string
	Workspace         string
	PointerBefore     string
	StateBefore       string
	PointerAfter      string
	StateAfter        string
	Trapped           bool
	TrapCode          string
	WatchdogTriggered bool
	WatchdogReason    string
	BreakerTripped    bool
}

// Append inserts one tick record.
func (l *Ledger) Append(r TickRecord) error {
	runID := r.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	_, err := l.db.Exec(`INSERT INTO ticks
		(run_id, workspace, pointer_before, state_before, pointer_after, state_after,
		 trapped, trap_code, watchdog_triggered, watchdog_reason, breaker_tripped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Workspace, r.PointerBefore, r.StateBefore, r.PointerAfter, r.StateAfter,
		boolToInt(r.Trapped), r.TrapCode, boolToInt(r.WatchdogTriggered), r.WatchdogReason, boolToInt(r.BreakerTripped))
	if err != nil {
		return fmt.Errorf("append tick record: %w", err)
	}
	return nil
}

// CountForRun returns the number of ticks recorded under a single run ID.
func (l *Ledger) CountForRun(runID string) (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM ticks WHERE run_id = ?", runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ticks for run: %w", err)
	}
	return n, nil
}

// CountForWorkspace returns the number of ticks recorded for a workspace.
func (l *Ledger) CountForWorkspace(workspace string) (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM ticks WHERE workspace = ?", workspace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

// Latest returns the most recently appended row for a workspace, so a
// postmortem can answer "did the last tick trap, and why" without a
// separate sqlite client.
func (l *Ledger) Latest(workspace string) (TickRecord, error) {
	var r TickRecord
	var trapped, watchdogTriggered, breakerTripped int
	err := l.db.QueryRow(`SELECT run_id, workspace, pointer_before, state_before, pointer_after, state_after,
		trapped, trap_code, watchdog_triggered, watchdog_reason, breaker_tripped
		FROM ticks WHERE workspace = ? ORDER BY id DESC LIMIT 1`, workspace).Scan(
		&r.RunID, &r.Workspace, &r.PointerBefore, &r.StateBefore, &r.PointerAfter, &r.StateAfter,
		&trapped, &r.TrapCode, &watchdogTriggered, &r.WatchdogReason, &breakerTripped)
	if err != nil {
		return TickRecord{}, fmt.Errorf("latest tick record: %w", err)
	}
	r.Trapped = trapped != 0
	r.WatchdogTriggered = watchdogTriggered != 0
	r.BreakerTripped = breakerTripped != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
