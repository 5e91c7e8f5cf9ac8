// Package logger configures the process-wide structured logger used by
// every ambient concern (config loading, workspace boot, kernel ticks,
// oracle calls) that isn't itself part of MAIN_TAPE.md. Tick-scoped
// detail belongs on the tape, where the oracle can see it; this logger is
// for the operator, not the oracle, so every line it emits is tagged with
// the workspace and, where one is live, the tick's own (q, d) registers.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var Log *slog.Logger

// Init builds the global logger from a level name and an optional
// additional file destination — stdout is always written to, logFile (if
// non-empty) is tee'd alongside it.
func Init(level string, logFile string) error {
	w, err := multiWriter(logFile)
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: shortenTime,
	})
	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func multiWriter(logFile string) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	return io.MultiWriter(writers...), nil
}

// shortenTime trims the default RFC3339 timestamp down to wall-clock time —
// a long-running workspace's log is read interactively far more often than
// it's grepped by date.
func shortenTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String("time", a.Value.Time().Format("15:04:05"))
	}
	return a
}

// ForWorkspace returns a child logger tagging every line with the
// workspace directory, so multiple workspaces run sequentially in one
// process (never concurrently — the per-workspace lock forbids that) stay
// distinguishable in a shared log file. Falls back to slog's default
// logger if Init hasn't run yet, so a caller that boots a workspace before
// wiring logging still gets a usable logger instead of a nil dereference.
func ForWorkspace(dir string) *slog.Logger {
	base := Log
	if base == nil {
		base = slog.Default()
	}
	return base.With("workspace", dir)
}

// ForTick returns a child of a workspace logger tagging every line with the
// registers the current tick is acting on, so a log grep for a stuck
// pointer or state lands on every recovery/exec/timeout warning logged
// while the kernel was parked there.
func ForTick(base *slog.Logger, q, d string) *slog.Logger {
	return base.With("q", q, "d", d)
}
