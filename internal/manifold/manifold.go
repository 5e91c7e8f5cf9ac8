// Package manifold is the sole adapter between the abstract pointer space
// and the physical world: it resolves a pointer to a bounded text slice
// (Observe) and applies a write/append (Interfere), dispatching file,
// shell, URL, and sys:// pointers, with process exec under a timeout and
// file IO confined to the workspace root.
package manifold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/turingloop/machine/internal/machine"
	"github.com/turingloop/machine/internal/pointer"
)

// ErrPathEscape is returned when a file pointer resolves outside the
// workspace real-path.
var ErrPathEscape = errors.New("PATH_ESCAPE")

// Manifold dispatches observe/interfere by pointer class.
type Manifold struct {
	root        string // real-path of the workspace root
	sliceLines  int
	maxStdout   int
	execTimeout time.Duration
	httpClient  *http.Client
	log         *slog.Logger
}

// Option configures a Manifold.
type Option func(*Manifold)

func WithSliceLines(n int) Option { return func(m *Manifold) { m.sliceLines = n } }
func WithMaxStdout(n int) Option  { return func(m *Manifold) { m.maxStdout = n } }
func WithExecTimeout(d time.Duration) Option {
	return func(m *Manifold) { m.execTimeout = d }
}
func WithLogger(l *slog.Logger) Option { return func(m *Manifold) { m.log = l } }

// New resolves root's real path (following symlinks) and returns a Manifold
// rooted there. Every file pointer is checked against this real path before
// any IO, so a symlink cannot be used to escape the workspace.
func New(root string, opts ...Option) (*Manifold, error) {
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		// Workspace may not exist yet on first boot; fall back to the
		// cleaned absolute path and let the first MkdirAll create it.
		abs, aerr := filepath.Abs(root)
		if aerr != nil {
			return nil, aerr
		}
		real = abs
	}
	m := &Manifold{
		root:        real,
		sliceLines:  machine.SliceLinesDefault,
		maxStdout:   machine.MaxStdoutDefault,
		execTimeout: machine.ExecTimeoutDefault * time.Second,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Root returns the manifold's resolved workspace root.
func (m *Manifold) Root() string { return m.root }

// Observe resolves a normalized pointer to its bounded text slice.
func (m *Manifold) Observe(ctx context.Context, d string) (string, error) {
	switch pointer.Classify(d) {
	case pointer.File:
		return m.observeFile(d)
	case pointer.Shell:
		cmd, _ := pointer.ShellCommand(d)
		return m.observeShell(ctx, cmd), nil
	case pointer.URL:
		return m.observeURL(ctx, d), nil
	case pointer.System:
		return "", nil
	case pointer.Trap:
		return fmt.Sprintf("[TRAP DIAGNOSTIC] code=%s", pointer.TrapCode(d)), nil
	case pointer.Halt:
		return "", nil
	default:
		return "", nil
	}
}

// Interfere applies s_prime to the current pointer d. Only file pointers
// accept writes; every other class silently drops the write here, and no
// guard rule reports the dropped write.
func (m *Manifold) Interfere(d, sPrime string) error {
	if sPrime == machine.NoWriteMarker || sPrime == "" {
		return nil
	}
	if pointer.Classify(d) != pointer.File {
		return nil
	}
	return m.appendFile(d, sPrime)
}

// Exec runs cmd directly via the shell path, independent of any pointer —
// used by the <EXEC> structured action , as opposed to
// Observe's Shell-pointer dispatch which requires the "$ " pointer prefix.
func (m *Manifold) Exec(ctx context.Context, cmd string) (string, error) {
	return m.observeShell(ctx, cmd), nil
}

// resolve turns a File-class pointer into an absolute path guaranteed to sit
// inside the workspace root, or ErrPathEscape.
func (m *Manifold) resolve(d string) (string, error) {
	rel := pointer.AsFilePath(d)
	var abs string
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	} else {
		abs = filepath.Join(m.root, rel[2:]) // strip "./"
	}

	checked := abs
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		checked = real
	} else if dirReal, derr := filepath.EvalSymlinks(filepath.Dir(abs)); derr == nil {
		checked = filepath.Join(dirReal, filepath.Base(abs))
	}

	if checked != m.root && !isWithin(m.root, checked) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, d)
	}
	return abs, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || rel[2] == filepath.Separator)
}

func readAll(r io.Reader, limit int) ([]byte, bool) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return buf, false
	}
	truncated := len(buf) > limit
	if truncated {
		buf = buf[:limit]
	}
	return buf, truncated
}
