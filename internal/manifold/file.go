package manifold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turingloop/machine/internal/machine"
)

// observeFile implements the slice truncation scheme: files under the
// line threshold are returned whole, each line prefixed by its
// 1-based number; longer files show a head/tail window around a single
// truncation marker that records the hidden line count.
func (m *Manifold) observeFile(d string) (string, error) {
	abs, err := m.resolve(d)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return machine.FileNotFound, nil
		}
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			return machine.FileNotFound, nil
		}
		return "", err
	}

	lines := splitLines(string(data))
	total := len(lines)
	if total <= m.sliceLines {
		return numberLines(lines, 1), nil
	}

	head := numberLines(lines[:machine.SliceHeadLines], 1)
	tailStart := total - machine.SliceTailLines
	tail := numberLines(lines[tailStart:], tailStart+1)
	hidden := tailStart - machine.SliceHeadLines

	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n")
	fmt.Fprintf(&b, "... [%d lines hidden] ...\n", hidden)
	b.WriteString(tail)
	return b.String(), nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func numberLines(lines []string, startAt int) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%04d\t%s\n", startAt+i, l)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// appendFile is the free-form write path: a leading newline then the
// payload, applied to the current pointer only .
func (m *Manifold) appendFile(d, payload string) error {
	abs, err := m.resolve(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("\n" + payload)
	return err
}

// ReadLines returns the current cell's raw lines (no numbering), used by the
// structured-action span editor.
func (m *Manifold) ReadLines(d string) ([]string, error) {
	abs, err := m.resolve(d)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return splitLines(string(data)), nil
}

// WriteLines rewrites the current cell from scratch via temp-file+rename, so
// a span edit is never observed half-written.
func (m *Manifold) WriteLines(d string, lines []string) error {
	abs, err := m.resolve(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, abs)
}
