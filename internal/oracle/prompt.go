package oracle

import (
	"fmt"
	"os"
	"strings"
)

// machineProtocolPreamble is the fixed ten-rule preamble every oracle call
// carries. It is prepended to the discipline document, never
// written to disk, and never varies per call.
const machineProtocolPreamble = `MACHINE PROTOCOL (read carefully, applies to every call):
1. You are a stateless transition function. Nothing you remember from a
   previous call persists; the only memory is what is shown to you below.
2. You must return exactly one transition: {q_next, s_prime, d_next}.
3. s_prime, if not the no-write marker "👆", is applied to the CURRENT
   pointer d — not to d_next. Writes never land on the cell you are about
   to move to.
4. To both inspect a new location and then write to it, use two ticks: the
   first navigates (d_next = the new location, s_prime = "👆"), the second
   writes there once it is the current pointer.
5. MAIN_TAPE.md is the shared log. Writing to it while it is the current
   pointer is blocked unless q_next contains the literal marker
   "[ALLOW_MAIN_TAPE_WRITE]".
6. When a requirement says to copy something "exactly" or "verbatim",
   reproduce it byte-for-byte; do not paraphrase or reformat it.
7. d_next must be one of: HALT, a sys:// pointer, a shell command prefixed
   with "$ ", a tty:// pointer, an http(s):// URL, or a file path. Anything
   else is an invalid pointer and traps the run.
8. To end the run, set q_next to HALT and d_next to HALT. Both must agree;
   a mismatched halt is corrected for you but wastes a tick.
9. Long files are shown head-and-tail with a count of hidden lines. Use
   ERASE/REPLACE span edits (or ask to see a different slice) rather than
   assuming what the hidden middle contains.
10. If you do not emit a structured action and do not halt, the kernel
    will flag a discipline error; always do one or the other.
`

// LoadDiscipline reads the discipline document from path, stripping any
// optional YAML front-matter block (the same "---\n...\n---" convention the
// rest of the stack uses for command metadata). It returns the built-in
// default if path is empty or the file does not exist; any other read error
// is returned. Callers load the discipline once, when the runtime is built;
// it is not re-read on each tick.
func LoadDiscipline(path string) (string, error) {
	if path == "" {
		return DefaultDiscipline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDiscipline, nil
		}
		return "", err
	}
	return stripFrontMatter(string(data)), nil
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	rest := s[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return s
	}
	return strings.TrimLeft(rest[idx+len("\n---\n"):], "\n")
}

// DefaultDiscipline is the built-in discipline used when no PROMPT_FILE is
// configured.
const DefaultDiscipline = `You are an autonomous engineering agent. Your job is whatever the current
state and observation describe. Work methodically: read before you write,
verify before you halt. When the task is genuinely complete, halt.`

// BuildPrompt assembles the single stateless user message: the machine
// protocol preamble, the discipline, then the labeled CURRENT_POINTER_D /
// CURRENT_STATE_Q / CURRENT_OBSERVATION_S blocks.
func BuildPrompt(discipline, q, s, d string) string {
	var b strings.Builder
	b.WriteString(machineProtocolPreamble)
	b.WriteString("\n")
	b.WriteString(discipline)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "CURRENT_POINTER_D:\n%s\n\n", d)
	fmt.Fprintf(&b, "CURRENT_STATE_Q:\n%s\n\n", q)
	fmt.Fprintf(&b, "CURRENT_OBSERVATION_S:\n%s\n", s)
	return b.String()
}
