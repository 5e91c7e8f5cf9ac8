package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// transitionPayload mirrors the oracle's JSON schema: a three-field record.
// Only these three keys are decoded; any other keys in the object are
// ignored, not rejected.
type transitionPayload struct {
	QNext   string `json:"q_next"`
	SPrime  string `json:"s_prime"`
	DNext   string `json:"d_next"`
}

// parseTransition accepts function-call arguments verbatim (args != "") or,
// failing that, extracts the first balanced JSON object from free-form
// message content, stripping fenced code blocks first.
func parseTransition(args, content string) (Transition, error) {
	if strings.TrimSpace(args) != "" {
		return decodePayload(args)
	}
	body := stripFences(content)
	obj, err := firstBalancedObject(body)
	if err != nil {
		return Transition{}, err
	}
	return decodePayload(obj)
}

func decodePayload(raw string) (Transition, error) {
	var p transitionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Transition{}, fmt.Errorf("decode transition JSON: %w", err)
	}
	return Transition{QNext: p.QNext, SPrime: p.SPrime, DNext: p.DNext}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

// firstBalancedObject scans s for the first top-level balanced {...} span,
// honoring string literals so braces inside quoted strings don't confuse
// the brace count.
func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in oracle output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in oracle output")
}
