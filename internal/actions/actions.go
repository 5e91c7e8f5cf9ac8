// Package actions implements the structured action grammar embedded in an
// s_prime payload: a small regex-based tag+attribute scanner producing an
// ordered sequence of Write/Erase/Replace/Exec/Goto/State values, applied
// in the order they appear in the text.
package actions

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind names which action a Span carries.
type Kind int

const (
	Write Kind = iota
	Erase
	Replace
	Exec
	Goto
	State
)

func (k Kind) String() string {
	switch k {
	case Write:
		return "WRITE"
	case Erase:
		return "ERASE"
	case Replace:
		return "REPLACE"
	case Exec:
		return "EXEC"
	case Goto:
		return "GOTO"
	case State:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}

// Span is one recognized action, in the order it appeared in s_prime.
type Span struct {
	Kind    Kind
	Payload string // WRITE/EXEC/STATE body, or REPLACE's replacement text
	Start   int    // 1-based inclusive, ERASE/REPLACE only
	End     int    // 1-based inclusive, ERASE/REPLACE only
	Path    string // GOTO only
}

var (
	writeRe   = regexp.MustCompile(`(?s)<WRITE>(.*?)</WRITE>`)
	eraseRe   = regexp.MustCompile(`<ERASE\s+([^>]*?)/?>`)
	replaceRe = regexp.MustCompile(`(?s)<REPLACE\s+([^>]*?)>(.*?)</REPLACE>`)
	execRe    = regexp.MustCompile(`(?s)<EXEC>(.*?)</EXEC>`)
	gotoRe    = regexp.MustCompile(`<GOTO\s+([^>]*?)/?>`)
	stateRe   = regexp.MustCompile(`(?s)<STATE>(.*?)</STATE>`)

	attrRe = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// Scan parses s_prime into an ordered slice of Spans, preserving textual
// order of appearance across all six tag kinds. Malformed numeric bounds on
// ERASE/REPLACE are dropped per tag (the whole span is skipped), not fatal
// to the scan.
func Scan(sPrime string) []Span {
	type match = struct {
		pos  int
		span Span
		ok   bool
	}
	var matches []match

	for _, m := range writeRe.FindAllStringSubmatchIndex(sPrime, -1) {
		matches = append(matches, match{pos: m[0], span: Span{Kind: Write, Payload: sPrime[m[2]:m[3]]}, ok: true})
	}
	for _, m := range execRe.FindAllStringSubmatchIndex(sPrime, -1) {
		matches = append(matches, match{pos: m[0], span: Span{Kind: Exec, Payload: strings.TrimSpace(sPrime[m[2]:m[3]])}, ok: true})
	}
	for _, m := range stateRe.FindAllStringSubmatchIndex(sPrime, -1) {
		matches = append(matches, match{pos: m[0], span: Span{Kind: State, Payload: sPrime[m[2]:m[3]]}, ok: true})
	}
	for _, m := range eraseRe.FindAllStringSubmatchIndex(sPrime, -1) {
		attrs := parseAttrs(sPrime[m[2]:m[3]])
		a, b, ok := bounds(attrs)
		if !ok {
			continue
		}
		matches = append(matches, match{pos: m[0], span: Span{Kind: Erase, Start: a, End: b}, ok: true})
	}
	for _, m := range replaceRe.FindAllStringSubmatchIndex(sPrime, -1) {
		attrs := parseAttrs(sPrime[m[2]:m[3]])
		a, b, ok := bounds(attrs)
		if !ok {
			continue
		}
		payload := strings.Trim(sPrime[m[4]:m[5]], "\n")
		matches = append(matches, match{pos: m[0], span: Span{Kind: Replace, Start: a, End: b, Payload: payload}, ok: true})
	}
	for _, m := range gotoRe.FindAllStringSubmatchIndex(sPrime, -1) {
		attrs := parseAttrs(sPrime[m[2]:m[3]])
		path := attrs["path"]
		if path == "" {
			continue
		}
		matches = append(matches, match{pos: m[0], span: Span{Kind: Goto, Path: path}, ok: true})
	}

	sortByPos(matches)

	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		if m.ok {
			spans = append(spans, m.span)
		}
	}
	return spans
}

func sortByPos(ms []struct {
	pos  int
	span Span
	ok   bool
}) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j-1].pos > ms[j].pos; j-- {
			ms[j-1], ms[j] = ms[j], ms[j-1]
		}
	}
}

func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// bounds validates ERASE/REPLACE's start/end attributes are present,
// numeric, and satisfy 1 <= a <= b. Line-count-upper-bound validation
// happens in the kernel, which knows the current cell's length; this
// function only enforces the purely-syntactic half of the rule.
func bounds(attrs map[string]string) (a, b int, ok bool) {
	as, bs := attrs["start"], attrs["end"]
	if as == "" || bs == "" {
		return 0, 0, false
	}
	a, err1 := strconv.Atoi(as)
	b, err2 := strconv.Atoi(bs)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if a < 1 || b < a {
		return 0, 0, false
	}
	return a, b, true
}

// HasStructuredAction reports whether sPrime contains at least one
// recognized tag. Used by the kernel to decide whether to append the
// discipline-error marker .
func HasStructuredAction(sPrime string) bool {
	return len(Scan(sPrime)) > 0
}
