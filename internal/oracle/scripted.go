package oracle

import (
	"context"
	"encoding/json"
	"sync"
)

// ScriptedOracle consumes a pre-recorded list of transitions, one per call,
// pinning the last entry on overflow. Used by tests and deterministic
// harnesses in place of a live network call, generalized from
// a single canned reply to an ordered script with overflow pinning.
type ScriptedOracle struct {
	mu     sync.Mutex
	script []Transition
	calls  int

	// OnCall, if set, is invoked with (q, s, d) before each scripted
	// transition is returned — useful for scripts that inspect exec output
	//  and want
	// to branch without fabricating an entire fixed script up front.
	OnCall func(q, s, d string) (Transition, bool)
}

// NewScriptedOracle returns an adapter that replays script in order.
func NewScriptedOracle(script []Transition) *ScriptedOracle {
	cp := make([]Transition, len(script))
	copy(cp, script)
	return &ScriptedOracle{script: cp}
}

// Collapse implements Oracle. It never errors on its own account and
// ignores discipline entirely, since the script already encodes intent. An
// empty script with no OnCall override emits HALT rather than panicking, so
// a caller that boots a workspace without wiring a real oracle yet still
// gets an inert, inspectable machine instead of a crash.
func (o *ScriptedOracle) Collapse(_ context.Context, _, q, s, d string) (Transition, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.OnCall != nil {
		if t, ok := o.OnCall(q, s, d); ok {
			raw, _ := json.Marshal(t)
			o.calls++
			return t, string(raw), nil
		}
	}

	o.calls++
	if len(o.script) == 0 {
		t := Transition{QNext: "HALT", SPrime: "👆", DNext: "HALT"}
		raw, _ := json.Marshal(t)
		return t, string(raw), nil
	}

	idx := o.calls - 1
	if idx >= len(o.script) {
		idx = len(o.script) - 1
	}
	t := o.script[idx]
	raw, _ := json.Marshal(t)
	return t, string(raw), nil
}

// Calls reports how many times Collapse has been invoked.
func (o *ScriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
