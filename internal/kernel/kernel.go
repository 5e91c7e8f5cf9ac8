// Package kernel composes the registers, manifold, guard, watchdog, cycle
// breaker, oracle, and structured-action scanner into the machine's tick
// loop: a single-threaded driver that observes the current cell, collapses
// a transition out of the oracle, guards it, applies it, and persists the
// new registers before the next iteration.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/turingloop/machine/internal/actions"
	"github.com/turingloop/machine/internal/breaker"
	"github.com/turingloop/machine/internal/guard"
	"github.com/turingloop/machine/internal/manifold"
	"github.com/turingloop/machine/internal/oracle"
	"github.com/turingloop/machine/internal/pointer"
	"github.com/turingloop/machine/internal/registers"
	"github.com/turingloop/machine/internal/watchdog"
)

// Broadcaster receives a notification after every tick persists its new
// registers. Implemented by internal/events; nil is a valid no-op.
type Broadcaster interface {
	Tick(q, d string)
}

// Kernel drives one workspace's tick loop to halt or to a fatal error.
type Kernel struct {
	Workspace  *registers.Workspace
	Manifold   *manifold.Manifold
	Oracle     oracle.Oracle
	Discipline string
	Watchdog   *watchdog.Watchdog
	Breaker    *breaker.Breaker
	Broadcast  Broadcaster
	Log        *slog.Logger
}

// New builds a Kernel with fresh watchdog/breaker state. Watchdog and
// breaker state is owned by the kernel and reset between runs.
func New(ws *registers.Workspace, mf *manifold.Manifold, orc oracle.Oracle, discipline string) *Kernel {
	return &Kernel{
		Workspace:  ws,
		Manifold:   mf,
		Oracle:     orc,
		Discipline: discipline,
		Watchdog:   watchdog.New(),
		Breaker:    breaker.New(),
		Log:        slog.Default(),
	}
}

// Tick runs exactly one iteration of the loop: observe, collapse, guard,
// apply, watchdog-inspect, persist. It returns the new (q, d) and whether
// the loop has reached canonical halt.
func (k *Kernel) Tick(ctx context.Context, q, d string) (qNext, dNext string, halted bool, err error) {
	if guard.IsHalted(q, d) {
		return q, d, true, nil
	}

	s, err := k.Manifold.Observe(ctx, d)
	if err != nil {
		return q, d, false, fmt.Errorf("observe %s: %w", d, err)
	}

	t, raw, cerr := k.Oracle.Collapse(ctx, k.Discipline, q, s, d)
	if cerr != nil {
		var invalid *oracle.InvalidOutputError
		if !errors.As(cerr, &invalid) {
			return q, d, false, fmt.Errorf("oracle collapse: %w", cerr)
		}
		// ORACLE_INVALID is classified, locally recovered: the kernel never
		// lets it escape the loop. It is surfaced to the current cell so the
		// next tick's observation carries it, and the loop continues from
		// the same (q, d) rather than aborting the run.
		k.Log.Warn("oracle output invalid after retries, surfacing to cell", "q", q, "d", d, "err", invalid)
		note := fmt.Sprintf("[DISCIPLINE ERROR] oracle output invalid after %d attempts: %v", invalid.Attempts, invalid.Last)
		if ierr := k.appendNote(d, note); ierr != nil {
			return q, d, false, fmt.Errorf("append discipline error: %w", ierr)
		}
		return q, d, false, nil
	}

	g := guard.Evaluate(guard.Transition(t), guard.Context{CurrentState: q, CurrentPointer: d})
	if g.Trapped {
		return k.persist(g.Transition.QNext, g.Transition.DNext)
	}

	if err := k.applySPrime(d, g.Transition.SPrime); err != nil {
		return q, d, false, fmt.Errorf("apply s_prime: %w", err)
	}
	if !actions.HasStructuredAction(g.Transition.SPrime) && g.Transition.QNext != pointer.HaltLiteral {
		if ierr := k.appendNote(d, "[DISCIPLINE ERROR] no structured action and no HALT; re-read the observation and either act or halt."); ierr != nil {
			return q, d, false, fmt.Errorf("append discipline error: %w", ierr)
		}
	}

	// Watchdog fires first: it is the lighter-weight recovery, and a
	// successful watchdog reset makes the breaker's heavier FATAL_DEBUG
	// unnecessary this tick. The breaker's ring still records every raw
	// output regardless of which branch is taken below.
	decision := k.Watchdog.Inspect(g.Transition.DNext, g.Transition.QNext)
	tripped := k.Breaker.Observe(raw)

	switch {
	case decision.Triggered:
		banner := watchdog.RecoveryState(decision.Reason, decision.Fingerprint, g.Transition.QNext)
		return k.persist(banner, "sys://error_recovery")
	case tripped:
		if ierr := k.appendNote(d, breaker.InsanityNote()); ierr != nil {
			return q, d, false, fmt.Errorf("append insanity note: %w", ierr)
		}
		fq, _, fd := breaker.FatalTransition(d)
		return k.persist(fq, fd)
	default:
		return k.persist(g.Transition.QNext, g.Transition.DNext)
	}
}

// persist writes q then d, never interleaved, and broadcasts if a
// subscriber is attached.
func (k *Kernel) persist(q, d string) (string, string, bool, error) {
	if err := k.Workspace.WriteQ(q); err != nil {
		return q, d, false, fmt.Errorf("persist q: %w", err)
	}
	if err := k.Workspace.WriteD(d); err != nil {
		return q, d, false, fmt.Errorf("persist d: %w", err)
	}
	if k.Broadcast != nil {
		k.Broadcast.Tick(q, d)
	}
	return q, d, guard.IsHalted(q, d), nil
}

// applySPrime applies free-form writes and every structured span in
// textual order of appearance, all against the current pointer d, before
// the head moves.
func (k *Kernel) applySPrime(d, sPrime string) error {
	spans := actions.Scan(sPrime)
	if len(spans) == 0 {
		return k.Manifold.Interfere(d, sPrime)
	}

	for _, span := range spans {
		switch span.Kind {
		case actions.Write:
			if err := k.Manifold.Interfere(d, span.Payload); err != nil {
				return err
			}
		case actions.Erase:
			if err := k.applyErase(d, span); err != nil {
				return err
			}
		case actions.Replace:
			if err := k.applyReplace(d, span); err != nil {
				return err
			}
		case actions.Exec:
			if err := k.applyExec(d, span.Payload); err != nil {
				return err
			}
		case actions.Goto, actions.State:
			// Hints only; d_next/q_next already carry the authoritative value
			// from the JSON transition .
		}
	}
	return nil
}

func (k *Kernel) applyErase(d string, span actions.Span) error {
	lines, err := k.Manifold.ReadLines(d)
	if err != nil {
		return err
	}
	if span.Start < 1 || span.End > len(lines) || span.Start > span.End {
		return nil // out-of-bounds span: silently dropped
	}
	scar := fmt.Sprintf("[ERASED lines %d-%d]", span.Start, span.End)
	out := append([]string{}, lines[:span.Start-1]...)
	out = append(out, scar)
	out = append(out, lines[span.End:]...)
	return k.Manifold.WriteLines(d, out)
}

func (k *Kernel) applyReplace(d string, span actions.Span) error {
	lines, err := k.Manifold.ReadLines(d)
	if err != nil {
		return err
	}
	if span.Start < 1 || span.End > len(lines) || span.Start > span.End {
		return nil
	}
	replacement := splitTrimmed(span.Payload)
	out := append([]string{}, lines[:span.Start-1]...)
	out = append(out, replacement...)
	out = append(out, lines[span.End:]...)
	return k.Manifold.WriteLines(d, out)
}

func splitTrimmed(payload string) []string {
	lines := strings.Split(payload, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (k *Kernel) applyExec(d, cmd string) error {
	result, err := k.Manifold.Exec(context.Background(), cmd)
	if err != nil {
		return err
	}
	label := cmd
	if len(label) > 20 {
		label = label[:20]
	}
	var note string
	if strings.Contains(result, "[EXEC ERROR") || strings.Contains(result, "[COMMAND TIMED OUT") {
		note = fmt.Sprintf("[EXEC ERROR for `%s...`]: %s", label, result)
	} else {
		note = fmt.Sprintf("[EXEC RESULT for `%s...`]: %s", label, result)
	}
	return k.Manifold.Interfere(d, note)
}

func (k *Kernel) appendNote(d, note string) error {
	return k.Manifold.Interfere(d, note)
}

// RunToHalt loops Tick until halt or a fatal error, starting from the
// workspace's persisted registers — resume-safe by construction: re-
// entering from (q, d) never touches MAIN_TAPE until the next oracle call.
func (k *Kernel) RunToHalt(ctx context.Context) (finalQ, finalD string, err error) {
	q, err := k.Workspace.ReadQ()
	if err != nil {
		return "", "", fmt.Errorf("read q: %w", err)
	}
	d, err := k.Workspace.ReadD()
	if err != nil {
		return "", "", fmt.Errorf("read d: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return q, d, ctx.Err()
		default:
		}

		var halted bool
		q, d, halted, err = k.Tick(ctx, q, d)
		if err != nil {
			return q, d, err
		}
		if halted {
			return q, d, nil
		}
	}
}
