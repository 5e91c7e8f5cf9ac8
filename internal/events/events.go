// Package events broadcasts the kernel's tick/halt notifications and the
// runtime's recovery notes to any subscriber, and optionally watches a
// workspace directory for external file changes via fsnotify, forwarding
// external writes as their own file_write kind. There is no status or tape
// kind, and KindError is declared but nothing in this module publishes it.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind names the category of a broadcast Event.
type Kind string

const (
	KindTick      Kind = "tick"
	KindHalt      Kind = "halt"
	KindError     Kind = "error"
	KindFileWrite Kind = "file_write"
	KindRecovery  Kind = "recovery"
)

// Event is one broadcast notification.
type Event struct {
	Kind Kind
	Q    string
	D    string
	Path string
	Note string
	Err  error
}

// Bus is a simple fan-out pub-sub: every subscriber channel receives every
// published event. Slow subscribers are dropped from, not blocking,
// publication — a full channel means that subscriber simply misses events
// rather than stalling the kernel.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel that receives every future Publish call,
// plus an unsubscribe func the caller must call when done listening.
func (b *Bus) Subscribe(buffer int) (ch <-chan Event, unsubscribe func()) {
	c := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()
	return c, func() {
		b.mu.Lock()
		delete(b.subs, c)
		b.mu.Unlock()
		close(c)
	}
}

// Publish fans an event out to every current subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- e:
		default:
		}
	}
}

// Tick implements kernel.Broadcaster, publishing a KindTick (or KindHalt)
// event after every persisted register write.
func (b *Bus) Tick(q, d string) {
	if q == "HALT" && d == "HALT" {
		b.Publish(Event{Kind: KindHalt, Q: q, D: d})
		return
	}
	b.Publish(Event{Kind: KindTick, Q: q, D: d})
}

// Watcher observes external writes under a workspace root and republishes
// them as KindFileWrite events, so a supervisor can notice e.g. a human
// editing MAIN_TAPE.md out from under the kernel.
type Watcher struct {
	fsw *fsnotify.Watcher
	bus *Bus
	log *slog.Logger
}

// NewWatcher starts watching root (non-recursively, matching the single
// flat workspace directory the kernel operates on) and forwards write
// events to bus.
func NewWatcher(root string, bus *Bus, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{fsw: fsw, bus: bus, log: log}, nil
}

// Run drains filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.bus.Publish(Event{Kind: KindFileWrite, Path: ev.Name})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("workspace watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
