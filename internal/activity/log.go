// Package activity keeps the append-only history of tool calls and the chat
// history shared with observers.
package activity

import (
	"fmt"
	"sync"

	"github.com/Strob0t/hitl/internal/domain"
	"github.com/Strob0t/hitl/internal/domain/approval"
)

// Log is an insertion-ordered list of entries addressed by id. Entries are
// never removed; only status, kwargs and result change in place.
type Log struct {
	mu      sync.Mutex
	entries []approval.Entry
	index   map[string]int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Append adds a snapshot of e. Appending an id twice is a conflict.
func (l *Log) Append(e approval.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.index[e.ID]; dup {
		return fmt.Errorf("log entry %s: %w", e.ID, domain.ErrConflict)
	}
	l.index[e.ID] = len(l.entries)
	l.entries = append(l.entries, e.Clone())
	return nil
}

// Get returns a copy of the entry for id.
func (l *Log) Get(id string) (approval.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return approval.Entry{}, false
	}
	return l.entries[i].Clone(), true
}

// SetStatus moves the entry along the status state machine.
func (l *Log) SetStatus(id string, next approval.Status) error {
	return l.update(id, func(e *approval.Entry) error {
		return e.Transition(next)
	})
}

// MergeKwargs overlays mods onto a pending entry's kwargs.
func (l *Log) MergeKwargs(id string, mods map[string]any) error {
	return l.update(id, func(e *approval.Entry) error {
		if e.Status != approval.StatusPending {
			return fmt.Errorf("log entry %s is %s: %w", id, e.Status, approval.ErrInvalidTransition)
		}
		e.MergeKwargs(mods)
		return nil
	})
}

// SetResult records the string rendering of an action result.
func (l *Log) SetResult(id, result string) error {
	return l.update(id, func(e *approval.Entry) error {
		e.Result = result
		return nil
	})
}

func (l *Log) update(id string, fn func(*approval.Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return fmt.Errorf("log entry %s: %w", id, domain.ErrNotFound)
	}
	return fn(&l.entries[i])
}

// Recent returns up to n entries, newest first. n <= 0 returns all entries.
func (l *Log) Recent(n int) []approval.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]approval.Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i].Clone())
	}
	return out
}

// All returns every entry in insertion order.
func (l *Log) All() []approval.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]approval.Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
