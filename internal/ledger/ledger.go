// Package ledger collects human-readable failure notices, keyed by the
// operation that produced them. Keyed notes replace their predecessor so the
// visible error set stays bounded by the number of failure-prone operations,
// not the number of attempts.
package ledger

import "sync"

type note struct {
	category string // empty for uncategorized notes
	message  string
}

// Ledger maps a category to its single current note, preserving insertion
// order for display.
type Ledger struct {
	mu    sync.Mutex
	notes []note
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Set replaces the note for the category, keeping its display position if one
// already exists. An empty category carries no replacement key and falls
// through to SetUncategorized.
func (l *Ledger) Set(category, message string) {
	if category == "" {
		l.SetUncategorized(message)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.notes {
		if l.notes[i].category == category {
			l.notes[i].message = message
			return
		}
	}
	l.notes = append(l.notes, note{category: category, message: message})
}

// Clear removes the note for the category if present. Called when the
// corresponding operation succeeds.
func (l *Ledger) Clear(category string) {
	if category == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.notes {
		if l.notes[i].category == category {
			l.notes = append(l.notes[:i], l.notes[i+1:]...)
			return
		}
	}
}

// SetUncategorized appends a note with no retry category. Identical messages
// never collapse into each other.
func (l *Ledger) SetUncategorized(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, note{message: message})
}

// Snapshot returns the rendered messages in display order.
func (l *Ledger) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	messages := []string{}
	for _, n := range l.notes {
		messages = append(messages, n.message)
	}
	return messages
}

// Reset drops every note. Used on logout.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = nil
}
