// Package fsm holds explicit transition tables for small lifecycle state machines.
package fsm

import (
	"errors"
	"fmt"
)

// ErrNoTransition is returned when the table has no edge for (state, event).
var ErrNoTransition = errors.New("no transition")

// Transition is one edge of the table.
type Transition[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// Table is an immutable set of transitions.
type Table[S, E comparable] struct {
	edges map[S]map[E]S
}

// NewTable builds a table. A duplicated (From, Event) pair panics: tables are package-level literals.
func NewTable[S, E comparable](ts ...Transition[S, E]) *Table[S, E] {
	t := &Table[S, E]{edges: make(map[S]map[E]S)}
	for _, tr := range ts {
		row, ok := t.edges[tr.From]
		if !ok {
			row = make(map[E]S)
			t.edges[tr.From] = row
		}
		if _, dup := row[tr.Event]; dup {
			panic(fmt.Sprintf("fsm: duplicate transition %v --%v-->", tr.From, tr.Event))
		}
		row[tr.Event] = tr.To
	}
	return t
}

// Fire returns the state reached from `from` on `ev`.
func (t *Table[S, E]) Fire(from S, ev E) (S, error) {
	if to, ok := t.edges[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %v on %v", ErrNoTransition, ev, from)
}

// Can reports whether ev is accepted in state from.
func (t *Table[S, E]) Can(from S, ev E) bool {
	_, ok := t.edges[from][ev]
	return ok
}
