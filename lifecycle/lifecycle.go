/*
Package lifecycle provides closed state machines for ledger documents.

PURPOSE:
  Inventory transactions, transfers and counts all move through a small set
  of named states. Each document type declares its transition table once, and
  every state change goes through Machine.Check. A move that is not in the
  table is rejected with a TransitionError, never silently applied.

STATE TABLES:
  Inventory transaction:  DRAFT ──▶ APPROVED ──▶ POSTED
                            │          │
                            └────┬─────┘
                                 ▼
                             CANCELLED

  Transfer:  PENDING ──▶ APPROVED ──▶ IN_TRANSIT ──▶ RECEIVED
  Count:     PENDING ──▶ APPROVED ──▶ POSTED
  (both cancel from PENDING or APPROVED)

TERMINAL STATES:
  A state with no outgoing edges is terminal. POSTED, RECEIVED and CANCELLED
  are terminal everywhere. The API reports it as "final" on each document.

SEE ALSO:
  - ledger/types.go: transaction statuses and their machine
  - ledger/documents.go: transfer and count machines
*/
package lifecycle

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is the sentinel behind every TransitionError.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is any string-backed status enum.
type State interface {
	~string
}

// Machine is an immutable transition table for one document type.
type Machine[S State] struct {
	document string
	edges    map[S]map[S]struct{}
}

// Edge is a single permitted move.
type Edge[S State] struct {
	From S
	To   S
}

// New builds a machine from its permitted edges.
func New[S State](document string, edges ...Edge[S]) *Machine[S] {
	m := &Machine[S]{document: document, edges: make(map[S]map[S]struct{})}
	for _, e := range edges {
		if m.edges[e.From] == nil {
			m.edges[e.From] = make(map[S]struct{})
		}
		m.edges[e.From][e.To] = struct{}{}
	}
	return m
}

// Allowed reports whether from → to is in the table.
func (m *Machine[S]) Allowed(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (m *Machine[S]) Terminal(s S) bool {
	return len(m.edges[s]) == 0
}

// Check returns a *TransitionError when from → to is not permitted.
func (m *Machine[S]) Check(id string, from, to S) error {
	if m.Allowed(from, to) {
		return nil
	}
	return &TransitionError{
		Document: m.document,
		ID:       id,
		From:     string(from),
		To:       string(to),
	}
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	Document string
	ID       string
	From     string
	To       string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Document, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
