// Package conversation provides the bounded, ordered transcript that
// drives prompt construction. The remote model is stateless per request:
// all of the assistant's apparent memory lives here, flattened into a
// single prompt string on every turn.
package conversation

import (
	"strings"
	"sync"
)

// Roles a turn can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Labels used when rendering turns into a prompt. This literal
// formatting is load-bearing: the model has no structured-turn API,
// only the flat prompt, so these strings shape its replies.
const (
	userLabel      = "User"
	assistantLabel = "Carlos"
)

// Turn is one message in the conversation. Immutable once appended.
type Turn struct {
	Role    string
	Content string
}

// Store is an append-only transcript capped at a fixed number of turns.
// When the cap is exceeded the oldest turns are evicted first, whole
// turns at a time, preserving the relative order of what remains.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
}

// NewStore creates a store capped at maxTurns. Non-positive caps fall
// back to 40 turns (20 user/assistant exchanges).
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 40
	}
	return &Store{maxTurns: maxTurns}
}

// Append adds a turn and enforces the FIFO cap.
func (s *Store) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{Role: role, Content: content})
	if len(s.turns) > s.maxTurns {
		// Evict oldest; re-slice into a fresh array so the evicted
		// prefix doesn't pin memory.
		trimmed := make([]Turn, s.maxTurns)
		copy(trimmed, s.turns[len(s.turns)-s.maxTurns:])
		s.turns = trimmed
	}
}

// Snapshot returns a copy of the transcript in order. The caller may
// hold it without locking.
func (s *Store) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear empties the transcript. The remote model keeps no context of
// its own, so this is all it takes to start fresh.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// BuildPrompt flattens the preamble, stored turns, and the current
// message into the single prompt string the model consumes. Identical
// inputs always produce identical output; turn order matches store
// order exactly.
func (s *Store) BuildPrompt(preamble, current string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")

	for _, t := range s.turns {
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}

	b.WriteString(userLabel)
	b.WriteString(": ")
	b.WriteString(current)
	b.WriteString("\n")
	b.WriteString(assistantLabel)
	b.WriteString(":")

	return b.String()
}

func roleLabel(role string) string {
	if role == RoleAssistant {
		return assistantLabel
	}
	return userLabel
}

// DisplayLabel returns the operator-facing name for a role, used by the
// history command.
func DisplayLabel(role string) string {
	if role == RoleAssistant {
		return assistantLabel
	}
	return "You"
}
