// Package conversation holds the dialogue state shared between the
// orchestrator and the active streaming session: an ordered list of confirmed
// turns, plus the trimming rules applied when a conversation is handed off
// from one agent persona to the next.
//
// The [History] is owned by the orchestrator and handed by reference to
// exactly one active session at a time. Sessions append confirmed turns as
// they complete; nothing mutates a turn after it has been appended.
package conversation

import (
	"fmt"
	"sync"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one confirmed dialogue turn. Turns are immutable after append.
type Turn struct {
	Role Role
	Text string
}

// String renders the turn for logs and transcripts.
func (t Turn) String() string {
	return fmt.Sprintf("%s: %s", t.Role, t.Text)
}

// History is the append-only list of confirmed turns for one conversation.
// It survives agent handoffs: the orchestrator trims it with
// [TrimForHandoff] and seeds the next session with the result.
//
// History is safe for concurrent use. In practice only one session appends
// at a time; the lock guards the read paths used by logging and the
// orchestrator's post-session snapshot.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// NewHistory creates a History pre-seeded with the given turns.
func NewHistory(turns ...Turn) *History {
	h := &History{}
	h.turns = append(h.turns, turns...)
	return h
}

// Append adds a confirmed turn to the end of the history.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Turns returns a copy of the current turn list.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of confirmed turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Reset replaces the history's contents. Used by the orchestrator between
// sessions, never while a session is active.
func (h *History) Reset(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
	h.turns = append(h.turns, turns...)
}

// TrimForHandoff returns the turn list to seed a successor session with after
// an agent switch:
//
//   - trailing assistant turns are dropped — the last assistant utterance was
//     cut short by the switch and the new persona will produce its own;
//   - assistant-only turns at the head are dropped, so a replay never opens
//     with the model talking to itself.
//
// The input slice is not modified.
func TrimForHandoff(turns []Turn) []Turn {
	end := len(turns)
	for end > 0 && turns[end-1].Role == RoleAssistant {
		end--
	}
	start := 0
	for start < end && turns[start].Role == RoleAssistant {
		start++
	}
	out := make([]Turn, end-start)
	copy(out, turns[start:end])
	return out
}
