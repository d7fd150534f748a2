package wire

import (
	"errors"
	"fmt"
	"sort"
)

// ErrProtocol marks a content framing violation: an event sequence that no
// correct peer can produce. Sessions treat these defensively and terminate
// rather than continue with corrupt framing state.
var ErrProtocol = errors.New("wire: content framing violation")

// FrameTracker validates the content framing invariant on one logical thread
// of events: every content identifier appears in exactly one start/end pair,
// payload events fall strictly between them, and no two simultaneously open
// contents occupy the same (type, role) slot.
//
// A tracker observes one direction of a channel. It is not safe for
// concurrent use; each observing task owns its own tracker.
type FrameTracker struct {
	open map[string]contentSlot
}

type contentSlot struct {
	typ  ContentType
	role Role
}

// NewFrameTracker returns an empty tracker.
func NewFrameTracker() *FrameTracker {
	return &FrameTracker{open: make(map[string]contentSlot)}
}

// Observe feeds one event into the tracker. Events outside content framing
// (session and prompt lifecycle) are ignored. A non-nil return wraps
// [ErrProtocol].
func (t *FrameTracker) Observe(ev Event) error {
	switch ev.Kind {
	case KindContentStart:
		cs := ev.ContentStart
		if _, exists := t.open[cs.ContentID]; exists {
			return fmt.Errorf("%w: content %q started twice", ErrProtocol, cs.ContentID)
		}
		for id, slot := range t.open {
			if slot.typ == cs.Type && slot.role == cs.Role {
				return fmt.Errorf("%w: content %q started while %q holds the open %s/%s slot",
					ErrProtocol, cs.ContentID, id, cs.Type, cs.Role)
			}
		}
		t.open[cs.ContentID] = contentSlot{typ: cs.Type, role: cs.Role}
		return nil

	case KindAudioChunk, KindTextChunk, KindToolUse, KindToolResult:
		id := ev.ContentID()
		if _, exists := t.open[id]; !exists {
			return fmt.Errorf("%w: %s for content %q without content-start", ErrProtocol, ev.Kind, id)
		}
		return nil

	case KindContentEnd:
		id := ev.ContentEnd.ContentID
		if _, exists := t.open[id]; !exists {
			return fmt.Errorf("%w: content-end for %q without content-start", ErrProtocol, id)
		}
		delete(t.open, id)
		return nil
	}
	return nil
}

// OpenContents returns the identifiers of contents that have started but not
// ended, sorted for stable output. Useful in teardown logging and tests.
func (t *FrameTracker) OpenContents() []string {
	ids := make([]string, 0, len(t.open))
	for id := range t.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
