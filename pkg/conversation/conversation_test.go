package conversation_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/MrWong99/switchboard/pkg/conversation"
)

// ─── TestHistory_AppendAndSnapshot ────────────────────────────────────────────

func TestHistory_AppendAndSnapshot(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory()
	h.Append(conversation.Turn{Role: conversation.RoleUser, Text: "hello"})
	h.Append(conversation.Turn{Role: conversation.RoleAssistant, Text: "hi there"})

	turns := h.Turns()
	if len(turns) != 2 {
		t.Fatalf("want 2 turns, got %d", len(turns))
	}

	// The snapshot is a copy: mutating it must not affect the history.
	turns[0].Text = "mutated"
	if got := h.Turns()[0].Text; got != "hello" {
		t.Fatalf("history mutated through snapshot: %q", got)
	}
}

// ─── TestHistory_ConcurrentAppend ─────────────────────────────────────────────

func TestHistory_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				h.Append(conversation.Turn{Role: conversation.RoleUser, Text: "x"})
			}
		}()
	}
	wg.Wait()

	if got := h.Len(); got != 200 {
		t.Fatalf("want 200 turns, got %d", got)
	}
}

// ─── TestTrimForHandoff ───────────────────────────────────────────────────────

func TestTrimForHandoff(t *testing.T) {
	t.Parallel()

	user := func(s string) conversation.Turn {
		return conversation.Turn{Role: conversation.RoleUser, Text: s}
	}
	assistant := func(s string) conversation.Turn {
		return conversation.Turn{Role: conversation.RoleAssistant, Text: s}
	}
	system := func(s string) conversation.Turn {
		return conversation.Turn{Role: conversation.RoleSystem, Text: s}
	}

	tests := []struct {
		name string
		in   []conversation.Turn
		want []conversation.Turn
	}{
		{
			name: "drops trailing incomplete assistant turn",
			in:   []conversation.Turn{user("my laptop won't turn on"), assistant("Let me open a tick")},
			want: []conversation.Turn{user("my laptop won't turn on")},
		},
		{
			name: "drops leading assistant-only turns",
			in:   []conversation.Turn{assistant("Hello! How can I help?"), user("I want to buy"), assistant("Sure")},
			want: []conversation.Turn{user("I want to buy")},
		},
		{
			name: "keeps interior assistant turns",
			in:   []conversation.Turn{user("hi"), assistant("hello"), user("open a ticket"), assistant("done, transferr")},
			want: []conversation.Turn{user("hi"), assistant("hello"), user("open a ticket")},
		},
		{
			name: "system turns survive at the head",
			in:   []conversation.Turn{system("note"), user("hi"), assistant("partial")},
			want: []conversation.Turn{system("note"), user("hi")},
		},
		{
			name: "assistant-only history trims to empty",
			in:   []conversation.Turn{assistant("greeting")},
			want: []conversation.Turn{},
		},
		{
			name: "empty history stays empty",
			in:   nil,
			want: []conversation.Turn{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := conversation.TrimForHandoff(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("TrimForHandoff:\n want %v\n got  %v", tt.want, got)
			}

			// The input must be untouched.
			if len(tt.in) > 0 && tt.in[len(tt.in)-1].Text == "" {
				t.Fatal("TrimForHandoff mutated its input")
			}
		})
	}
}
