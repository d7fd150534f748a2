package agent_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/switchboard/internal/agent"
)

// testRegistry builds a registry with the canonical support/sales pair used
// throughout the orchestrator tests.
func testRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	r, err := agent.NewRegistry([]agent.Profile{
		{Name: "support", VoiceID: "en-warm", SystemInstruction: "You are a patient support agent.", ToolWhitelist: []string{"open_ticket_tool"}},
		{Name: "sales", VoiceID: "en-bright", SystemInstruction: "You are an upbeat sales agent.", Greeting: "Introduce yourself as the sales department."},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNewRegistry_RejectsEmptySet(t *testing.T) {
	t.Parallel()

	if _, err := agent.NewRegistry(nil); err == nil {
		t.Fatal("NewRegistry(nil) succeeded, want error")
	}
}

func TestNewRegistry_RejectsEmptyName(t *testing.T) {
	t.Parallel()

	_, err := agent.NewRegistry([]agent.Profile{{Name: "   "}})
	if err == nil {
		t.Fatal("NewRegistry with blank name succeeded, want error")
	}
}

func TestNewRegistry_RejectsDuplicateName(t *testing.T) {
	t.Parallel()

	// Names collide after case folding and trimming.
	_, err := agent.NewRegistry([]agent.Profile{
		{Name: "Support"},
		{Name: " support "},
	})
	if err == nil {
		t.Fatal("NewRegistry with duplicate names succeeded, want error")
	}
}

func TestGet_IgnoresCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)
	p, err := r.Get("  SUPPORT ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name != "support" {
		t.Errorf("Get returned profile %q, want %q", p.Name, "support")
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)
	_, err := r.Get("concierge")
	if !errors.Is(err, agent.ErrNoSuchAgent) {
		t.Fatalf("Get unknown: err = %v, want ErrNoSuchAgent", err)
	}
}

func TestResolve_ExactWins(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)
	p, err := r.Resolve("sales")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != "sales" {
		t.Errorf("Resolve returned %q, want %q", p.Name, "sales")
	}
}

func TestResolve_NearMissSpelling(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)

	tests := []struct {
		target string
		want   string
	}{
		{"suport", "support"},   // dropped letter, same phonetic code
		{"sails", "sales"},      // homophone
		{" Sales\n", "sales"},   // exact after normalization
		{"support!", "support"}, // trailing punctuation survives similarity
	}
	for _, tt := range tests {
		p, err := r.Resolve(tt.target)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.target, err)
			continue
		}
		if p.Name != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.target, p.Name, tt.want)
		}
	}
}

func TestResolve_MultiWordName(t *testing.T) {
	t.Parallel()

	r, err := agent.NewRegistry([]agent.Profile{
		{Name: "tech support"},
		{Name: "billing"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, err := r.Resolve("tech suport")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != "tech support" {
		t.Errorf("Resolve(%q) = %q, want %q", "tech suport", p.Name, "tech support")
	}
}

func TestResolve_AmbiguousTargetFails(t *testing.T) {
	t.Parallel()

	r, err := agent.NewRegistry([]agent.Profile{
		{Name: "tech support"},
		{Name: "tech sales"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	// "tech" aligns equally with both names; an ambiguous target must not
	// silently pick one.
	if _, err := r.Resolve("tech"); !errors.Is(err, agent.ErrNoSuchAgent) {
		t.Fatalf("Resolve ambiguous: err = %v, want ErrNoSuchAgent", err)
	}
}

func TestResolve_Unresolvable(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)
	for _, target := range []string{"weather", ""} {
		if _, err := r.Resolve(target); !errors.Is(err, agent.ErrNoSuchAgent) {
			t.Errorf("Resolve(%q): err = %v, want ErrNoSuchAgent", target, err)
		}
	}
}

func TestNames_SortedAndCopied(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)
	names := r.Names()
	if want := []string{"sales", "support"}; !slices.Equal(names, want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}

	// Mutating the returned slice must not affect the registry.
	names[0] = "mangled"
	if again := r.Names(); again[0] != "sales" {
		t.Error("Names() returned a live reference to registry state")
	}
}

func TestGreetingPrompt(t *testing.T) {
	t.Parallel()

	r := testRegistry(t)

	support, _ := r.Get("support")
	if got := support.GreetingPrompt(); got != agent.DefaultGreeting {
		t.Errorf("unset greeting = %q, want DefaultGreeting", got)
	}

	sales, _ := r.Get("sales")
	if got := sales.GreetingPrompt(); got != "Introduce yourself as the sales department." {
		t.Errorf("custom greeting = %q, want the configured text", got)
	}
}
