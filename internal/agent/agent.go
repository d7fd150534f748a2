// Package agent defines the persona profiles a switchboard process can host
// and the registry used to resolve handoff targets.
//
// The two primary abstractions are:
//
//   - [Profile] — the static configuration of one persona: voice, system
//     instruction, tool whitelist, greeting.
//   - [Registry] — an immutable name → [Profile] lookup with lenient
//     resolution ([Registry.Resolve]) for model-mangled spellings of the
//     enumerated agent names.
//
// This package lives under internal/ because it encapsulates application-private
// orchestration configuration and is not intended to be imported by external code.
package agent

// DefaultGreeting is the initial user prompt sent when a [Profile] does not
// configure its own. It is phrased as an instruction to the persona, not as
// caller speech.
const DefaultGreeting = "Greet the caller briefly and ask how you can help."

// Profile describes the static persona of one agent.
// It is loaded at startup from the agent registry section of the config file
// and never mutated afterwards.
type Profile struct {
	// Name is the registry key and the value the switch_agent tool accepts
	// as a handoff target.
	Name string

	// VoiceID selects the model voice used when this persona speaks.
	VoiceID string

	// SystemInstruction is the persona's character sheet. Injected verbatim
	// as the SYSTEM text block during session initialization.
	SystemInstruction string

	// ToolWhitelist lists the dispatcher tool names advertised for this
	// persona. Tools outside the whitelist exist in the process but are
	// never offered to the model while this persona is active.
	ToolWhitelist []string

	// Greeting is the initial prompt asking the persona to open the
	// conversation. Empty means [DefaultGreeting].
	Greeting string
}

// GreetingPrompt returns the configured greeting, or [DefaultGreeting] when
// none is set.
func (p Profile) GreetingPrompt() string {
	if p.Greeting == "" {
		return DefaultGreeting
	}
	return p.Greeting
}
