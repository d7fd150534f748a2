package session

// State is the lifecycle phase of a conversation session.
type State int32

const (
	// StateInitializing covers dialing the channel and sending the
	// initialization event sequence.
	StateInitializing State = iota

	// StateStreaming is the steady state: audio flows both ways and inbound
	// events are dispatched.
	StateStreaming

	// StateClosing covers best-effort teardown of the wire conversation.
	StateClosing

	// StateClosed is terminal. The channel is released and all session tasks
	// have exited.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Outcome reports why a session reached CLOSED. A zero Outcome with a nil
// Run error means the remote side ended the conversation normally.
type Outcome struct {
	// SwitchRequested is set when the model invoked the switch-agent tool.
	SwitchRequested bool

	// Target is the canonical name of the agent the conversation should be
	// handed to. Set only when SwitchRequested is true.
	Target string
}
