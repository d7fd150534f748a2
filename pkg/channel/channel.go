// Package channel abstracts the bidirectional streaming transport between a
// conversation session and the remote speech service.
//
// A [Channel] is one ordered, full-duplex stream of [wire.Event]s. The session
// layer treats it as opaque: events go in with Send, events come out with
// Receive, and both may fail with a transient or terminal transport error.
// The [Dialer] establishes channels so that tests can substitute a scripted
// transport and production can pick websocket or anything else that speaks
// the event vocabulary.
//
// All implementations must be safe for concurrent use.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/switchboard/pkg/wire"
)

// ErrClosed is returned by Send and Receive after the channel was closed,
// locally or by the remote side.
var ErrClosed = errors.New("channel: closed")

// DefaultDialTimeout bounds connection establishment when
// [Config.DialTimeout] is zero.
const DefaultDialTimeout = 10 * time.Second

// Config carries everything a [Dialer] needs to reach the speech service.
type Config struct {
	// Endpoint is the transport URL of the streaming service,
	// e.g. "wss://speech.example.com/stream".
	Endpoint string

	// APIKey authorizes the dial. How it is presented (header, query) is
	// transport-specific.
	APIKey string

	// Model names the remote speech model variant the session attaches to.
	Model string

	// DialTimeout bounds connection establishment. Zero means
	// [DefaultDialTimeout].
	DialTimeout time.Duration
}

// Channel is one open, ordered, full-duplex event stream.
//
// Event order is preserved in both directions. Close is idempotent; after it
// returns, Send and Receive fail with [ErrClosed].
type Channel interface {
	// Send writes one event to the remote side. It blocks until the event
	// is handed to the transport or ctx is done.
	Send(ctx context.Context, ev wire.Event) error

	// Receive blocks until the next inbound event arrives, the remote side
	// closes, or ctx is done.
	Receive(ctx context.Context) (wire.Event, error)

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Dialer establishes channels.
type Dialer interface {
	// Dial connects to the speech service. The returned Channel is ready
	// for Send and Receive; the caller owns it and must Close it.
	Dial(ctx context.Context, cfg Config) (Channel, error)
}
