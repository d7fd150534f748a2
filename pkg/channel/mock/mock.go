// Package mock provides test doubles for the channel package interfaces.
//
// Use Dialer to script which channels successive dials return, and Channel
// to feed inbound events and inspect everything the session sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	d := &mock.Dialer{Channels: []*mock.Channel{ch}}
//	ch.Feed(wire.NewTextChunk("c1", "hello"))
//	ch.FailReceive(io.ErrUnexpectedEOF) // after the fed events drain
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/switchboard/pkg/channel"
	"github.com/MrWong99/switchboard/pkg/wire"
)

// Compile-time interface assertions.
var _ channel.Dialer = (*Dialer)(nil)
var _ channel.Channel = (*Channel)(nil)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Cfg is the config passed to Dial.
	Cfg channel.Config
}

// Dialer is a mock implementation of [channel.Dialer]. Successive Dial calls
// return the scripted Channels in order; when the script is exhausted, a
// fresh default Channel is returned.
type Dialer struct {
	mu sync.Mutex

	// Channels are returned by successive Dial calls in order.
	Channels []*Channel

	// DialErr, if non-nil, is returned by every Dial call.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	dialCount int
}

// Dial records the call and returns the next scripted channel.
func (d *Dialer) Dial(_ context.Context, cfg channel.Config) (channel.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.dialCount < len(d.Channels) {
		ch := d.Channels[d.dialCount]
		d.dialCount++
		return ch, nil
	}
	d.dialCount++
	return NewChannel(), nil
}

// Reset clears all recorded calls and rewinds the channel script. Thread-safe.
func (d *Dialer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = nil
	d.dialCount = 0
}

// Channel is a mock implementation of [channel.Channel]. Inbound events are
// scripted with Feed; everything sent is recorded in order.
type Channel struct {
	inbound chan wire.Event
	fail    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	recvErr error
	sent    []wire.Event
}

// NewChannel creates a Channel with room for 256 scripted inbound events.
func NewChannel() *Channel {
	return &Channel{
		inbound: make(chan wire.Event, 256),
		fail:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Feed queues one inbound event for a subsequent Receive.
func (c *Channel) Feed(ev wire.Event) {
	c.inbound <- ev
}

// FailReceive arranges for Receive to return err once all events fed before
// this call have been delivered.
func (c *Channel) FailReceive(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvErr == nil {
		c.recvErr = err
		close(c.fail)
	}
}

// Send implements [channel.Channel]. Records the event and returns SendErr.
func (c *Channel) Send(_ context.Context, ev wire.Event) error {
	select {
	case <-c.done:
		return channel.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, ev)
	return nil
}

// Receive implements [channel.Channel]. It delivers fed events in order,
// then blocks until more are fed, FailReceive fires, the mock is closed, or
// ctx is done.
func (c *Channel) Receive(ctx context.Context) (wire.Event, error) {
	// Fed events win over a scripted failure until the buffer drains.
	select {
	case ev := <-c.inbound:
		return ev, nil
	default:
	}
	select {
	case ev := <-c.inbound:
		return ev, nil
	case <-c.fail:
		c.mu.Lock()
		defer c.mu.Unlock()
		return wire.Event{}, c.recvErr
	case <-c.done:
		return wire.Event{}, channel.ErrClosed
	case <-ctx.Done():
		return wire.Event{}, ctx.Err()
	}
}

// Close implements [channel.Channel]. Records the call; idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.CloseCallCount++
	count := c.CloseCallCount
	err := c.CloseErr
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	if count == 1 {
		return err
	}
	return nil
}

// Sent returns a copy of every event sent so far, in emission order.
func (c *Channel) Sent() []wire.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Event, len(c.sent))
	copy(out, c.sent)
	return out
}

// ResetCalls clears the send record and close counter. Thread-safe.
func (c *Channel) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
	c.CloseCallCount = 0
}
