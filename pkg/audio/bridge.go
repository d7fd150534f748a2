package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Default queue depths. Capture tolerates short consumer stalls before
// dropping; playback absorbs network burstiness from the model's audio.
const (
	defaultInputQueue  = 64
	defaultOutputQueue = 64
)

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithInputQueue sets the capture queue depth.
func WithInputQueue(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.in = make(chan Frame, n)
		}
	}
}

// WithOutputQueue sets the playback queue depth.
func WithOutputQueue(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.out = make(chan Frame, n)
		}
	}
}

// Bridge moves frames between a [Device] and the streaming session.
//
// The capture goroutine is the only code touching the capture stream; it
// performs a non-blocking hand-off into the input queue and never stalls on
// backpressure — when the queue is full the oldest queued frame is dropped so
// the order of retained frames is preserved. The playback goroutine drains
// the output queue to the device strictly in order.
//
// A Bridge is single-use: Start it once, Stop it once. Both calls are
// idempotent, and Stop guarantees both device streams are released no matter
// how streaming ended.
type Bridge struct {
	dev     Device
	capFmt  Format
	playFmt Format

	in  chan Frame
	out chan Frame

	// flushEpoch invalidates output frames popped concurrently with a
	// barge-in flush: the playback loop re-checks the epoch between popping
	// a frame and writing it to the device.
	flushEpoch atomic.Uint64
	dropped    atomic.Uint64

	mu       sync.Mutex
	started  bool
	stopped  bool
	capture  CaptureStream
	playback PlaybackStream
	errVal   error

	done   chan struct{}
	failed chan struct{}
	wg     sync.WaitGroup
}

// New creates a Bridge for the given device and stream formats.
func New(dev Device, capture, playback Format, opts ...Option) *Bridge {
	b := &Bridge{
		dev:     dev,
		capFmt:  capture,
		playFmt: playback,
		in:      make(chan Frame, defaultInputQueue),
		out:     make(chan Frame, defaultOutputQueue),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start opens both device streams and launches the capture and playback
// goroutines. Calling Start on a running bridge is a no-op; calling it after
// Stop returns [ErrBridgeStopped].
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBridgeStopped
	}
	if b.started {
		return nil
	}
	if err := b.capFmt.Validate(); err != nil {
		return fmt.Errorf("audio: capture format: %w", err)
	}
	if err := b.playFmt.Validate(); err != nil {
		return fmt.Errorf("audio: playback format: %w", err)
	}

	capture, err := b.dev.OpenCapture(ctx, b.capFmt)
	if err != nil {
		return fmt.Errorf("audio: open capture: %w", err)
	}
	playback, err := b.dev.OpenPlayback(ctx, b.playFmt)
	if err != nil {
		_ = capture.Close()
		return fmt.Errorf("audio: open playback: %w", err)
	}

	b.capture = capture
	b.playback = playback
	b.started = true

	b.wg.Add(2)
	go b.captureLoop()
	go b.playbackLoop()
	return nil
}

// Stop releases both device streams and joins the bridge goroutines. It is
// safe to call multiple times and regardless of whether Start succeeded.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.done)

	// Closing the streams unblocks any in-flight Read/Write so the loops
	// can exit. This is the guaranteed device release.
	var errs []error
	if b.capture != nil {
		if err := b.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio: close capture: %w", err))
		}
	}
	if b.playback != nil {
		if err := b.playback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio: close playback: %w", err))
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return errors.Join(errs...)
}

// Input returns the capture queue. The channel is closed when the capture
// loop exits (device error or Stop); check [Bridge.Err] to distinguish.
func (b *Bridge) Input() <-chan Frame {
	return b.in
}

// EnqueuePlayback queues one frame for in-order playback. It blocks when the
// playback queue is full and unblocks on bridge stop, ctx cancellation, or
// device failure. After a bridge loop has died it fails fast with the
// recorded device error instead of feeding a queue nothing drains.
func (b *Bridge) EnqueuePlayback(ctx context.Context, f Frame) error {
	select {
	case <-b.failed:
		return b.Err()
	default:
	}
	select {
	case b.out <- f:
		return nil
	case <-b.failed:
		return b.Err()
	case <-b.done:
		return ErrBridgeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushOutput atomically discards all queued, not-yet-played output frames
// and returns how many were dropped. Frames enqueued after FlushOutput
// returns are played in their enqueue order.
func (b *Bridge) FlushOutput() int {
	// Bump the epoch first so a frame the playback loop popped concurrently
	// is discarded rather than written.
	b.flushEpoch.Add(1)

	n := Drain(b.out)
	if n > 0 {
		slog.Debug("flushed queued playback", "frames", n)
	}
	return n
}

// DroppedFrames returns how many capture frames were dropped to keep the
// capture path non-blocking.
func (b *Bridge) DroppedFrames() uint64 {
	return b.dropped.Load()
}

// Err returns the device error that terminated a bridge loop, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errVal
}

// setErr records the first device error and signals waiters so a dead loop
// cannot strand a blocked EnqueuePlayback.
func (b *Bridge) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errVal == nil {
		b.errVal = err
		close(b.failed)
	}
}

// stopping reports whether Stop has been requested.
func (b *Bridge) stopping() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// captureLoop reads frames from the capture stream and hands them off to the
// input queue without ever blocking on it. It owns b.in and closes it on exit.
func (b *Bridge) captureLoop() {
	defer b.wg.Done()
	defer close(b.in)

	for {
		frame, err := b.capture.Read()
		if err != nil {
			if b.stopping() {
				return
			}
			b.setErr(fmt.Errorf("audio: capture read: %w", err))
			slog.Error("capture stream failed", "err", err)
			return
		}

		select {
		case <-b.done:
			return
		case b.in <- frame:
		default:
			// Queue full: drop the oldest queued frame, keeping the order
			// of retained frames, then retry once.
			select {
			case <-b.in:
				b.dropped.Add(1)
			default:
			}
			select {
			case b.in <- frame:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// playbackLoop drains the output queue to the playback stream in order,
// honouring barge-in flushes via the epoch check.
func (b *Bridge) playbackLoop() {
	defer b.wg.Done()

	for {
		epoch := b.flushEpoch.Load()
		select {
		case <-b.done:
			return
		case frame := <-b.out:
			if b.flushEpoch.Load() != epoch {
				// A flush raced the pop: this frame was queued before the
				// barge-in and must not be played.
				continue
			}
			if err := b.playback.Write(frame); err != nil {
				if b.stopping() {
					return
				}
				b.setErr(fmt.Errorf("audio: playback write: %w", err))
				slog.Error("playback stream failed", "err", err)
				return
			}
		}
	}
}
