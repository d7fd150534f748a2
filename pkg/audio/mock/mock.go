// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.CaptureStream], and [audio.PlaybackStream] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCaptureStream(8)
//	playback := mock.NewPlaybackStream()
//	dev := &mock.Device{CaptureResult: capture, PlaybackResult: playback}
//	capture.Feed(audio.Frame{0x01, 0x00})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/switchboard/pkg/audio"
)

// ErrClosed is returned by mock stream operations after Close.
var ErrClosed = errors.New("mock: stream closed")

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a scripted mock of [audio.CaptureStream]. Tests push
// frames with [CaptureStream.Feed]; Read blocks until a frame is available
// or the stream is closed.
type CaptureStream struct {
	frames chan audio.Frame
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex

	// ReadError, when set, is returned by the next Read instead of a frame.
	ReadError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCaptureStream creates a CaptureStream that buffers up to n fed frames.
func NewCaptureStream(n int) *CaptureStream {
	return &CaptureStream{
		frames: make(chan audio.Frame, n),
		closed: make(chan struct{}),
	}
}

// Feed queues one frame for a subsequent Read. Feed blocks when the buffer
// is full and panics if the stream is already closed, mirroring a test bug.
func (s *CaptureStream) Feed(f audio.Frame) {
	select {
	case s.frames <- f:
	case <-s.closed:
		panic("mock: Feed after Close")
	}
}

// Read implements [audio.CaptureStream].
func (s *CaptureStream) Read() (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountRead++
	readErr := s.ReadError
	s.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}

	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, ErrClosed
	}
}

// Close implements [audio.CaptureStream]. It unblocks any in-flight Read.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// ─── PlaybackStream ───────────────────────────────────────────────────────────

// PlaybackStream is a mock of [audio.PlaybackStream] that records every
// written frame in order.
type PlaybackStream struct {
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex

	// WriteError, when set, is returned by every Write.
	WriteError error

	// written holds all frames written so far; read it via Written.
	written []audio.Frame

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewPlaybackStream creates an empty PlaybackStream.
func NewPlaybackStream() *PlaybackStream {
	return &PlaybackStream{closed: make(chan struct{})}
}

// Write implements [audio.PlaybackStream]. The frame's bytes are copied so
// later mutation by the caller does not corrupt the record.
func (s *PlaybackStream) Write(f audio.Frame) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	cp := make(audio.Frame, len(f))
	copy(cp, f)
	s.written = append(s.written, cp)
	return nil
}

// Close implements [audio.PlaybackStream].
func (s *PlaybackStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Written returns a copy of all frames written so far, in write order.
func (s *PlaybackStream) Written() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.written))
	copy(out, s.written)
	return out
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single Open* invocation.
type OpenCall struct {
	// Format is the format argument passed to OpenCapture or OpenPlayback.
	Format audio.Format
}

// Device is a mock implementation of [audio.Device].
// Set the exported Result fields before use; inspect the *Calls fields after.
type Device struct {
	mu sync.Mutex

	// CaptureResult is returned by OpenCapture.
	CaptureResult audio.CaptureStream

	// CaptureError is the error returned by OpenCapture.
	CaptureError error

	// PlaybackResult is returned by OpenPlayback.
	PlaybackResult audio.PlaybackStream

	// PlaybackError is the error returned by OpenPlayback.
	PlaybackError error

	// OpenCaptureCalls records all OpenCapture invocations.
	OpenCaptureCalls []OpenCall

	// OpenPlaybackCalls records all OpenPlayback invocations.
	OpenPlaybackCalls []OpenCall
}

// OpenCapture implements [audio.Device]. Records the call and returns
// CaptureResult / CaptureError.
func (d *Device) OpenCapture(_ context.Context, f audio.Format) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCaptureCalls = append(d.OpenCaptureCalls, OpenCall{Format: f})
	return d.CaptureResult, d.CaptureError
}

// OpenPlayback implements [audio.Device]. Records the call and returns
// PlaybackResult / PlaybackError.
func (d *Device) OpenPlayback(_ context.Context, f audio.Format) (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenPlaybackCalls = append(d.OpenPlaybackCalls, OpenCall{Format: f})
	return d.PlaybackResult, d.PlaybackError
}
