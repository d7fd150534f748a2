// Package audio bridges a hardware-like audio device and the streaming
// session: it captures fixed-size frames from the input device into a bounded
// queue, plays queued output frames to the output device strictly in order,
// and discards queued playback atomically when the user barges in over the
// model's speech.
//
// The two primary abstractions are:
//
//   - [Device] — opens capture and playback streams on some concrete audio
//     backend (a Discord voice channel, a test double, …).
//   - [Bridge] — owns the capture and playback goroutines and the frame
//     queues between the device and the session.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement [Device].
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Frame is one fixed-size buffer of little-endian int16 PCM. Frame order is
// implied by queue order; frames carry no explicit sequence field.
type Frame []byte

// Format describes one direction of an audio stream.
type Format struct {
	// SampleRateHz is the PCM sample rate (e.g. 16000 for capture,
	// 24000 for playback).
	SampleRateHz int

	// Channels is 1 for mono or 2 for interleaved stereo.
	Channels int

	// FrameBytes is the size of one [Frame] produced or consumed by the
	// stream. Must hold a whole number of samples.
	FrameBytes int
}

// Validate reports whether the format is usable.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRateHz <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate %d must be positive", f.SampleRateHz))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio: channel count %d must be 1 or 2", f.Channels))
	}
	if f.FrameBytes <= 0 || f.FrameBytes%(2*max(f.Channels, 1)) != 0 {
		errs = append(errs, fmt.Errorf("audio: frame size %d must hold whole %d-channel int16 samples", f.FrameBytes, f.Channels))
	}
	return errors.Join(errs...)
}

// CaptureStream delivers frames from an input device. Read blocks until a
// frame is available; Close unblocks any in-flight Read with an error.
type CaptureStream interface {
	Read() (Frame, error)
	Close() error
}

// PlaybackStream accepts frames for an output device. Write blocks until the
// device has consumed the frame; Close unblocks any in-flight Write with an
// error.
type PlaybackStream interface {
	Write(Frame) error
	Close() error
}

// Device opens capture and playback streams on a concrete audio backend.
// The context governs the open call only; once a stream is returned it lives
// until its Close.
//
// Implementations must be safe for concurrent use.
type Device interface {
	OpenCapture(ctx context.Context, f Format) (CaptureStream, error)
	OpenPlayback(ctx context.Context, f Format) (PlaybackStream, error)
}

// ErrBridgeStopped is returned by bridge operations after [Bridge.Stop], and
// by [Bridge.Start] when the single-use bridge has already been stopped.
var ErrBridgeStopped = errors.New("audio: bridge stopped")
