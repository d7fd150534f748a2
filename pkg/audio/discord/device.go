// Package discord provides an [audio.Device] implementation backed by a
// Discord voice channel via the bwmarrin/discordgo library. It bridges
// Discord's Opus voice transport and the PCM [audio.Frame] bridge: captured
// Opus packets are decoded and converted to the requested capture format,
// and played frames are converted to Discord's 48 kHz stereo format and
// encoded to Opus.
//
// The device requires an active *discordgo.Session (owned by the caller) and
// joins the configured voice channel lazily on the first opened stream. The
// voice connection is shared between the capture and playback streams and
// released when the last stream is closed.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/switchboard/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// errStreamClosed is returned by stream operations after Close.
var errStreamClosed = errors.New("discord: stream closed")

// Device implements [audio.Device] on top of a Discord voice channel.
//
// Device is safe for concurrent use.
type Device struct {
	session   *discordgo.Session
	guildID   string
	channelID string

	mu    sync.Mutex
	vc    *discordgo.VoiceConnection
	refs  int
	leave func() error
}

// New creates a Device that joins the given voice channel on first use.
func New(session *discordgo.Session, guildID, channelID string) *Device {
	return &Device{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
	}
}

// OpenCapture implements [audio.Device]. The returned stream funnels the
// decoded audio of every speaking participant into one PCM sequence in the
// requested format.
func (d *Device) OpenCapture(ctx context.Context, f audio.Format) (audio.CaptureStream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	vc, err := d.acquire()
	if err != nil {
		return nil, err
	}
	return newCaptureStream(d, vc, f), nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(ctx context.Context, f audio.Format) (audio.PlaybackStream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	vc, err := d.acquire()
	if err != nil {
		return nil, err
	}
	return newPlaybackStream(d, vc, f, enc), nil
}

// acquire joins the voice channel on first use and counts stream references.
func (d *Device) acquire() (*discordgo.VoiceConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		// mute=false (we send audio), deaf=false (we receive audio).
		vc, err := d.session.ChannelVoiceJoin(d.guildID, d.channelID, false, false)
		if err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", d.channelID, err)
		}
		d.vc = vc
		d.leave = vc.Disconnect
	}
	d.refs++
	return d.vc, nil
}

// release drops one stream reference and leaves the voice channel when the
// last stream closes.
func (d *Device) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs > 0 {
		d.refs--
	}
	if d.refs == 0 && d.vc != nil {
		leave := d.leave
		d.vc = nil
		d.leave = nil
		if leave != nil {
			if err := leave(); err != nil {
				return fmt.Errorf("discord: leave voice channel: %w", err)
			}
		}
	}
	return nil
}
