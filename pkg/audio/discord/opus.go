package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/switchboard/pkg/audio"
)

// Discord voice runs 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	// opusFrameSamples is the number of samples per channel per 20 ms frame.
	opusFrameSamples = opusSampleRate * 20 / 1000 // 960
	// opusFrameBytes is the exact PCM size of one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	opusFrameBytes = opusFrameSamples * opusChannels * 2
)

// wireFormat is the PCM format at the Discord boundary.
var wireFormat = audio.Format{
	SampleRateHz: opusSampleRate,
	Channels:     opusChannels,
	FrameBytes:   opusFrameBytes,
}

// opusDecoder wraps a gopus decoder for a single participant stream.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one Opus frame of interleaved little-endian PCM.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.BytesToInt16s(pcm), opusFrameSamples, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
