package discord

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/switchboard/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

const pcmChunkBuffer = 64

// captureStream adapts the voice connection's Opus receive path to
// [audio.CaptureStream]. Every participant's audio is decoded with a
// per-SSRC decoder and funneled into one stream; a switchboard call has a
// single human on the line, so no demuxing is needed.
type captureStream struct {
	dev    *Device
	format audio.Format

	chunks chan []byte
	done   chan struct{}
	once   sync.Once

	// buf holds converted PCM left over between Reads.
	buf []byte
}

func newCaptureStream(dev *Device, vc *discordgo.VoiceConnection, f audio.Format) *captureStream {
	s := &captureStream{
		dev:    dev,
		format: f,
		chunks: make(chan []byte, pcmChunkBuffer),
		done:   make(chan struct{}),
	}
	go s.recvLoop(vc)
	return s
}

// recvLoop decodes incoming Opus packets and queues raw 48 kHz stereo PCM.
// Each SSRC keeps its own decoder so decoder state stays consistent across
// consecutive packets of one speaker.
func (s *captureStream) recvLoop(vc *discordgo.VoiceConnection) {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				close(s.chunks)
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			select {
			case s.chunks <- pcm:
			default:
				// Queue full — drop the chunk rather than stall the receiver.
			}
		}
	}
}

// Read implements [audio.CaptureStream]. It assembles exactly one frame of
// the requested format from the decoded chunk sequence.
func (s *captureStream) Read() (audio.Frame, error) {
	for len(s.buf) < s.format.FrameBytes {
		select {
		case <-s.done:
			return nil, errStreamClosed
		case chunk, ok := <-s.chunks:
			if !ok {
				return nil, errStreamClosed
			}
			s.buf = append(s.buf, audio.Convert(chunk, wireFormat, s.format)...)
		}
	}
	frame := make(audio.Frame, s.format.FrameBytes)
	copy(frame, s.buf)
	s.buf = s.buf[s.format.FrameBytes:]
	return frame, nil
}

// Close implements [audio.CaptureStream]. It unblocks any in-flight Read and
// drops the device reference.
func (s *captureStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.dev.release()
	})
	return err
}

// playbackStream adapts [audio.PlaybackStream] writes to the voice
// connection's Opus send path. Frames are converted to Discord's wire format
// and cut into exact 20 ms Opus frames; a partial trailing chunk is held
// until the next Write completes it.
type playbackStream struct {
	dev    *Device
	vc     *discordgo.VoiceConnection
	format audio.Format
	enc    *opusEncoder

	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	buf      []byte
	speaking bool
}

func newPlaybackStream(dev *Device, vc *discordgo.VoiceConnection, f audio.Format, enc *opusEncoder) *playbackStream {
	return &playbackStream{
		dev:    dev,
		vc:     vc,
		format: f,
		enc:    enc,
		done:   make(chan struct{}),
	}
}

// Write implements [audio.PlaybackStream].
func (s *playbackStream) Write(f audio.Frame) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.speaking {
		s.setSpeaking(true)
		s.speaking = true
	}

	s.buf = append(s.buf, audio.Convert(f, s.format, wireFormat)...)

	for len(s.buf) >= opusFrameBytes {
		packet, err := s.enc.encode(s.buf[:opusFrameBytes])
		s.buf = s.buf[opusFrameBytes:]
		if err != nil {
			slog.Warn("opus encode error", "err", err)
			continue
		}
		select {
		case s.vc.OpusSend <- packet:
		case <-s.done:
			return errStreamClosed
		}
	}
	return nil
}

// Close implements [audio.PlaybackStream]. It unblocks any in-flight Write
// and drops the device reference. The partial trailing chunk is discarded.
func (s *playbackStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.speaking {
			s.setSpeaking(false)
		}
		s.mu.Unlock()
		err = s.dev.release()
	})
	return err
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (s *playbackStream) setSpeaking(b bool) {
	if err := s.vc.Speaking(b); err != nil {
		slog.Warn("speaking notification error", "speaking", b, "err", err)
	}
}
