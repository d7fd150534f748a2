package audio

import "encoding/binary"

// Conversion helpers for 16-bit little-endian PCM. The streaming channel and
// the audio device rarely agree on sample rate or channel count, so the
// bridge callers convert at the boundary.

// Convert transcodes 16-bit PCM between two formats. Channel reduction runs
// before resampling and channel expansion after, so the resampler always
// touches the smaller stream. Input that is already in the target format is
// returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from.SampleRateHz == to.SampleRateHz && from.Channels == to.Channels {
		return pcm
	}
	out := pcm
	channels := from.Channels
	if from.Channels == 2 && to.Channels == 1 {
		out = StereoToMono(out)
		channels = 1
	}
	if from.SampleRateHz != to.SampleRateHz {
		out = Resample16(out, channels, from.SampleRateHz, to.SampleRateHz)
	}
	if from.Channels == 1 && to.Channels == 2 {
		out = MonoToStereo(out)
	}
	return out
}

// Resample16 converts interleaved 16-bit PCM from srcRate to dstRate using
// linear interpolation between neighbouring frames. Channel alignment is
// preserved.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate == dstRate || channels <= 0 || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	samples := BytesToInt16s(pcm)
	frames := len(samples) / channels
	if frames == 0 {
		return nil
	}

	outFrames := int(int64(frames) * int64(dstRate) / int64(srcRate))
	if outFrames == 0 {
		outFrames = 1
	}
	out := make([]int16, outFrames*channels)

	ratio := float64(srcRate) / float64(dstRate)
	for i := range outFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx >= frames-1 {
			idx = frames - 1
			frac = 0
		}
		for c := range channels {
			s0 := samples[idx*channels+c]
			s1 := s0
			if idx+1 < frames {
				s1 = samples[(idx+1)*channels+c]
			}
			out[i*channels+c] = int16(float64(s0) + frac*float64(s1-s0))
		}
	}
	return Int16sToBytes(out)
}

// StereoToMono averages each stereo pair into one sample.
func StereoToMono(pcm []byte) []byte {
	samples := BytesToInt16s(pcm)
	pairs := len(samples) / 2
	out := make([]int16, pairs)
	for i := range pairs {
		// Sum in int32 to avoid overflow before halving.
		sum := int32(samples[2*i]) + int32(samples[2*i+1])
		out[i] = int16(sum / 2)
	}
	return Int16sToBytes(out)
}

// MonoToStereo duplicates each sample into both channels.
func MonoToStereo(pcm []byte) []byte {
	samples := BytesToInt16s(pcm)
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return Int16sToBytes(out)
}

// BytesToInt16s reinterprets little-endian PCM bytes as int16 samples. A
// trailing odd byte is ignored.
func BytesToInt16s(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// Int16sToBytes serializes int16 samples as little-endian PCM bytes.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
