package rtcaudio

import "time"

// AudioBuffer is one block of interleaved float32 PCM.
//
// Samples holds Frames*Channels values, channel-interleaved. Buffers handed to
// consumers by the engine are only valid for the duration of the call.
type AudioBuffer struct {
	Samples    []float32     // Interleaved samples in [-1, 1]
	Channels   int           // Number of channels (1 = mono, 2 = stereo)
	SampleRate int           // Sample rate in Hz (e.g., 48000)
	Frames     int           // Samples per channel
	Timestamp  time.Duration // Capture or decode timestamp, informational
}

// NewAudioBuffer allocates a zeroed buffer for the given format.
func NewAudioBuffer(sampleRate, channels, frames int) *AudioBuffer {
	n := 0
	if channels > 0 && frames > 0 {
		n = channels * frames
	}
	return &AudioBuffer{
		Samples:    make([]float32, n),
		Channels:   channels,
		SampleRate: sampleRate,
		Frames:     frames,
	}
}

// Validate checks the format fields and the sample count.
// The returned error matches ErrInvalidBuffer.
func (b *AudioBuffer) Validate() error {
	if b == nil {
		return &BufferError{Field: "buffer"}
	}
	switch {
	case b.SampleRate <= 0:
		return &BufferError{Field: "sampleRate", Value: b.SampleRate}
	case b.Channels <= 0:
		return &BufferError{Field: "channelCount", Value: b.Channels}
	case b.Frames <= 0:
		return &BufferError{Field: "frameCount", Value: b.Frames}
	}
	if want := b.Frames * b.Channels; len(b.Samples) != want {
		return &BufferError{Field: "samples", Value: len(b.Samples), Want: want}
	}
	return nil
}

// Duration returns the playback duration of the buffer.
func (b *AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames) * time.Second / time.Duration(b.SampleRate)
}

// Clone creates a deep copy of the buffer.
func (b *AudioBuffer) Clone() *AudioBuffer {
	clone := &AudioBuffer{
		Channels:   b.Channels,
		SampleRate: b.SampleRate,
		Frames:     b.Frames,
		Timestamp:  b.Timestamp,
	}
	if b.Samples != nil {
		clone.Samples = make([]float32, len(b.Samples))
		copy(clone.Samples, b.Samples)
	}
	return clone
}
