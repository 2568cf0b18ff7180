package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtcaudio"
)

func TestPlayback_WriteThenFill(t *testing.T) {
	p := NewPlayback(Config{SampleRate: 48000, Channels: 2, BufferMillis: 20})

	buf := rtcaudio.NewAudioBuffer(48000, 2, 4)
	for i := range buf.Samples {
		buf.Samples[i] = float32(i) / 10
	}
	require.NoError(t, p.WriteAudio(buf))
	assert.Equal(t, len(buf.Samples)*bytesPerSample, p.Buffered())

	out := make([]byte, 2*len(buf.Samples)*bytesPerSample)
	p.fill(out)

	got := make([]float32, 2*len(buf.Samples))
	decodeF32(got, out)
	assert.Equal(t, buf.Samples, got[:len(buf.Samples)])
	for _, v := range got[len(buf.Samples):] {
		assert.Zero(t, v)
	}
	assert.EqualValues(t, 1, p.Underruns())
	assert.Zero(t, p.Buffered())
}

func TestPlayback_OverrunDropsWholeBuffer(t *testing.T) {
	// 1ms of stereo float32 at 48kHz = 384 bytes
	p := NewPlayback(Config{SampleRate: 48000, Channels: 2, BufferMillis: 1})

	buf := rtcaudio.NewAudioBuffer(48000, 2, 40)
	require.NoError(t, p.WriteAudio(buf))
	require.NoError(t, p.WriteAudio(buf))

	assert.Equal(t, 40*2*bytesPerSample, p.Buffered())
	assert.EqualValues(t, 1, p.Overruns())
}

func TestPlayback_RejectsMismatchedFormat(t *testing.T) {
	p := NewPlayback(Config{SampleRate: 48000, Channels: 2})

	err := p.WriteAudio(rtcaudio.NewAudioBuffer(44100, 2, 10))
	assert.Error(t, err)

	err = p.WriteAudio(&rtcaudio.AudioBuffer{SampleRate: 48000, Channels: 2, Frames: 2, Samples: make([]float32, 3)})
	assert.ErrorIs(t, err, rtcaudio.ErrInvalidBuffer)
	assert.Zero(t, p.Buffered())
}

func TestPlayback_CloseWithoutOpen(t *testing.T) {
	p := NewPlayback(Config{})
	assert.NoError(t, p.Close())
}

func TestConvert_RoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.25, -0.5}
	raw := make([]byte, len(in)*bytesPerSample)
	encodeF32(raw, in)

	out := make([]float32, len(in))
	n := decodeF32(out, raw)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, out)

	// Short source decodes only whole samples.
	assert.Equal(t, 1, decodeF32(out, raw[:6]))
}
