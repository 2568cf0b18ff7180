package rtcaudio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVRecorder is a PlaybackDevice that writes everything it receives to a
// 16-bit PCM WAV stream. Buffers must all match the recorder's format.
type WAVRecorder struct {
	sampleRate int
	channels   int

	mu     sync.Mutex
	enc    *wav.Encoder
	closer io.Closer
	ints   []int
	frames int64
	closed bool
}

// NewWAVRecorder writes WAV data to w. The header is finalized by Close,
// which is why w must be seekable.
func NewWAVRecorder(w io.WriteSeeker, sampleRate, channels int) (*WAVRecorder, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid WAV format: %d Hz, %d channels", sampleRate, channels)
	}
	return &WAVRecorder{
		sampleRate: sampleRate,
		channels:   channels,
		enc:        wav.NewEncoder(w, sampleRate, wavBitDepth, channels, 1),
	}, nil
}

// CreateWAVRecorder creates path and records into it. Close also closes the
// file.
func CreateWAVRecorder(path string, sampleRate, channels int) (*WAVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create WAV file: %w", err)
	}
	r, err := NewWAVRecorder(f, sampleRate, channels)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r.closer = f
	return r, nil
}

// WriteAudio converts buf to 16-bit PCM and appends it.
func (r *WAVRecorder) WriteAudio(buf *AudioBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.SampleRate != r.sampleRate || buf.Channels != r.channels {
		return fmt.Errorf("WAV recorder expects %d Hz/%d ch, got %d Hz/%d ch",
			r.sampleRate, r.channels, buf.SampleRate, buf.Channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrDisposed
	}

	if cap(r.ints) < len(buf.Samples) {
		r.ints = make([]int, len(buf.Samples))
	}
	ints := r.ints[:len(buf.Samples)]
	for i, s := range buf.Samples {
		v := math.Round(float64(s) * math.MaxInt16)
		ints[i] = int(max(math.MinInt16, min(math.MaxInt16, v)))
	}

	err := r.enc.Write(&audio.IntBuffer{
		Data:           ints,
		Format:         &audio.Format{SampleRate: r.sampleRate, NumChannels: r.channels},
		SourceBitDepth: wavBitDepth,
	})
	if err != nil {
		return fmt.Errorf("encode WAV: %w", err)
	}
	r.frames += int64(buf.Frames)
	return nil
}

// Frames returns how many frames have been written.
func (r *WAVRecorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalizes the WAV header. Safe to call repeatedly.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.enc.Close()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}
