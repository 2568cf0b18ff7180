package rtcaudio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// TonePattern defines the waveform generated by a ToneProducer.
type TonePattern int

const (
	ToneSilence TonePattern = iota // Silence
	ToneSine                       // Sine wave tone
	ToneSquare                     // Square wave tone
	ToneNoise                      // White noise
	ToneSweep                      // Logarithmic frequency sweep
)

func (p TonePattern) String() string {
	switch p {
	case ToneSilence:
		return "silence"
	case ToneSine:
		return "sine"
	case ToneSquare:
		return "square"
	case ToneNoise:
		return "noise"
	case ToneSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// ParseTonePattern parses the String form of a TonePattern.
func ParseTonePattern(s string) (TonePattern, error) {
	for p := ToneSilence; p <= ToneSweep; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return ToneSilence, errors.New("unknown tone pattern: " + s)
}

// ToneConfig configures a ToneProducer.
type ToneConfig struct {
	SampleRate int         // Sample rate (default: 48000)
	Channels   int         // Number of channels (default: 2)
	FrameSize  int         // Frames per buffer (default: 480 = 10ms at 48kHz)
	Pattern    TonePattern // Waveform
	Frequency  float64     // Tone frequency in Hz (default: 440)
	Amplitude  float64     // Amplitude 0.0-1.0 (default: 0.5)

	// For sweep pattern
	SweepStartHz  float64       // Sweep start frequency (default: 200)
	SweepEndHz    float64       // Sweep end frequency (default: 2000)
	SweepDuration time.Duration // Sweep duration (default: 2s)
}

// DefaultToneConfig returns a 440 Hz stereo sine at 48 kHz in 10 ms buffers.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		SampleRate:    48000,
		Channels:      2,
		FrameSize:     480,
		Pattern:       ToneSine,
		Frequency:     440.0,
		Amplitude:     0.5,
		SweepStartHz:  200,
		SweepEndHz:    2000,
		SweepDuration: 2 * time.Second,
	}
}

// ToneProducer is a LocalProducer that synthesizes audio in real time, one
// buffer per frame interval. The delivered buffer is reused after the sink
// returns.
type ToneProducer struct {
	config ToneConfig

	buf *AudioBuffer

	// Phase for continuous waveforms
	phase      float64
	sweepPhase float64
	frameCount uint64
	rngState   uint64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewToneProducer creates a tone producer, applying defaults to zero fields.
func NewToneProducer(config ToneConfig) *ToneProducer {
	def := DefaultToneConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = def.Channels
	}
	if config.FrameSize <= 0 {
		config.FrameSize = def.FrameSize
	}
	if config.Frequency <= 0 {
		config.Frequency = def.Frequency
	}
	if config.Amplitude <= 0 {
		config.Amplitude = def.Amplitude
	}
	config.Amplitude = min(config.Amplitude, 1.0)
	if config.SweepStartHz <= 0 {
		config.SweepStartHz = def.SweepStartHz
	}
	if config.SweepEndHz <= 0 {
		config.SweepEndHz = def.SweepEndHz
	}
	if config.SweepDuration <= 0 {
		config.SweepDuration = def.SweepDuration
	}

	return &ToneProducer{
		config:   config,
		buf:      NewAudioBuffer(config.SampleRate, config.Channels, config.FrameSize),
		rngState: uint64(time.Now().UnixNano()) | 1,
	}
}

// Config returns the effective configuration.
func (p *ToneProducer) Config() ToneConfig { return p.config }

// FrameDuration returns the duration of one buffer.
func (p *ToneProducer) FrameDuration() time.Duration {
	return time.Duration(p.config.FrameSize) * time.Second / time.Duration(p.config.SampleRate)
}

// Start begins delivering buffers to sink on a ticker goroutine.
func (p *ToneProducer) Start(sink AudioBufferCallback) error {
	if sink == nil {
		return ErrNilCallback
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("tone producer already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.generateLoop(ctx, sink, p.done)
	return nil
}

// Stop stops generation and waits for the last delivery to finish.
func (p *ToneProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()
	<-p.done
	return nil
}

// Running reports whether the producer is generating.
func (p *ToneProducer) Running() bool { return p.running.Load() }

func (p *ToneProducer) generateLoop(ctx context.Context, sink AudioBufferCallback, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink(p.Next())
		}
	}
}

// Next synthesizes the next buffer. It is not safe to call concurrently with
// a running producer.
func (p *ToneProducer) Next() *AudioBuffer {
	switch p.config.Pattern {
	case ToneSine:
		p.fill(func() float64 { return p.advance(&p.phase, p.config.Frequency, math.Sin) })
	case ToneSquare:
		p.fill(func() float64 { return p.advance(&p.phase, p.config.Frequency, square) })
	case ToneNoise:
		p.fill(p.noise)
	case ToneSweep:
		freq := p.sweepFrequency()
		p.fill(func() float64 { return p.advance(&p.sweepPhase, freq, math.Sin) })
	default:
		clear(p.buf.Samples)
	}

	p.buf.Timestamp = time.Duration(p.frameCount) * time.Second / time.Duration(p.config.SampleRate)
	p.frameCount += uint64(p.config.FrameSize)
	return p.buf
}

// fill writes one generated value per frame to every channel.
func (p *ToneProducer) fill(next func() float64) {
	amp := p.config.Amplitude
	ch := p.config.Channels
	for i := 0; i < p.config.FrameSize; i++ {
		v := float32(amp * next())
		for c := 0; c < ch; c++ {
			p.buf.Samples[i*ch+c] = v
		}
	}
}

func (p *ToneProducer) advance(phase *float64, freq float64, wave func(float64) float64) float64 {
	v := wave(*phase)
	*phase += 2.0 * math.Pi * freq / float64(p.config.SampleRate)
	if *phase > 2*math.Pi {
		*phase -= 2 * math.Pi
	}
	return v
}

func square(phase float64) float64 {
	if math.Sin(phase) >= 0 {
		return 1
	}
	return -1
}

// noise is xorshift64 scaled to [-1, 1].
func (p *ToneProducer) noise() float64 {
	p.rngState ^= p.rngState << 13
	p.rngState ^= p.rngState >> 7
	p.rngState ^= p.rngState << 17
	return (float64(p.rngState)/float64(^uint64(0)))*2.0 - 1.0
}

func (p *ToneProducer) sweepFrequency() float64 {
	sweepFrames := float64(p.config.SampleRate) * p.config.SweepDuration.Seconds()
	progress := math.Mod(float64(p.frameCount), sweepFrames) / sweepFrames
	logStart := math.Log(p.config.SweepStartHz)
	logEnd := math.Log(p.config.SweepEndHz)
	return math.Exp(logStart + progress*(logEnd-logStart))
}
