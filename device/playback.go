package device

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/pion/logging"
	"github.com/smallnest/ringbuffer"

	"github.com/thesyncim/rtcaudio"
)

// Playback is a PlaybackDevice for a speaker. WriteAudio runs on the
// engine's real-time thread, so it only copies into a ring buffer; the device
// callback drains it and plays silence on underrun.
type Playback struct {
	config Config
	log    logging.LeveledLogger

	ring    *ringbuffer.RingBuffer
	scratch []byte // guarded by writeMu
	writeMu sync.Mutex

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// NewPlayback creates a playback sink with a ring buffer sized from
// config.BufferMillis. Call Open to start the hardware.
func NewPlayback(config Config) *Playback {
	config.applyDefaults()
	size := config.SampleRate * config.Channels * bytesPerSample * config.BufferMillis / 1000
	return &Playback{
		config: config,
		log:    config.LoggerFactory.NewLogger("playback"),
		ring:   ringbuffer.New(size),
	}
}

// Open starts the output device.
func (p *Playback) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return nil
	}

	ctx, err := initContext(p.log)
	if err != nil {
		return err
	}
	id, err := selectDevice(ctx, malgo.Playback, p.config.Name)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(p.config.Channels)
	cfg.SampleRate = uint32(p.config.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(p.config.PeriodMillis)
	cfg.Alsa.NoMMap = 1
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) { p.fill(output) },
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start playback device: %w", err)
	}

	p.ctx = ctx
	p.device = device
	p.log.Infof("playback started: %d Hz, %d channels", p.config.SampleRate, p.config.Channels)
	return nil
}

// WriteAudio queues buf for playback. When the ring buffer is full the
// buffer is dropped and counted as an overrun.
func (p *Playback) WriteAudio(buf *rtcaudio.AudioBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.SampleRate != p.config.SampleRate || buf.Channels != p.config.Channels {
		return fmt.Errorf("playback expects %d Hz/%d ch, got %d Hz/%d ch",
			p.config.SampleRate, p.config.Channels, buf.SampleRate, buf.Channels)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n := len(buf.Samples) * bytesPerSample
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	data := p.scratch[:n]
	encodeF32(data, buf.Samples)

	if p.ring.Free() < n {
		p.overruns.Add(1)
		return nil
	}
	if _, err := p.ring.Write(data); err != nil {
		if errors.Is(err, ringbuffer.ErrIsFull) {
			p.overruns.Add(1)
			return nil
		}
		return fmt.Errorf("queue playback audio: %w", err)
	}
	return nil
}

// fill runs on the device thread.
func (p *Playback) fill(output []byte) {
	n, _ := p.ring.Read(output)
	if n < len(output) {
		clear(output[n:])
		p.underruns.Add(1)
	}
}

// Buffered returns how many bytes are waiting to be played.
func (p *Playback) Buffered() int { return p.ring.Length() }

// Overruns returns how many buffers were dropped because the ring was full.
func (p *Playback) Overruns() uint64 { return p.overruns.Load() }

// Underruns returns how many device periods were padded with silence.
func (p *Playback) Underruns() uint64 { return p.underruns.Load() }

// Close stops the device and discards queued audio.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	err := p.device.Stop()
	p.device.Uninit()
	p.device = nil
	if uerr := p.ctx.Uninit(); uerr != nil {
		err = errors.Join(err, uerr)
	}
	p.ctx.Free()
	p.ctx = nil
	p.ring.Reset()
	return err
}
