package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/pion/logging"

	"github.com/thesyncim/rtcaudio"
)

// Capture is a LocalProducer reading interleaved float32 audio from a
// microphone. Each device period is delivered as one AudioBuffer on the
// device's callback thread; the buffer is reused after the sink returns.
type Capture struct {
	config Config
	log    logging.LeveledLogger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buf    *rtcaudio.AudioBuffer
	start  time.Time
	frames int64
}

// NewCapture returns an unstarted capture device.
func NewCapture(config Config) *Capture {
	config.applyDefaults()
	return &Capture{
		config: config,
		log:    config.LoggerFactory.NewLogger("capture"),
	}
}

// Start opens the device and begins delivering buffers to sink.
func (c *Capture) Start(sink rtcaudio.AudioBufferCallback) error {
	if sink == nil {
		return rtcaudio.ErrNilCallback
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return errors.New("capture already started")
	}

	ctx, err := initContext(c.log)
	if err != nil {
		return err
	}

	id, err := selectDevice(ctx, malgo.Capture, c.config.Name)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(c.config.Channels)
	cfg.SampleRate = uint32(c.config.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(c.config.PeriodMillis)
	cfg.Alsa.NoMMap = 1
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	channels := c.config.Channels
	onFrames := func(_, input []byte, frameCount uint32) {
		n := int(frameCount)
		if c.buf == nil || c.buf.Frames != n {
			c.buf = rtcaudio.NewAudioBuffer(c.config.SampleRate, channels, n)
		}
		decodeF32(c.buf.Samples, input)
		c.buf.Timestamp = time.Since(c.start)
		c.frames += int64(n)
		sink(c.buf)
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: onFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}

	c.start = time.Now()
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	c.ctx = ctx
	c.device = device
	c.log.Infof("capture started: %d Hz, %d channels", c.config.SampleRate, channels)
	return nil
}

// Stop stops the device. After Stop returns no more buffers are delivered.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}

	err := c.device.Stop()
	c.device.Uninit()
	c.device = nil
	if uerr := c.ctx.Uninit(); uerr != nil {
		err = errors.Join(err, uerr)
	}
	c.ctx.Free()
	c.ctx = nil
	c.log.Infof("capture stopped after %d frames", c.frames)
	return err
}
