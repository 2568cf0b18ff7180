package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/pion/logging"
)

// Config selects and configures a sound device.
type Config struct {
	Name          string // Device name substring; empty selects the default device
	SampleRate    int    // default 48000
	Channels      int    // default 2
	PeriodMillis  int    // Device period (default 10)
	BufferMillis  int    // Playback ring buffer length (default 200)
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.PeriodMillis <= 0 {
		c.PeriodMillis = 10
	}
	if c.BufferMillis <= 0 {
		c.BufferMillis = 200
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Info describes one sound device.
type Info struct {
	Name      string
	IsDefault bool
}

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func initContext(log logging.LeveledLogger) (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, func(message string) {
		log.Debug(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return ctx, nil
}

// List returns the capture (capture=true) or playback devices.
func List(capture bool) ([]Info, error) {
	log := logging.NewDefaultLoggerFactory().NewLogger("device")
	ctx, err := initContext(log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	kind := malgo.Playback
	if capture {
		kind = malgo.Capture
	}
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]Info, 0, len(infos))
	for _, info := range infos {
		out = append(out, Info{Name: info.Name(), IsDefault: info.IsDefault != 0})
	}
	return out, nil
}

// selectDevice returns the ID pointer of the first device whose name contains
// name, or nil for the system default.
func selectDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (*malgo.DeviceID, error) {
	if name == "" {
		return nil, nil
	}
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			id := infos[i].ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}
