package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtcaudio"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logging.LogLevel
	}{
		{"", logging.LogLevelInfo},
		{"off", logging.LogLevelDisabled},
		{"ERROR", logging.LogLevelError},
		{"warning", logging.LogLevelWarn},
		{"debug", logging.LogLevelDebug},
		{"trace", logging.LogLevelTrace},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseLogLevel("loud")
	assert.Error(t, err)
}

func TestLevelMeter(t *testing.T) {
	var m levelMeter
	buf := rtcaudio.NewAudioBuffer(48000, 1, 4)
	copy(buf.Samples, []float32{0.1, -0.7, 0.3, 0})
	m.observe(buf)

	quiet := rtcaudio.NewAudioBuffer(48000, 1, 2)
	m.observe(quiet)

	assert.EqualValues(t, 2, m.buffers.Load())
	assert.EqualValues(t, 6, m.frames.Load())
	assert.InDelta(t, 0.7, m.peak(), 1e-6)
}

type failingDevice struct{ err error }

func (d failingDevice) WriteAudio(*rtcaudio.AudioBuffer) error { return d.err }

func TestMultiDevice(t *testing.T) {
	boom := errors.New("boom")
	rec, err := rtcaudio.CreateWAVRecorder(filepath.Join(t.TempDir(), "a.wav"), 48000, 2)
	require.NoError(t, err)
	defer rec.Close()

	d := multiDevice{failingDevice{boom}, rec}
	err = d.WriteAudio(rtcaudio.NewAudioBuffer(48000, 2, 10))
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 10, rec.Frames(), "a failing device does not starve the others")
}

func TestStartMetricsWithoutAddr(t *testing.T) {
	m, stop, err := startMetrics("", logging.NewDefaultLoggerFactory().NewLogger("test"))
	require.NoError(t, err)
	assert.NotNil(t, m)
	stop()
}

func TestLoopbackCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rx.wav")

	cmd := RootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{
		"loopback",
		"--log-level", "disabled",
		"--duration", "100ms",
		"--frame-size", "96",
		"--out", out,
	})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "received ")
	assert.NotContains(t, stdout.String(), "received 0 buffers")
	assert.FileExists(t, out)
}
