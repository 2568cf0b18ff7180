package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thesyncim/rtcaudio"
	"github.com/thesyncim/rtcaudio/device"
)

// addProducerFlags defines the flags describing the local audio producer.
func addProducerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("label", "", "Sender track label (generated when empty)")
	flags.Duration("duration", 5*time.Second, "How long to send (0 = until interrupted)")
	flags.String("pattern", "sine", "Tone pattern: silence, sine, square, noise, sweep")
	flags.Float64("frequency", 440, "Tone frequency in Hz")
	flags.Float64("amplitude", 0.5, "Tone amplitude 0.0-1.0")
	flags.Int("sample-rate", 48000, "Sample rate in Hz")
	flags.Int("channels", 2, "Channel count")
	flags.Int("frame-size", 480, "Frames per buffer")
	flags.Bool("mic", false, "Capture from the microphone instead of generating a tone")
	flags.String("mic-name", "", "Microphone name substring (default device when empty)")
}

func newProducer(lf logging.LoggerFactory) (rtcaudio.LocalProducer, error) {
	if viper.GetBool("mic") {
		return device.NewCapture(device.Config{
			Name:          viper.GetString("mic-name"),
			SampleRate:    viper.GetInt("sample-rate"),
			Channels:      viper.GetInt("channels"),
			LoggerFactory: lf,
		}), nil
	}

	pattern, err := rtcaudio.ParseTonePattern(viper.GetString("pattern"))
	if err != nil {
		return nil, err
	}
	cfg := rtcaudio.DefaultToneConfig()
	cfg.Pattern = pattern
	cfg.Frequency = viper.GetFloat64("frequency")
	cfg.Amplitude = viper.GetFloat64("amplitude")
	cfg.SampleRate = viper.GetInt("sample-rate")
	cfg.Channels = viper.GetInt("channels")
	cfg.FrameSize = viper.GetInt("frame-size")
	return rtcaudio.NewToneProducer(cfg), nil
}

// startMetrics registers the rtcaudio collectors and, when addr is set,
// serves them over HTTP. The returned stop function is always non-nil.
func startMetrics(addr string, log logging.LeveledLogger) (*rtcaudio.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m, err := rtcaudio.NewMetrics(reg, rtcaudio.MetricsConfig{})
	if err != nil {
		return nil, func() {}, fmt.Errorf("register metrics: %w", err)
	}
	if addr == "" {
		return m, func() {}, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, func() {}, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}
