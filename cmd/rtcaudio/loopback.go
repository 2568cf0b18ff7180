package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thesyncim/rtcaudio"
	"github.com/thesyncim/rtcaudio/device"
)

func loopbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Send audio through the in-process RTP loopback engine",
		Long: `Creates a sender track fed by a tone (or the microphone), connects it to a
receiver track over the loopback engine, and writes what the receiver gets to
a WAV file and/or the speaker.`,
		RunE: runLoopback,
	}

	flags := cmd.Flags()
	addProducerFlags(cmd)
	flags.String("out", "loopback.wav", "WAV file for received audio (empty to disable)")
	flags.Bool("play", false, "Play received audio on the default output device")
	flags.Int("mtu", 1200, "RTP MTU of the loopback engine")
	return cmd
}

func runLoopback(cmd *cobra.Command, _ []string) error {
	lf, err := loggerFactory()
	if err != nil {
		return err
	}
	log := lf.NewLogger("cli")

	metrics, stopMetrics, err := startMetrics(viper.GetString("metrics-addr"), log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	engine := rtcaudio.NewLoopbackEngine(rtcaudio.LoopbackConfig{
		MTU:           viper.GetInt("mtu"),
		LoggerFactory: lf,
	})
	rt, err := rtcaudio.NewRuntime(engine,
		rtcaudio.WithLoggerFactory(lf),
		rtcaudio.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Shutdown(); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	sender, err := rt.NewSenderTrack(viper.GetString("label"))
	if err != nil {
		return err
	}
	defer sender.Close()

	remote, err := engine.Connect(sender.Handle())
	if err != nil {
		return fmt.Errorf("connect loopback: %w", err)
	}
	receiver, err := rt.NewReceiverTrack(remote)
	if err != nil {
		return err
	}
	defer receiver.Close()
	receiver.OnEnded(func() { log.Infof("track %s ended", receiver.Label()) })

	sampleRate := viper.GetInt("sample-rate")
	channels := viper.GetInt("channels")

	var stats levelMeter
	if _, err := receiver.AddReceiveCallback(stats.observe); err != nil {
		return err
	}

	var sinks multiDevice
	if out := viper.GetString("out"); out != "" {
		rec, err := rtcaudio.CreateWAVRecorder(out, sampleRate, channels)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warnf("close %s: %v", out, err)
			}
			log.Infof("wrote %d frames to %s", rec.Frames(), out)
		}()
		sinks = append(sinks, rec)
	}
	if viper.GetBool("play") {
		pb := device.NewPlayback(device.Config{SampleRate: sampleRate, Channels: channels, LoggerFactory: lf})
		if err := pb.Open(); err != nil {
			return err
		}
		defer pb.Close()
		sinks = append(sinks, pb)
	}
	if len(sinks) > 0 {
		if err := receiver.AttachPlaybackDevice(sinks); err != nil {
			return err
		}
	}

	producer, err := newProducer(lf)
	if err != nil {
		return err
	}
	if err := sender.AttachLocalProducer(producer, nil); err != nil {
		return err
	}

	log.Infof("sending %s -> %s for %s", sender.Label(), receiver.Label(), viper.GetDuration("duration"))
	wait(cmd.Context(), viper.GetDuration("duration"))

	if err := sender.DetachLocalProducer(); err != nil {
		log.Warnf("detach producer: %v", err)
	}
	// Let the loopback queue drain before tearing down.
	time.Sleep(50 * time.Millisecond)
	if err := engine.EndTrack(remote); err != nil {
		log.Warnf("end track: %v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "received %d buffers, %d frames, peak %.3f\n",
		stats.buffers.Load(), stats.frames.Load(), stats.peak())
	return nil
}

// wait blocks until ctx is done or d elapses. A zero d waits for ctx only.
func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// levelMeter is a receive callback tracking counts and the peak level.
type levelMeter struct {
	buffers  atomic.Uint64
	frames   atomic.Uint64
	peakBits atomic.Uint32
}

func (m *levelMeter) observe(buf *rtcaudio.AudioBuffer) {
	m.buffers.Add(1)
	m.frames.Add(uint64(buf.Frames))
	var peak float32
	for _, s := range buf.Samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	for {
		old := m.peakBits.Load()
		if peak <= math.Float32frombits(old) || m.peakBits.CompareAndSwap(old, math.Float32bits(peak)) {
			return
		}
	}
}

func (m *levelMeter) peak() float32 { return math.Float32frombits(m.peakBits.Load()) }

// multiDevice fans a buffer out to several playback devices.
type multiDevice []rtcaudio.PlaybackDevice

func (d multiDevice) WriteAudio(buf *rtcaudio.AudioBuffer) error {
	var errs []error
	for _, dev := range d {
		if err := dev.WriteAudio(buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
