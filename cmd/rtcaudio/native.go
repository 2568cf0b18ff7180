package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thesyncim/rtcaudio"
)

func nativeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "native",
		Short: "Send audio into the native engine (libstream_rtc)",
		Long: `Loads libstream_rtc (see STREAM_RTC_LIB_PATH and STREAM_SDK_LIB_PATH),
creates a sender track and feeds it from a tone or the microphone.`,
		RunE: runNative,
	}
	addProducerFlags(cmd)
	flags := cmd.Flags()
	flags.Bool("version", false, "Only print the native library version")
	return cmd
}

func runNative(cmd *cobra.Command, _ []string) error {
	if !rtcaudio.IsNativeAvailable() {
		_, err := rtcaudio.NewNativeEngine(rtcaudio.NativeConfig{})
		return err
	}
	if viper.GetBool("version") {
		fmt.Fprintln(cmd.OutOrStdout(), rtcaudio.NativeVersion())
		return nil
	}

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

	engine, err := rtcaudio.NewNativeEngine(rtcaudio.NativeConfig{
		SampleRate:    viper.GetInt("sample-rate"),
		Channels:      viper.GetInt("channels"),
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	rt, err := rtcaudio.NewRuntime(engine,
		rtcaudio.WithLoggerFactory(lf),
		rtcaudio.WithMetrics(metrics),
	)
	if err != nil {
		engine.Close()
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

	producer, err := newProducer(lf)
	if err != nil {
		return err
	}
	if err := sender.AttachLocalProducer(producer, nil); err != nil {
		return err
	}

	log.Infof("sending %s (%s) into libstream_rtc %s", sender.Label(), sender.Handle(), rtcaudio.NativeVersion())
	wait(cmd.Context(), viper.GetDuration("duration"))
	return sender.DetachLocalProducer()
}
