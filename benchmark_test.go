package rtcaudio

import "testing"

// BenchmarkPushBuffer measures a validated push through the proxy layer.
func BenchmarkPushBuffer(b *testing.B) {
	b.Run("Loopback", func(b *testing.B) {
		loop := NewLoopbackEngine(LoopbackConfig{LoggerFactory: quietLoggerFactory()})
		benchmarkPush(b, loop)
	})

	b.Run("Native", func(b *testing.B) {
		if !IsNativeAvailable() {
			b.Skip("libstream_rtc not available")
		}
		e, err := NewNativeEngine(NativeConfig{LoggerFactory: quietLoggerFactory()})
		if err != nil {
			b.Fatal(err)
		}
		benchmarkPush(b, e)
	})
}

func benchmarkPush(b *testing.B, engine Engine) {
	rt, err := NewRuntime(engine, WithLoggerFactory(quietLoggerFactory()))
	if err != nil {
		b.Fatal(err)
	}
	defer rt.Shutdown()

	track, err := rt.NewSenderTrack("bench")
	if err != nil {
		b.Fatal(err)
	}
	defer track.Close()

	// 10ms of 48kHz stereo
	buf := stereoBuffer(480, 0.25)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := track.PushBuffer(buf); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLoopbackRoundTrip measures packetize, marshal, unmarshal and
// delivery of one 10ms buffer.
func BenchmarkLoopbackRoundTrip(b *testing.B) {
	loop := NewLoopbackEngine(LoopbackConfig{LoggerFactory: quietLoggerFactory()})
	rt, err := NewRuntime(loop, WithLoggerFactory(quietLoggerFactory()))
	if err != nil {
		b.Fatal(err)
	}
	defer rt.Shutdown()

	sender, err := rt.NewSenderTrack("bench")
	if err != nil {
		b.Fatal(err)
	}
	defer sender.Close()
	remote, err := loop.Connect(sender.Handle())
	if err != nil {
		b.Fatal(err)
	}
	receiver, err := rt.NewReceiverTrack(remote)
	if err != nil {
		b.Fatal(err)
	}
	defer receiver.Close()

	got := make(chan struct{}, 1)
	if _, err := receiver.AddReceiveCallback(func(*AudioBuffer) { got <- struct{}{} }); err != nil {
		b.Fatal(err)
	}

	buf := stereoBuffer(480, 0.25)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := sender.PushBuffer(buf); err != nil {
			b.Fatal(err)
		}
		<-got
	}
}
