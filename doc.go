// Package rtcaudio binds Go audio tracks to a native real-time media engine.
//
// The package never touches native memory directly. Every native object
// (track, source, sink) is represented by an opaque Handle owned by exactly one
// Go proxy, and every proxy guarantees its handle is released exactly once:
// by an explicit Close, by the garbage collector as a fallback, or implicitly
// when the engine itself is shut down first.
//
// # Architecture
//
//	Send:    LocalProducer/PushBuffer -> AudioTrack(sender) -> AudioSource -> Engine
//	Receive: Engine (real-time thread) -> AudioRenderer -> callbacks -> PlaybackDevice
//
// A Runtime owns one Engine, the handle table used to route native callbacks
// back to their proxies, and the liveness gate consulted before every native
// call. Create the Runtime before any track and Shutdown it last.
//
// # Engines
//
//   - NativeEngine loads libstream_rtc through purego (darwin, linux). Set
//     STREAM_RTC_LIB_PATH or STREAM_SDK_LIB_PATH to locate the library.
//   - LoopbackEngine is an in-process engine that carries captured audio over
//     RTP (L16) to remote receiver tracks. It is used by tests and the
//     rtcaudio command.
//
// # Real-time delivery
//
// Decoded buffers arrive on the engine's real-time thread. Consumers run
// inline and must return quickly; the renderer does not queue. Buffers are
// borrowed for the duration of the call; use AudioBuffer.Clone to retain one.
package rtcaudio
