package rtcaudio

// Engine is the boundary to the native media engine.
//
// Implementations issue handles, encode and transmit captured audio, decode
// received audio, and call back into the EngineObserver from their own
// threads. Engine methods are only invoked by a Runtime while the engine is
// live; after Close no method other than Close is called again.
type Engine interface {
	// CreateAudioSource allocates a native audio source.
	CreateAudioSource() (Handle, error)

	// CreateAudioSink allocates a native audio sink.
	CreateAudioSink() (Handle, error)

	// CreateAudioTrack creates a local track fed by source.
	CreateAudioTrack(label string, source Handle) (Handle, error)

	// ReleaseHandle releases a native object. Called at most once per handle.
	ReleaseHandle(h Handle)

	// ForwardCapturedAudio hands a locally produced buffer to source for
	// encoding. The engine must copy the data before returning.
	ForwardCapturedAudio(source Handle, buf *AudioBuffer) error

	// ForwardSinkAudio hands a decoded buffer to the sink processing entry
	// point. The engine must copy the data before returning.
	ForwardSinkAudio(sink Handle, buf *AudioBuffer) error

	// AttachSink makes sink a consumer of track's decoded audio.
	AttachSink(track, sink Handle) error

	// DetachSink stops delivering track's audio to sink.
	DetachSink(track, sink Handle) error

	// SetObserver installs the receiver of inbound engine callbacks.
	// A nil observer stops delivery.
	SetObserver(o EngineObserver)

	// Close tears down the engine and every native object it still holds.
	Close() error
}

// EngineObserver receives inbound calls from the engine.
type EngineObserver interface {
	// OnDecodedBuffer is called on the engine's real-time thread whenever a
	// decoded buffer is available for sink. buf is only valid during the call.
	OnDecodedBuffer(sink Handle, buf *AudioBuffer)

	// OnTrackEnded is called when the engine marks track as ended.
	OnTrackEnded(track Handle)
}
