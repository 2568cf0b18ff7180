package rtcaudio

// AudioBufferCallback receives audio buffers in push mode.
// The buffer is only valid for the duration of the call.
type AudioBufferCallback func(buf *AudioBuffer)

// LocalProducer is a local capture device that pushes buffers.
type LocalProducer interface {
	// Start begins capture. sink is invoked from the producer's own thread
	// for every captured buffer, in capture order.
	Start(sink AudioBufferCallback) error

	// Stop halts capture. sink is not invoked after Stop returns.
	// Stopping twice is safe.
	Stop() error
}

// PlaybackDevice is a local playback device.
//
// WriteAudio may be called from the engine's real-time thread; devices that
// cannot play synchronously must hand the data off internally.
type PlaybackDevice interface {
	WriteAudio(buf *AudioBuffer) error
}
