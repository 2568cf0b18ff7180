//go:build darwin || linux

package rtcaudio

// Parameter structs passed by pointer to libstream_rtc. Layouts match the
// structs of the same name in stream_rtc.h.

// rtcEngineCreateParams matches StreamRTCEngineCreateParams.
type rtcEngineCreateParams struct {
	DecodedCallback uintptr
	EndedCallback   uintptr
	UserData        uintptr
	SampleRate      int32
	Channels        int32
}

// rtcTrackCreateParams matches StreamRTCTrackCreateParams.
type rtcTrackCreateParams struct {
	Engine uint64
	Source uint64
	Label  uintptr
}

// rtcAudioParams matches StreamRTCAudioParams. Target is a source for
// stream_rtc_audio_source_push and a sink for stream_rtc_audio_sink_forward.
type rtcAudioParams struct {
	Target      uint64
	Samples     uintptr
	Frames      int32
	Channels    int32
	SampleRate  int32
	_           int32
	TimestampUs int64
}
