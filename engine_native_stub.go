//go:build !(darwin || linux)

package rtcaudio

import "github.com/pion/logging"

// NativeConfig configures a NativeEngine.
type NativeConfig struct {
	SampleRate    int
	Channels      int
	LoggerFactory logging.LoggerFactory
}

// NativeEngine is unavailable on this platform.
type NativeEngine struct{}

// NewNativeEngine always fails with ErrNotSupported on this platform.
func NewNativeEngine(NativeConfig) (*NativeEngine, error) { return nil, ErrNotSupported }

// IsNativeAvailable always returns false on this platform.
func IsNativeAvailable() bool { return false }

// NativeVersion always returns "" on this platform.
func NativeVersion() string { return "" }

func (*NativeEngine) CreateAudioSource() (Handle, error)              { return InvalidHandle, ErrNotSupported }
func (*NativeEngine) CreateAudioSink() (Handle, error)                { return InvalidHandle, ErrNotSupported }
func (*NativeEngine) CreateAudioTrack(string, Handle) (Handle, error) { return InvalidHandle, ErrNotSupported }
func (*NativeEngine) ReleaseHandle(Handle)                            {}
func (*NativeEngine) ForwardCapturedAudio(Handle, *AudioBuffer) error { return ErrNotSupported }
func (*NativeEngine) ForwardSinkAudio(Handle, *AudioBuffer) error     { return ErrNotSupported }
func (*NativeEngine) AttachSink(Handle, Handle) error                 { return ErrNotSupported }
func (*NativeEngine) DetachSink(Handle, Handle) error                 { return ErrNotSupported }
func (*NativeEngine) SetObserver(EngineObserver)                      {}
func (*NativeEngine) Close() error                                    { return nil }
