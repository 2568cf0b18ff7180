//go:build darwin || linux

package rtcaudio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pion/logging"
)

var (
	streamRTCOnce    sync.Once
	streamRTCHandle  uintptr
	streamRTCInitErr error
)

// libstream_rtc function pointers
var (
	streamRTCEngineCreate  func(params *rtcEngineCreateParams) uint64
	streamRTCEngineDestroy func(engine uint64)

	streamRTCAudioSourceCreate func(engine uint64) uint64
	streamRTCAudioSinkCreate   func(engine uint64) uint64
	streamRTCAudioTrackCreate  func(params *rtcTrackCreateParams) uint64
	streamRTCHandleRelease     func(engine, handle uint64)

	streamRTCAudioSourcePush  func(params *rtcAudioParams) int32
	streamRTCAudioSinkForward func(params *rtcAudioParams) int32
	streamRTCTrackAttachSink  func(track, sink uint64) int32
	streamRTCTrackDetachSink  func(track, sink uint64) int32

	streamRTCGetError   func() uintptr
	streamRTCGetVersion func() uintptr
)

const streamRTCOK = 0

func loadStreamRTC() error {
	streamRTCOnce.Do(func() {
		streamRTCInitErr = loadStreamRTCLib()
		if streamRTCInitErr == nil {
			setBackendAvailable(BackendNative, true)
		}
	})
	return streamRTCInitErr
}

func loadStreamRTCLib() error {
	var lastErr error
	for _, path := range libraryPaths("stream_rtc", "STREAM_RTC_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		streamRTCHandle = handle
		if err := loadStreamRTCSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libstream_rtc: %w", lastErr)
	}
	return errors.New("libstream_rtc not found in any standard location")
}

func loadStreamRTCSymbols() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libstream_rtc: %v", r)
		}
	}()

	purego.RegisterLibFunc(&streamRTCEngineCreate, streamRTCHandle, "stream_rtc_engine_create")
	purego.RegisterLibFunc(&streamRTCEngineDestroy, streamRTCHandle, "stream_rtc_engine_destroy")

	purego.RegisterLibFunc(&streamRTCAudioSourceCreate, streamRTCHandle, "stream_rtc_audio_source_create")
	purego.RegisterLibFunc(&streamRTCAudioSinkCreate, streamRTCHandle, "stream_rtc_audio_sink_create")
	purego.RegisterLibFunc(&streamRTCAudioTrackCreate, streamRTCHandle, "stream_rtc_audio_track_create")
	purego.RegisterLibFunc(&streamRTCHandleRelease, streamRTCHandle, "stream_rtc_handle_release")

	purego.RegisterLibFunc(&streamRTCAudioSourcePush, streamRTCHandle, "stream_rtc_audio_source_push")
	purego.RegisterLibFunc(&streamRTCAudioSinkForward, streamRTCHandle, "stream_rtc_audio_sink_forward")
	purego.RegisterLibFunc(&streamRTCTrackAttachSink, streamRTCHandle, "stream_rtc_track_attach_sink")
	purego.RegisterLibFunc(&streamRTCTrackDetachSink, streamRTCHandle, "stream_rtc_track_detach_sink")

	purego.RegisterLibFunc(&streamRTCGetError, streamRTCHandle, "stream_rtc_get_error")
	purego.RegisterLibFunc(&streamRTCGetVersion, streamRTCHandle, "stream_rtc_get_version")
	return nil
}

// IsNativeAvailable reports whether libstream_rtc could be loaded.
func IsNativeAvailable() bool {
	return loadStreamRTC() == nil
}

// NativeVersion returns the engine version string, or "" if unavailable.
func NativeVersion() string {
	if !IsNativeAvailable() {
		return ""
	}
	return goStringFromPtr(streamRTCGetVersion())
}

func nativeError(op string, code int32) error {
	msg := "unknown error"
	if ptr := streamRTCGetError(); ptr != 0 {
		msg = goStringFromPtr(ptr)
	}
	return fmt.Errorf("%s: %s (code %d)", op, msg, code)
}

// Process-wide callback state. purego callbacks are a limited resource, so one
// pair is created per process and routed to engines by user data token.
var (
	nativeEngines       sync.Map // uintptr -> *NativeEngine
	nativeEngineCounter atomic.Uintptr
	decodedCallback     uintptr
	endedCallback       uintptr
	callbackOnce        sync.Once
)

func initNativeCallbacks() {
	callbackOnce.Do(func() {
		decodedCallback = purego.NewCallback(nativeDecodedHandler)
		endedCallback = purego.NewCallback(nativeEndedHandler)
	})
}

// nativeDecodedHandler runs on the engine's real-time thread.
func nativeDecodedHandler(
	userData uintptr,
	sink uint64,
	samples uintptr,
	frames, channels, sampleRate int32,
	timestampUs int64,
) {
	v, ok := nativeEngines.Load(userData)
	if !ok {
		return
	}
	e := v.(*NativeEngine)
	ref := e.observer.Load()
	if ref == nil || samples == 0 || frames <= 0 || channels <= 0 {
		return
	}

	// Borrowed: valid only for the duration of this call.
	buf := AudioBuffer{
		Samples:    unsafe.Slice((*float32)(unsafe.Pointer(samples)), int(frames)*int(channels)),
		Channels:   int(channels),
		SampleRate: int(sampleRate),
		Frames:     int(frames),
		Timestamp:  time.Duration(timestampUs) * time.Microsecond,
	}
	ref.o.OnDecodedBuffer(Handle(sink), &buf)
}

func nativeEndedHandler(userData uintptr, track uint64) {
	v, ok := nativeEngines.Load(userData)
	if !ok {
		return
	}
	if ref := v.(*NativeEngine).observer.Load(); ref != nil {
		ref.o.OnTrackEnded(Handle(track))
	}
}

// NativeConfig configures a NativeEngine.
type NativeConfig struct {
	SampleRate    int // Engine processing rate (default 48000)
	Channels      int // Engine processing channels (default 2)
	LoggerFactory logging.LoggerFactory
}

// NativeEngine is the Engine backed by libstream_rtc.
type NativeEngine struct {
	handle   uint64
	token    uintptr
	log      logging.LeveledLogger
	observer atomic.Pointer[observerRef]
	closed   atomic.Bool
}

// NewNativeEngine loads libstream_rtc and creates a native engine instance.
// It returns an error wrapping ErrNotSupported when the library is missing.
func NewNativeEngine(config NativeConfig) (*NativeEngine, error) {
	if err := loadStreamRTC(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	initNativeCallbacks()

	e := &NativeEngine{
		token: nativeEngineCounter.Add(1),
		log:   config.LoggerFactory.NewLogger("rtcaudio-native"),
	}
	nativeEngines.Store(e.token, e)

	params := rtcEngineCreateParams{
		DecodedCallback: decodedCallback,
		EndedCallback:   endedCallback,
		UserData:        e.token,
		SampleRate:      int32(config.SampleRate),
		Channels:        int32(config.Channels),
	}
	e.handle = streamRTCEngineCreate(&params)
	if e.handle == 0 {
		nativeEngines.Delete(e.token)
		return nil, nativeError("stream_rtc_engine_create", -1)
	}
	e.log.Infof("libstream_rtc %s engine created", NativeVersion())
	return e, nil
}

func (e *NativeEngine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *NativeEngine) CreateAudioSource() (Handle, error) {
	if err := e.checkOpen(); err != nil {
		return InvalidHandle, err
	}
	h := streamRTCAudioSourceCreate(e.handle)
	if h == 0 {
		return InvalidHandle, nativeError("stream_rtc_audio_source_create", -1)
	}
	return Handle(h), nil
}

func (e *NativeEngine) CreateAudioSink() (Handle, error) {
	if err := e.checkOpen(); err != nil {
		return InvalidHandle, err
	}
	h := streamRTCAudioSinkCreate(e.handle)
	if h == 0 {
		return InvalidHandle, nativeError("stream_rtc_audio_sink_create", -1)
	}
	return Handle(h), nil
}

func (e *NativeEngine) CreateAudioTrack(label string, source Handle) (Handle, error) {
	if err := e.checkOpen(); err != nil {
		return InvalidHandle, err
	}
	cLabel := cString(label)
	params := rtcTrackCreateParams{
		Engine: e.handle,
		Source: uint64(source),
		Label:  uintptr(unsafe.Pointer(&cLabel[0])),
	}
	h := streamRTCAudioTrackCreate(&params)
	runtime.KeepAlive(cLabel)
	if h == 0 {
		return InvalidHandle, nativeError("stream_rtc_audio_track_create", -1)
	}
	return Handle(h), nil
}

func (e *NativeEngine) ReleaseHandle(h Handle) {
	if e.closed.Load() {
		return
	}
	streamRTCHandleRelease(e.handle, uint64(h))
}

func (e *NativeEngine) ForwardCapturedAudio(source Handle, buf *AudioBuffer) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	params := audioParams(source, buf)
	code := streamRTCAudioSourcePush(&params)
	runtime.KeepAlive(buf.Samples)
	if code != streamRTCOK {
		return nativeError("stream_rtc_audio_source_push", code)
	}
	return nil
}

func (e *NativeEngine) ForwardSinkAudio(sink Handle, buf *AudioBuffer) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	params := audioParams(sink, buf)
	code := streamRTCAudioSinkForward(&params)
	runtime.KeepAlive(buf.Samples)
	if code != streamRTCOK {
		return nativeError("stream_rtc_audio_sink_forward", code)
	}
	return nil
}

func (e *NativeEngine) AttachSink(track, sink Handle) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if code := streamRTCTrackAttachSink(uint64(track), uint64(sink)); code != streamRTCOK {
		return nativeError("stream_rtc_track_attach_sink", code)
	}
	return nil
}

func (e *NativeEngine) DetachSink(track, sink Handle) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if code := streamRTCTrackDetachSink(uint64(track), uint64(sink)); code != streamRTCOK {
		return nativeError("stream_rtc_track_detach_sink", code)
	}
	return nil
}

func (e *NativeEngine) SetObserver(o EngineObserver) {
	if o == nil {
		e.observer.Store(nil)
		return
	}
	e.observer.Store(&observerRef{o: o})
}

// Close destroys the native engine and every object it still owns.
func (e *NativeEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.observer.Store(nil)
	nativeEngines.Delete(e.token)
	streamRTCEngineDestroy(e.handle)
	return nil
}

func audioParams(target Handle, buf *AudioBuffer) rtcAudioParams {
	return rtcAudioParams{
		Target:      uint64(target),
		Samples:     uintptr(unsafe.Pointer(&buf.Samples[0])),
		Frames:      int32(buf.Frames),
		Channels:    int32(buf.Channels),
		SampleRate:  int32(buf.SampleRate),
		TimestampUs: buf.Timestamp.Microseconds(),
	}
}
