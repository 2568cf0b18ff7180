package rtcaudio

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type forwardCall struct {
	handle  Handle
	samples []float32
	frames  int
}

// fakeEngine records every boundary call. It copies forwarded samples, as a
// real engine must, and flags any call that names a released handle.
type fakeEngine struct {
	mu       sync.Mutex
	next     Handle
	kinds    map[Handle]string
	released []Handle
	captured []forwardCall
	rendered []forwardCall
	attached map[Handle]Handle // sink -> track
	detached []Handle          // sinks
	observer EngineObserver
	closes   int

	violations []string

	createTrackErr error
	attachErr      error
	forwardErr     error
	sinkErr        error

	// Called inside ForwardCapturedAudio without holding mu.
	onForwardCaptured func()
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		kinds:    make(map[Handle]string),
		attached: make(map[Handle]Handle),
	}
}

func (f *fakeEngine) alloc(kind string) Handle {
	f.next++
	f.kinds[f.next] = kind
	return f.next
}

func (f *fakeEngine) checkLocked(op string, h Handle) {
	if f.closes > 0 {
		f.violations = append(f.violations, fmt.Sprintf("%s(%s) after Close", op, h))
	}
	if _, ok := f.kinds[h]; !ok {
		f.violations = append(f.violations, fmt.Sprintf("%s(%s) on released or unknown handle", op, h))
	}
}

func (f *fakeEngine) CreateAudioSource() (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc("source"), nil
}

func (f *fakeEngine) CreateAudioSink() (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc("sink"), nil
}

func (f *fakeEngine) CreateAudioTrack(label string, source Handle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("CreateAudioTrack", source)
	if f.createTrackErr != nil {
		return InvalidHandle, f.createTrackErr
	}
	return f.alloc("track"), nil
}

// issueRemoteTrack simulates the engine announcing an incoming track.
func (f *fakeEngine) issueRemoteTrack() Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc("remote")
}

func (f *fakeEngine) ReleaseHandle(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("ReleaseHandle", h)
	delete(f.kinds, h)
	f.released = append(f.released, h)
}

func (f *fakeEngine) ForwardCapturedAudio(source Handle, buf *AudioBuffer) error {
	if hook := f.onForwardCaptured; hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("ForwardCapturedAudio", source)
	if f.forwardErr != nil {
		return f.forwardErr
	}
	f.captured = append(f.captured, forwardCall{
		handle:  source,
		samples: append([]float32(nil), buf.Samples...),
		frames:  buf.Frames,
	})
	return nil
}

func (f *fakeEngine) ForwardSinkAudio(sink Handle, buf *AudioBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("ForwardSinkAudio", sink)
	if f.sinkErr != nil {
		return f.sinkErr
	}
	f.rendered = append(f.rendered, forwardCall{
		handle:  sink,
		samples: append([]float32(nil), buf.Samples...),
		frames:  buf.Frames,
	})
	return nil
}

func (f *fakeEngine) AttachSink(track, sink Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("AttachSink", track)
	f.checkLocked("AttachSink", sink)
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[sink] = track
	return nil
}

func (f *fakeEngine) DetachSink(track, sink Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLocked("DetachSink", track)
	f.checkLocked("DetachSink", sink)
	delete(f.attached, sink)
	f.detached = append(f.detached, sink)
	return nil
}

func (f *fakeEngine) SetObserver(o EngineObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = o
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// deliver plays the engine's real-time thread: it hands buf to whichever
// observer is installed, exactly as a native callback would.
func (f *fakeEngine) deliver(sink Handle, buf *AudioBuffer) {
	f.mu.Lock()
	o := f.observer
	f.mu.Unlock()
	if o != nil {
		o.OnDecodedBuffer(sink, buf)
	}
}

func (f *fakeEngine) endTrack(track Handle) {
	f.mu.Lock()
	o := f.observer
	f.mu.Unlock()
	if o != nil {
		o.OnTrackEnded(track)
	}
}

func (f *fakeEngine) sinkFor(track Handle) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s, t := range f.attached {
		if t == track {
			return s
		}
	}
	return InvalidHandle
}

func (f *fakeEngine) releasedHandles() []Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Handle(nil), f.released...)
}

func (f *fakeEngine) releaseCount(h Handle) int {
	n := 0
	for _, r := range f.releasedHandles() {
		if r == h {
			n++
		}
	}
	return n
}

func (f *fakeEngine) capturedCalls() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.captured...)
}

func (f *fakeEngine) renderedCalls() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.rendered...)
}

func (f *fakeEngine) violationList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.violations...)
}

func quietLoggerFactory() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	return lf
}

// newTestRuntime returns a runtime over a fake engine. The engine is checked
// for boundary violations when the test ends.
func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *fakeEngine) {
	t.Helper()
	fe := newFakeEngine()
	opts = append([]Option{WithLoggerFactory(quietLoggerFactory())}, opts...)
	rt, err := NewRuntime(fe, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, rt.Shutdown())
		require.Empty(t, fe.violationList())
	})
	return rt, fe
}

// stereoBuffer returns a 48 kHz stereo buffer whose samples all equal v.
func stereoBuffer(frames int, v float32) *AudioBuffer {
	buf := NewAudioBuffer(48000, 2, frames)
	for i := range buf.Samples {
		buf.Samples[i] = v
	}
	return buf
}
