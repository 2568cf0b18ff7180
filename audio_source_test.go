package rtcaudio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSender(t *testing.T, rt *Runtime) *AudioTrack {
	t.Helper()
	track, err := rt.NewSenderTrack("mic")
	require.NoError(t, err)
	t.Cleanup(func() { track.Close() })
	return track
}

// stubProducer is a LocalProducer driven by the test through emit.
type stubProducer struct {
	mu       sync.Mutex
	sink     AudioBufferCallback
	starts   int
	stops    int
	startErr error
	onStop   func()
}

func (p *stubProducer) Start(sink AudioBufferCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	p.sink = sink
	return nil
}

func (p *stubProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.sink = nil
	if p.onStop != nil {
		p.onStop()
	}
	return nil
}

func (p *stubProducer) emit(buf *AudioBuffer) bool {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(buf)
	return true
}

// recordingDevice is a PlaybackDevice that clones what it receives.
type recordingDevice struct {
	mu      sync.Mutex
	buffers []*AudioBuffer
	onWrite func()
}

func (d *recordingDevice) WriteAudio(buf *AudioBuffer) error {
	if d.onWrite != nil {
		d.onWrite()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers = append(d.buffers, buf.Clone())
	return nil
}

func (d *recordingDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func TestAudioSource_PushForwardsOnceUnmodified(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)

	buf := NewAudioBuffer(48000, 2, 480)
	for i := range buf.Samples {
		buf.Samples[i] = float32(i%97) / 97
	}
	want := append([]float32(nil), buf.Samples...)

	require.NoError(t, track.PushBuffer(buf))

	calls := fe.capturedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, track.Source().Handle(), calls[0].handle)
	assert.Equal(t, 480, calls[0].frames)
	assert.Equal(t, want, calls[0].samples)
	assert.Equal(t, want, buf.Samples, "push must not modify the caller's buffer")
}

func TestAudioSource_ThreeBuffersForwardedInOrder(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)

	var want [][]float32
	for i := range 3 {
		buf := NewAudioBuffer(48000, 2, 480)
		for j := range buf.Samples {
			buf.Samples[j] = float32(i+1) + float32(j)/1e4
		}
		want = append(want, append([]float32(nil), buf.Samples...))
		require.NoError(t, track.PushBuffer(buf))
	}

	calls := fe.capturedCalls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.Equal(t, track.Source().Handle(), call.handle)
		assert.Equal(t, 480, call.frames)
		require.Len(t, call.samples, 960)
		assert.Equal(t, want[i], call.samples, "buffer %d", i)
	}
}

func TestAudioSource_InvalidBufferMakesNoNativeCall(t *testing.T) {
	m, err := NewMetrics(nil, MetricsConfig{})
	require.NoError(t, err)
	rt, fe := newTestRuntime(t, WithMetrics(m))
	track := newSender(t, rt)

	invalid := []*AudioBuffer{
		nil,
		{SampleRate: 0, Channels: 2, Frames: 1, Samples: make([]float32, 2)},
		{SampleRate: 48000, Channels: 0, Frames: 1, Samples: make([]float32, 2)},
		{SampleRate: 48000, Channels: 2, Frames: 0},
		{SampleRate: 48000, Channels: 2, Frames: 480, Samples: make([]float32, 959)},
	}
	for _, buf := range invalid {
		assert.ErrorIs(t, track.PushBuffer(buf), ErrInvalidBuffer)
	}

	assert.Empty(t, fe.capturedCalls())
	assert.Equal(t, float64(len(invalid)), testutil.ToFloat64(m.dropped.WithLabelValues(dropReasonInvalid)))
}

func TestAudioSource_PushAfterCloseIsDisposed(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	src := track.Source()

	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.PushBuffer(stereoBuffer(10, 0)), ErrDisposed)
	assert.Empty(t, fe.capturedCalls())
	assert.Equal(t, InvalidHandle, src.Handle())
}

func TestAudioSource_PushAfterShutdownIsDropped(t *testing.T) {
	m, err := NewMetrics(nil, MetricsConfig{})
	require.NoError(t, err)
	rt, fe := newTestRuntime(t, WithMetrics(m))
	track := newSender(t, rt)

	require.NoError(t, rt.Shutdown())
	assert.NoError(t, track.PushBuffer(stereoBuffer(10, 0)))
	assert.Empty(t, fe.capturedCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(dropReasonShutdown)))
}

func TestAudioSource_EngineErrorIsReturned(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	boom := errors.New("encoder overloaded")
	fe.forwardErr = boom

	err := track.PushBuffer(stereoBuffer(10, 0))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "forward captured audio")
}

func TestAudioSource_ProducerLifecycle(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)

	assert.ErrorIs(t, track.AttachLocalProducer(nil, nil), ErrNilProducer)

	first := &stubProducer{}
	require.NoError(t, track.AttachLocalProducer(first, nil))
	assert.True(t, track.Source().HasProducer())
	require.True(t, first.emit(stereoBuffer(10, 0.5)))
	assert.Len(t, fe.capturedCalls(), 1)

	// A second attach while one is active is ignored.
	second := &stubProducer{}
	require.NoError(t, track.AttachLocalProducer(second, nil))
	assert.Zero(t, second.starts)

	require.NoError(t, track.DetachLocalProducer())
	assert.Equal(t, 1, first.stops)
	assert.False(t, track.Source().HasProducer())
	assert.False(t, first.emit(stereoBuffer(10, 0.5)))

	// After detach a different producer replaces it.
	require.NoError(t, track.AttachLocalProducer(second, nil))
	assert.Equal(t, 1, second.starts)
	require.True(t, second.emit(stereoBuffer(10, 0.5)))
	assert.Len(t, fe.capturedCalls(), 2)

	// Detaching twice is harmless.
	require.NoError(t, track.DetachLocalProducer())
	require.NoError(t, track.DetachLocalProducer())
	assert.Equal(t, 1, second.stops)
}

func TestAudioSource_ProducerStartFailure(t *testing.T) {
	rt, _ := newTestRuntime(t)
	track := newSender(t, rt)

	p := &stubProducer{startErr: errors.New("device busy")}
	err := track.AttachLocalProducer(p, nil)
	assert.ErrorContains(t, err, "device busy")
	assert.False(t, track.Source().HasProducer())
}

func TestAudioSource_LoopbackMonitor(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	monitor := &recordingDevice{}
	p := &stubProducer{}

	require.NoError(t, track.AttachLocalProducer(p, monitor))

	p.emit(stereoBuffer(10, 0.1))
	assert.Zero(t, monitor.count(), "monitor is silent while loopback is off")

	require.NoError(t, track.SetLoopback(true))
	assert.True(t, track.Loopback())
	p.emit(stereoBuffer(10, 0.2))
	require.Equal(t, 1, monitor.count())
	assert.Equal(t, float32(0.2), monitor.buffers[0].Samples[0])

	assert.Len(t, fe.capturedCalls(), 2, "forwarding is independent of loopback")
}

func TestAudioSource_LoopbackWithoutProducerHasNoEffect(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)

	require.NoError(t, track.SetLoopback(true))
	require.NoError(t, track.PushBuffer(stereoBuffer(10, 0)))
	assert.Len(t, fe.capturedCalls(), 1)
}

func TestAudioSource_CloseStopsProducer(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	p := &stubProducer{}
	require.NoError(t, track.AttachLocalProducer(p, nil))

	src := track.Source()
	require.NoError(t, src.Close())
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, 1, fe.releaseCount(src.native.handle))
	assert.ErrorIs(t, track.AttachLocalProducer(&stubProducer{}, nil), ErrDisposed)
}

func TestAudioSource_CloseStopsProducerBeforeRelease(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	src := track.Source()
	handle := src.Handle()

	releasedAtStop := -1
	p := &stubProducer{onStop: func() { releasedAtStop = fe.releaseCount(handle) }}
	require.NoError(t, track.AttachLocalProducer(p, nil))

	require.NoError(t, src.Close())
	assert.Zero(t, releasedAtStop, "producer must stop before the native release")
	assert.Equal(t, 1, fe.releaseCount(handle))
	assert.ErrorIs(t, src.DetachLocalProducer(), ErrDisposed)
}

func TestAudioSource_ConcurrentPushAndClose(t *testing.T) {
	rt, fe := newTestRuntime(t)
	track := newSender(t, rt)
	handle := track.Source().Handle()

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		pushed  atomic.Int64
	)
	for range 8 {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			buf := stereoBuffer(32, 0.3)
			for {
				if err := track.PushBuffer(buf); err != nil {
					assert.ErrorIs(t, err, ErrDisposed)
					return
				}
				pushed.Add(1)
			}
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return pushed.Load() > 100 }, waitFor, tick)

	require.NoError(t, track.Close())
	wg.Wait()

	assert.Equal(t, 1, fe.releaseCount(handle))
	// fakeEngine flags any forward that reached a released handle.
	assert.Empty(t, fe.violationList())
	assert.Equal(t, int(pushed.Load()), len(fe.capturedCalls()))
}
