package rtcaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Runtime owns one Engine and all proxies created on it.
//
// Ordering: NewRuntime marks the engine live before any resource can exist;
// Shutdown marks it dead, waits for native calls already in progress, and only
// then closes the engine. Every native call, including releases, re-reads the
// liveness state first, so no call reaches an engine that was torn down.
// Resources still open at Shutdown are treated as released.
type Runtime struct {
	engine  Engine
	handles *handleTable
	gate    liveness

	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
	metrics       *Metrics
	labelPrefix   string

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLoggerFactory sets the pion logger factory used for all proxies.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(rt *Runtime) { rt.loggerFactory = f }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithLabelPrefix sets the prefix of generated track labels (default "audio").
func WithLabelPrefix(prefix string) Option {
	return func(rt *Runtime) { rt.labelPrefix = prefix }
}

// NewRuntime marks engine live and starts receiving its callbacks.
func NewRuntime(engine Engine, opts ...Option) (*Runtime, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	rt := &Runtime{
		engine:      engine,
		handles:     newHandleTable(),
		labelPrefix: "audio",
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.loggerFactory == nil {
		rt.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	rt.log = rt.loggerFactory.NewLogger("rtcaudio")
	rt.gate.init()

	engine.SetObserver(observer{rt})
	return rt, nil
}

// Live reports whether native calls are still allowed.
func (rt *Runtime) Live() bool { return !rt.gate.closed.Load() }

// LiveHandles returns the number of handles currently routed to proxies.
func (rt *Runtime) LiveHandles() int { return rt.handles.len() }

// Shutdown tears down the engine. Proxies that are still open become inert:
// their Close succeeds without issuing native calls. Safe to call repeatedly.
func (rt *Runtime) Shutdown() error {
	rt.shutdownOnce.Do(func() {
		rt.gate.shutdown()
		rt.engine.SetObserver(nil)
		if err := rt.engine.Close(); err != nil {
			rt.shutdownErr = fmt.Errorf("close engine: %w", err)
		}
		rt.log.Debugf("engine shut down, %d proxies still registered", rt.handles.len())
	})
	return rt.shutdownErr
}

// call runs fn against the engine if it is still live.
func (rt *Runtime) call(fn func(Engine) error) error {
	if !rt.gate.enter() {
		return ErrEngineClosed
	}
	defer rt.gate.exit()
	return fn(rt.engine)
}

// releaseNative issues the native release for h unless the engine is gone,
// in which case the native object is already freed.
func (rt *Runtime) releaseNative(h Handle, path string) {
	if !rt.gate.enter() {
		rt.metrics.handleReleased(releasePathSkipped)
		return
	}
	rt.engine.ReleaseHandle(h)
	rt.gate.exit()
	rt.metrics.handleReleased(path)
}

// discardNative releases a handle that never got a proxy.
func (rt *Runtime) discardNative(h Handle) {
	if !h.Valid() || !rt.gate.enter() {
		return
	}
	rt.engine.ReleaseHandle(h)
	rt.gate.exit()
}

func (rt *Runtime) newLabel() string {
	return rt.labelPrefix + "-" + uuid.NewString()
}

// liveness gates native calls against engine teardown.
//
// enter/exit bracket a native call and may nest. shutdown flips closed and
// waits until no call is in progress. It must not be called from inside a
// bracketed call.
type liveness struct {
	closed   atomic.Bool
	inflight atomic.Int64
	mu       sync.Mutex
	drained  *sync.Cond
}

func (l *liveness) init() {
	l.drained = sync.NewCond(&l.mu)
}

func (l *liveness) enter() bool {
	l.inflight.Add(1)
	if l.closed.Load() {
		l.exit()
		return false
	}
	return true
}

func (l *liveness) exit() {
	if l.inflight.Add(-1) == 0 && l.closed.Load() {
		l.mu.Lock()
		l.drained.Broadcast()
		l.mu.Unlock()
	}
}

func (l *liveness) shutdown() {
	l.closed.Store(true)
	l.mu.Lock()
	for l.inflight.Load() > 0 {
		l.drained.Wait()
	}
	l.mu.Unlock()
}

// observer routes engine callbacks through the handle table.
type observer struct {
	rt *Runtime
}

func (o observer) OnDecodedBuffer(sink Handle, buf *AudioBuffer) {
	r, ok := o.rt.handles.resolve(sink)
	if !ok {
		o.rt.metrics.bufferDropped(dropReasonUnknown)
		return
	}
	renderer, ok := r.owner.(*AudioRenderer)
	if !ok {
		o.rt.metrics.bufferDropped(dropReasonUnknown)
		return
	}
	renderer.onDecodedBuffer(buf)
}

func (o observer) OnTrackEnded(track Handle) {
	r, ok := o.rt.handles.resolve(track)
	if !ok {
		return
	}
	if t, ok := r.owner.(*AudioTrack); ok {
		t.setState(TrackStateEnded)
	}
}
