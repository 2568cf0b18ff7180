package rtcaudio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// nativeRef is the part of a proxy that survives it: the native handle and
// what is needed to release it. It is the argument of the GC cleanup, so it
// must never point back at the proxy.
type nativeRef struct {
	rt     *Runtime
	handle Handle
	wp     weak.Pointer[resource]

	detach     func() // native-only detach step, run before release
	detachOnce sync.Once

	mu       sync.Mutex
	children []*nativeRef // released before this ref

	once     sync.Once
	released atomic.Bool
}

func (n *nativeRef) addChild(c *nativeRef) {
	n.mu.Lock()
	n.children = append(n.children, c)
	n.mu.Unlock()
}

func (n *nativeRef) runDetach() {
	if n.detach == nil {
		return
	}
	n.detachOnce.Do(n.detach)
}

// release unregisters and releases the handle exactly once, whichever of
// explicit disposal, GC cleanup or a parent's release gets here first.
// A concurrent second caller blocks until the first has finished.
func (n *nativeRef) release(path string) {
	n.once.Do(func() {
		n.mu.Lock()
		children := n.children
		n.mu.Unlock()
		for _, c := range children {
			c.release(path)
		}

		n.rt.handles.unregister(n.handle, n.wp)
		n.runDetach()
		n.rt.releaseNative(n.handle, path)
		n.released.Store(true)
	})
}

// resource is the ref-counted base of every proxy.
//
// refs starts at one, held by the owner. In-flight users (a delivery on the
// real-time thread, a push from a capture thread) hold an extra reference, so
// the native release runs only when the owner has disposed and the last user
// has returned. Once disposed, no new reference can be taken.
type resource struct {
	rt       *Runtime
	native   *nativeRef
	owner    any
	parent   *resource // kept alive until this resource is released
	refs     atomic.Int32
	disposed atomic.Bool
	cleanup  runtime.Cleanup
}

// newResource registers h for owner and arms the GC fallback. On error the
// handle is left untouched; the caller decides whether to release it.
func (rt *Runtime) newResource(h Handle, owner any) (*resource, error) {
	r := &resource{rt: rt, owner: owner}
	r.refs.Store(1)
	r.native = &nativeRef{rt: rt, handle: h, wp: weak.Make(r)}

	if err := rt.handles.register(h, r); err != nil {
		return nil, err
	}
	rt.metrics.handleAcquired()

	r.cleanup = runtime.AddCleanup(r, func(n *nativeRef) {
		n.release(releasePathCleanup)
	}, r.native)
	return r, nil
}

// Handle returns the native handle, or InvalidHandle once disposed.
func (r *resource) Handle() Handle {
	if r.disposed.Load() {
		return InvalidHandle
	}
	return r.native.handle
}

// Disposed reports whether disposal has begun.
func (r *resource) Disposed() bool { return r.disposed.Load() }

// acquire takes an in-flight reference. It fails once disposal has begun.
func (r *resource) acquire() bool {
	for {
		if r.disposed.Load() {
			return false
		}
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops one reference; the last one releases the native handle and
// then the reference held on the parent.
func (r *resource) release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	r.cleanup.Stop()
	r.native.release(releasePathExplicit)
	if r.parent != nil {
		r.parent.release()
	}
}

// setParent makes r hold a reference on p, so p's native release waits for
// r's. Called during construction only.
func (r *resource) setParent(p *resource) {
	p.refs.Add(1)
	r.parent = p
	p.native.addChild(r.native)
}

// dispose begins disposal. It reports false if disposal had already begun.
// The handle is unregistered and detached immediately so no new callbacks
// arrive; the native release follows once in-flight users return.
func (r *resource) dispose() bool {
	if !r.beginDispose() {
		return false
	}
	r.finishDispose()
	return true
}

// beginDispose marks r disposed so no new reference can be taken. Owners
// that must stop their own feeders before the native side goes away call it
// directly and follow up with finishDispose.
func (r *resource) beginDispose() bool {
	return r.disposed.CompareAndSwap(false, true)
}

func (r *resource) finishDispose() {
	r.rt.handles.unregister(r.native.handle, r.native.wp)
	r.native.runDetach()
	r.release()
}
