package rtcaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// CallbackID identifies a registered receive callback.
type CallbackID uint64

type callbackEntry struct {
	id CallbackID
	fn AudioBufferCallback
}

// AudioRenderer is the receiver-side native sink. It accepts decoded buffers
// from the engine's real-time thread and fans them out, inline and in
// registration order, to callbacks and then to the playback device.
//
// There is no queue between the engine and consumers: a slow consumer stalls
// the audio pipeline, so consumers must return quickly or hand off.
type AudioRenderer struct {
	*resource
	kind  TrackKind
	track Handle

	callbacks atomic.Pointer[[]callbackEntry] // copy-on-write, read lock-free
	device    atomic.Pointer[playbackRef]

	mu     sync.Mutex // serializes callback registration
	nextID CallbackID
}

// newAudioRenderer allocates a sink, binds it to t and attaches it as a
// consumer of t's decoded audio.
func (rt *Runtime) newAudioRenderer(t *AudioTrack) (*AudioRenderer, error) {
	var sink Handle
	err := rt.call(func(e Engine) (err error) {
		sink, err = e.CreateAudioSink()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create audio sink: %w", err)
	}

	r := &AudioRenderer{kind: t.kind, track: t.native.handle}
	empty := []callbackEntry{}
	r.callbacks.Store(&empty)

	res, err := rt.newResource(sink, r)
	if err != nil {
		rt.discardNative(sink)
		return nil, fmt.Errorf("register audio sink: %w", err)
	}
	r.resource = res
	res.setParent(t.resource)

	track := r.track
	if err := rt.call(func(e Engine) error { return e.AttachSink(track, sink) }); err != nil {
		r.dispose()
		return nil, fmt.Errorf("attach audio sink: %w", err)
	}
	res.native.detach = func() {
		if err := rt.call(func(e Engine) error { return e.DetachSink(track, sink) }); err != nil && !errors.Is(err, ErrEngineClosed) {
			rt.log.Warnf("detach sink %s from track %s: %v", sink, track, err)
		}
	}
	return r, nil
}

// Kind returns the kind of the owning track.
func (r *AudioRenderer) Kind() TrackKind { return r.kind }

// AddCallback registers cb to receive every decoded buffer. Only receiver
// renderers accept callbacks.
func (r *AudioRenderer) AddCallback(cb AudioBufferCallback) (CallbackID, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}
	if r.kind != TrackKindReceiver {
		return 0, ErrNotReceiver
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Disposed() {
		return 0, ErrDisposed
	}
	r.nextID++
	id := r.nextID

	old := *r.callbacks.Load()
	next := make([]callbackEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, callbackEntry{id: id, fn: cb})
	r.callbacks.Store(&next)
	return id, nil
}

// RemoveCallback unregisters a callback. It reports whether id was found.
// A delivery already in progress may still invoke it once.
func (r *AudioRenderer) RemoveCallback(id CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.callbacks.Load()
	for i, e := range old {
		if e.id != id {
			continue
		}
		next := make([]callbackEntry, 0, len(old)-1)
		next = append(next, old[:i]...)
		next = append(next, old[i+1:]...)
		r.callbacks.Store(&next)
		return true
	}
	return false
}

// AttachPlaybackDevice sets the local playback device. It is invoked after
// all callbacks. A nil dev detaches the current device.
func (r *AudioRenderer) AttachPlaybackDevice(dev PlaybackDevice) error {
	if r.kind != TrackKindReceiver {
		return ErrNotReceiver
	}
	if r.Disposed() {
		return ErrDisposed
	}
	if dev == nil {
		r.device.Store(nil)
		return nil
	}
	r.device.Store(&playbackRef{dev: dev})
	return nil
}

// onDecodedBuffer runs on the engine's real-time thread. Nothing here
// propagates failures back to the engine; a missed buffer is preferable.
func (r *AudioRenderer) onDecodedBuffer(buf *AudioBuffer) {
	if !r.acquire() {
		r.rt.metrics.bufferDropped(dropReasonDisposed)
		return
	}
	defer r.release()

	if err := buf.Validate(); err != nil {
		r.rt.metrics.bufferDropped(dropReasonInvalid)
		return
	}

	err := r.rt.call(func(e Engine) error {
		return e.ForwardSinkAudio(r.native.handle, buf)
	})
	switch {
	case errors.Is(err, ErrEngineClosed):
		r.rt.metrics.bufferDropped(dropReasonShutdown)
		return
	case err != nil:
		r.rt.metrics.bufferDropped(dropReasonEngine)
		r.rt.log.Tracef("sink %s: forward: %v", r.native.handle, err)
	}

	for _, e := range *r.callbacks.Load() {
		r.invoke(e.fn, buf)
	}
	if d := r.device.Load(); d != nil {
		if err := d.dev.WriteAudio(buf); err != nil {
			r.rt.log.Tracef("sink %s: playback write: %v", r.native.handle, err)
		}
	}
	r.rt.metrics.bufferForwarded(directionReceive)
}

func (r *AudioRenderer) invoke(fn AudioBufferCallback, buf *AudioBuffer) {
	defer func() {
		if p := recover(); p != nil {
			r.rt.metrics.bufferDropped(dropReasonConsumer)
			r.rt.log.Warnf("sink %s: receive callback panicked: %v", r.native.handle, p)
		}
	}()
	fn(buf)
}

// Close detaches the sink from its track and releases it. A delivery already
// in progress completes first; deliveries arriving later are dropped.
// Safe to call repeatedly.
func (r *AudioRenderer) Close() error {
	if r.dispose() {
		r.device.Store(nil)
	}
	return nil
}
