package rtcaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// AudioSource is the sender-side native object that accepts locally produced
// buffers for encoding and transmission.
type AudioSource struct {
	*resource

	loopback atomic.Bool
	monitor  atomic.Pointer[playbackRef]

	mu       sync.Mutex
	producer LocalProducer
}

type playbackRef struct {
	dev PlaybackDevice
}

func (rt *Runtime) newAudioSource() (*AudioSource, error) {
	var h Handle
	err := rt.call(func(e Engine) (err error) {
		h, err = e.CreateAudioSource()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create audio source: %w", err)
	}

	s := &AudioSource{}
	res, err := rt.newResource(h, s)
	if err != nil {
		rt.discardNative(h)
		return nil, fmt.Errorf("register audio source: %w", err)
	}
	s.resource = res
	return s, nil
}

// PushBuffer validates buf and forwards it synchronously to the engine.
//
// It may be called from any goroutine, including a capture thread. An invalid
// buffer is rejected before any native call. After Shutdown the buffer is
// silently dropped.
func (s *AudioSource) PushBuffer(buf *AudioBuffer) error {
	if !s.acquire() {
		return ErrDisposed
	}
	defer s.release()

	if err := buf.Validate(); err != nil {
		s.rt.metrics.bufferDropped(dropReasonInvalid)
		return err
	}

	err := s.rt.call(func(e Engine) error {
		return e.ForwardCapturedAudio(s.native.handle, buf)
	})
	switch {
	case errors.Is(err, ErrEngineClosed):
		s.rt.metrics.bufferDropped(dropReasonShutdown)
		return nil
	case err != nil:
		s.rt.metrics.bufferDropped(dropReasonEngine)
		return fmt.Errorf("forward captured audio: %w", err)
	}
	s.rt.metrics.bufferForwarded(directionSend)
	return nil
}

// AttachLocalProducer starts p and forwards everything it captures.
// monitor, which may be nil, receives the captured audio while loopback is on.
//
// Attaching while a producer is already attached does nothing. After
// DetachLocalProducer a different producer may be attached.
func (s *AudioSource) AttachLocalProducer(p LocalProducer, monitor PlaybackDevice) error {
	if p == nil {
		return ErrNilProducer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Disposed() {
		return ErrDisposed
	}
	if s.producer != nil {
		s.rt.log.Debugf("source %s: producer already attached, ignoring", s.native.handle)
		return nil
	}

	if monitor != nil {
		s.monitor.Store(&playbackRef{dev: monitor})
	} else {
		s.monitor.Store(nil)
	}
	if err := p.Start(s.onCaptured); err != nil {
		s.monitor.Store(nil)
		return fmt.Errorf("start local producer: %w", err)
	}
	s.producer = p
	return nil
}

// DetachLocalProducer stops the attached producer, if any.
func (s *AudioSource) DetachLocalProducer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return ErrDisposed
	}
	return s.detachLocked()
}

func (s *AudioSource) detachLocked() error {
	p := s.producer
	if p == nil {
		return nil
	}
	s.producer = nil
	s.monitor.Store(nil)
	if err := p.Stop(); err != nil {
		return fmt.Errorf("stop local producer: %w", err)
	}
	return nil
}

// HasProducer reports whether a local producer is attached.
func (s *AudioSource) HasProducer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer != nil
}

// SetLoopback controls whether captured audio is also played on the
// producer's monitor device. It has no effect without an attached producer.
func (s *AudioSource) SetLoopback(enabled bool) { s.loopback.Store(enabled) }

// Loopback returns the loopback setting.
func (s *AudioSource) Loopback() bool { return s.loopback.Load() }

// onCaptured runs on the producer's thread. Errors cannot be returned there,
// so they are logged and counted.
func (s *AudioSource) onCaptured(buf *AudioBuffer) {
	if err := s.PushBuffer(buf); err != nil {
		if errors.Is(err, ErrDisposed) {
			return
		}
		s.rt.log.Tracef("source %s: dropped captured buffer: %v", s.native.handle, err)
	}
	if !s.loopback.Load() {
		return
	}
	if m := s.monitor.Load(); m != nil {
		if err := m.dev.WriteAudio(buf); err != nil {
			s.rt.log.Tracef("source %s: monitor write: %v", s.native.handle, err)
		}
	}
}

// Close stops the producer, then releases the native source. Pushes already
// in progress complete before the native release. Safe to call repeatedly.
func (s *AudioSource) Close() error {
	s.mu.Lock()
	if !s.beginDispose() {
		s.mu.Unlock()
		return nil
	}
	err := s.detachLocked()
	s.mu.Unlock()

	s.finishDispose()
	return err
}
