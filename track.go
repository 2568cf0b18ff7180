package rtcaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Re-export pion's RTPCodecType for convenience
type RTPCodecType = webrtc.RTPCodecType

// TrackKind tells whether a track's audio originates locally or remotely.
type TrackKind int

const (
	TrackKindSender   TrackKind = iota // Audio is produced locally and sent
	TrackKindReceiver                  // Audio arrives from the engine
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindSender:
		return "sender"
	case TrackKindReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Direction returns the transceiver direction matching the kind.
func (k TrackKind) Direction() webrtc.RTPTransceiverDirection {
	switch k {
	case TrackKindSender:
		return webrtc.RTPTransceiverDirectionSendonly
	case TrackKindReceiver:
		return webrtc.RTPTransceiverDirectionRecvonly
	default:
		return webrtc.RTPTransceiverDirectionUnknown
	}
}

// TrackState represents the state of a track.
type TrackState int32

const (
	TrackStateLive  TrackState = iota // Track is active
	TrackStateEnded                   // Track has ended
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// AudioTrack is one audio stream attached to the engine.
//
// A sender track owns an AudioSource for its whole lifetime; a receiver track
// owns an AudioRenderer. Closing the track closes the owned object first.
type AudioTrack struct {
	*resource
	id    string
	label string
	kind  TrackKind

	source   *AudioSource
	renderer *AudioRenderer

	state   atomic.Int32
	endedCb func()
	mu      sync.RWMutex
}

// NewSenderTrack allocates an audio source and a local track fed by it.
// An empty label is replaced by a generated one.
func (rt *Runtime) NewSenderTrack(label string) (*AudioTrack, error) {
	if label == "" {
		label = rt.newLabel()
	}

	src, err := rt.newAudioSource()
	if err != nil {
		return nil, err
	}

	var h Handle
	err = rt.call(func(e Engine) (err error) {
		h, err = e.CreateAudioTrack(label, src.native.handle)
		return err
	})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	t := &AudioTrack{
		id:     uuid.NewString(),
		label:  label,
		kind:   TrackKindSender,
		source: src,
	}
	res, err := rt.newResource(h, t)
	if err != nil {
		rt.discardNative(h)
		src.Close()
		return nil, fmt.Errorf("register audio track: %w", err)
	}
	t.resource = res
	src.setParent(res)

	rt.log.Debugf("sender track %s (%s) created", label, h)
	return t, nil
}

// NewReceiverTrack wraps a track handle issued by the engine for incoming
// audio and attaches a renderer to it. The track takes ownership of h.
func (rt *Runtime) NewReceiverTrack(h Handle) (*AudioTrack, error) {
	if !h.Valid() {
		return nil, ErrInvalidHandle
	}
	if !rt.Live() {
		return nil, ErrEngineClosed
	}

	t := &AudioTrack{
		id:    uuid.NewString(),
		label: rt.newLabel(),
		kind:  TrackKindReceiver,
	}
	res, err := rt.newResource(h, t)
	if err != nil {
		return nil, fmt.Errorf("register audio track: %w", err)
	}
	t.resource = res

	r, err := rt.newAudioRenderer(t)
	if err != nil {
		t.dispose()
		return nil, err
	}
	t.renderer = r

	rt.log.Debugf("receiver track %s (%s) created", t.label, h)
	return t, nil
}

func (t *AudioTrack) ID() string           { return t.id }
func (t *AudioTrack) Label() string        { return t.label }
func (t *AudioTrack) TrackKind() TrackKind { return t.kind }

// Kind returns the media kind, always audio.
func (t *AudioTrack) Kind() RTPCodecType { return webrtc.RTPCodecTypeAudio }

// Source returns the owned source, or nil for a receiver track.
func (t *AudioTrack) Source() *AudioSource { return t.source }

// Renderer returns the owned renderer, or nil for a sender track.
func (t *AudioTrack) Renderer() *AudioRenderer { return t.renderer }

func (t *AudioTrack) State() TrackState {
	return TrackState(t.state.Load())
}

// Ended reports whether the engine or Close ended the track.
func (t *AudioTrack) Ended() bool { return t.State() == TrackStateEnded }

// OnEnded sets a callback for when the track ends.
func (t *AudioTrack) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = callback
}

func (t *AudioTrack) setState(state TrackState) {
	old := TrackState(t.state.Swap(int32(state)))
	if state == TrackStateEnded && old != TrackStateEnded {
		t.mu.RLock()
		cb := t.endedCb
		t.mu.RUnlock()
		if cb != nil {
			go cb()
		}
	}
}

// PushBuffer forwards buf through the track's source.
func (t *AudioTrack) PushBuffer(buf *AudioBuffer) error {
	if t.source == nil {
		return ErrNotSender
	}
	return t.source.PushBuffer(buf)
}

// AttachLocalProducer attaches a capture device to the track's source.
func (t *AudioTrack) AttachLocalProducer(p LocalProducer, monitor PlaybackDevice) error {
	if t.source == nil {
		return ErrNotSender
	}
	return t.source.AttachLocalProducer(p, monitor)
}

// DetachLocalProducer stops the source's capture device.
func (t *AudioTrack) DetachLocalProducer() error {
	if t.source == nil {
		return ErrNotSender
	}
	if t.Disposed() {
		return ErrDisposed
	}
	return t.source.DetachLocalProducer()
}

// SetLoopback sets the source's loopback flag.
func (t *AudioTrack) SetLoopback(enabled bool) error {
	if t.source == nil {
		return ErrNotSender
	}
	if t.Disposed() || t.source.Disposed() {
		return ErrDisposed
	}
	t.source.SetLoopback(enabled)
	return nil
}

// Loopback returns the source's loopback flag; false for receiver tracks.
func (t *AudioTrack) Loopback() bool {
	return t.source != nil && t.source.Loopback()
}

// AddReceiveCallback registers cb for decoded audio. Sender tracks reject it.
func (t *AudioTrack) AddReceiveCallback(cb AudioBufferCallback) (CallbackID, error) {
	if t.renderer == nil {
		return 0, ErrNotReceiver
	}
	return t.renderer.AddCallback(cb)
}

// RemoveReceiveCallback unregisters a receive callback.
func (t *AudioTrack) RemoveReceiveCallback(id CallbackID) bool {
	return t.renderer != nil && t.renderer.RemoveCallback(id)
}

// AttachPlaybackDevice plays decoded audio on dev after the callbacks ran.
func (t *AudioTrack) AttachPlaybackDevice(dev PlaybackDevice) error {
	if t.renderer == nil {
		return ErrNotReceiver
	}
	return t.renderer.AttachPlaybackDevice(dev)
}

// Close closes the owned source or renderer, then releases the track.
// Safe to call repeatedly.
func (t *AudioTrack) Close() error {
	if t.Disposed() {
		return nil
	}

	var errs []error
	if t.source != nil {
		errs = append(errs, t.source.Close())
	}
	if t.renderer != nil {
		errs = append(errs, t.renderer.Close())
	}
	if t.dispose() {
		t.setState(TrackStateEnded)
	}
	return errors.Join(errs...)
}
