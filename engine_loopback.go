package rtcaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// L16 is the loopback wire codec: 16-bit big-endian linear PCM (RFC 3551).
var L16 = webrtc.RTPCodecCapability{
	MimeType:  "audio/L16",
	ClockRate: 48000,
	Channels:  2,
}

const (
	loopbackPayloadType = 96
	loopbackFormatExtID = 1 // [channels, sampleRate (24-bit BE)]
	rtpHeaderSize       = 12
	rtpExtensionSize    = 12 // one-byte profile header + one 4-byte element, padded

	maxL16Channels   = 0xff     // one byte in the format extension
	maxL16SampleRate = 0xffffff // 24 bits in the format extension
)

var (
	errUnknownHandle  = errors.New("unknown handle")
	errWrongObject    = errors.New("handle refers to a different object type")
	errLoopbackClosed = errors.New("loopback engine closed")
)

// LoopbackConfig configures a LoopbackEngine.
type LoopbackConfig struct {
	MTU           int                       // RTP MTU (default 1200)
	QueueDepth    int                       // Buffers queued per remote track (default 32)
	Codec         webrtc.RTPCodecCapability // Wire codec (default L16)
	LoggerFactory logging.LoggerFactory
}

type loopbackKind int

const (
	loopbackSource loopbackKind = iota
	loopbackSink
	loopbackLocalTrack
	loopbackRemoteTrack
)

func (k loopbackKind) String() string {
	switch k {
	case loopbackSource:
		return "source"
	case loopbackSink:
		return "sink"
	case loopbackLocalTrack:
		return "local track"
	case loopbackRemoteTrack:
		return "remote track"
	default:
		return "unknown"
	}
}

type loopbackObject struct {
	kind  loopbackKind
	label string

	// source: the local track it feeds
	track Handle

	// local track
	source    Handle
	remotes   []*loopbackRemote
	ssrc      uint32
	sequencer rtp.Sequencer
	timestamp uint32

	// sink
	rendered atomic.Uint64
	frames   atomic.Uint64
	attached Handle

	remote *loopbackRemote
}

// loopbackRemote is a remote track with its own delivery goroutine, which
// stands in for the native real-time thread.
type loopbackRemote struct {
	handle Handle
	local  Handle
	queue  chan [][]byte
	done   chan struct{}
	stop   sync.Once
	sinks  []Handle // guarded by LoopbackEngine.mu
	ended  bool
}

func (r *loopbackRemote) halt() {
	r.stop.Do(func() { close(r.done) })
}

// LoopbackEngine is an in-process Engine. Audio pushed into a local track is
// packetized as RTP, marshaled, and delivered to every remote track created
// from it with Connect, where it is depacketized and handed to the attached
// sinks in order.
type LoopbackEngine struct {
	config LoopbackConfig
	log    logging.LeveledLogger

	mu       sync.Mutex
	next     Handle
	objects  map[Handle]*loopbackObject
	closed   bool
	observer atomic.Pointer[observerRef]
	wg       sync.WaitGroup

	released atomic.Int64
}

type observerRef struct {
	o EngineObserver
}

// NewLoopbackEngine creates a loopback engine.
func NewLoopbackEngine(config LoopbackConfig) *LoopbackEngine {
	if config.MTU <= 0 {
		config.MTU = 1200
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 32
	}
	if config.Codec.MimeType == "" {
		config.Codec = L16
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &LoopbackEngine{
		config:  config,
		log:     config.LoggerFactory.NewLogger("rtcaudio-loopback"),
		objects: make(map[Handle]*loopbackObject),
	}
}

// Codec returns the wire codec.
func (e *LoopbackEngine) Codec() webrtc.RTPCodecCapability { return e.config.Codec }

func (e *LoopbackEngine) alloc(obj *loopbackObject) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return InvalidHandle, errLoopbackClosed
	}
	e.next++
	e.objects[e.next] = obj
	return e.next, nil
}

func (e *LoopbackEngine) lookupLocked(h Handle, kind loopbackKind) (*loopbackObject, error) {
	obj, ok := e.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownHandle, h)
	}
	if obj.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, want %s", errWrongObject, h, obj.kind, kind)
	}
	return obj, nil
}

func (e *LoopbackEngine) CreateAudioSource() (Handle, error) {
	return e.alloc(&loopbackObject{kind: loopbackSource})
}

func (e *LoopbackEngine) CreateAudioSink() (Handle, error) {
	return e.alloc(&loopbackObject{kind: loopbackSink})
}

func (e *LoopbackEngine) CreateAudioTrack(label string, source Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return InvalidHandle, errLoopbackClosed
	}
	src, err := e.lookupLocked(source, loopbackSource)
	if err != nil {
		return InvalidHandle, err
	}
	if src.track.Valid() {
		return InvalidHandle, fmt.Errorf("source %s already feeds track %s", source, src.track)
	}

	e.next++
	h := e.next
	e.objects[h] = &loopbackObject{
		kind:      loopbackLocalTrack,
		label:     label,
		source:    source,
		ssrc:      rand.Uint32(),
		sequencer: rtp.NewRandomSequencer(),
	}
	src.track = h
	return h, nil
}

// Connect creates a remote track that receives everything pushed into the
// local track. The returned handle is meant for Runtime.NewReceiverTrack.
func (e *LoopbackEngine) Connect(local Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return InvalidHandle, errLoopbackClosed
	}
	lt, err := e.lookupLocked(local, loopbackLocalTrack)
	if err != nil {
		return InvalidHandle, err
	}

	e.next++
	remote := &loopbackRemote{
		handle: e.next,
		local:  local,
		queue:  make(chan [][]byte, e.config.QueueDepth),
		done:   make(chan struct{}),
	}
	e.objects[remote.handle] = &loopbackObject{
		kind:   loopbackRemoteTrack,
		label:  lt.label,
		remote: remote,
	}
	lt.remotes = append(lt.remotes, remote)

	e.wg.Add(1)
	go e.deliverLoop(remote)
	return remote.handle, nil
}

// EndTrack ends a remote track as if the far side stopped sending.
func (e *LoopbackEngine) EndTrack(h Handle) error {
	e.mu.Lock()
	obj, err := e.lookupLocked(h, loopbackRemoteTrack)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	already := obj.remote.ended
	obj.remote.ended = true
	e.mu.Unlock()

	if already {
		return nil
	}
	if ref := e.observer.Load(); ref != nil {
		ref.o.OnTrackEnded(h)
	}
	return nil
}

func (e *LoopbackEngine) ReleaseHandle(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obj, ok := e.objects[h]
	if !ok {
		e.log.Warnf("release of unknown handle %s", h)
		return
	}
	delete(e.objects, h)
	e.released.Add(1)

	switch obj.kind {
	case loopbackSource:
		if lt, ok := e.objects[obj.track]; ok {
			lt.source = InvalidHandle
		}
	case loopbackLocalTrack:
		if src, ok := e.objects[obj.source]; ok {
			src.track = InvalidHandle
		}
		for _, r := range obj.remotes {
			r.local = InvalidHandle
		}
	case loopbackRemoteTrack:
		obj.remote.halt()
		if lt, ok := e.objects[obj.remote.local]; ok {
			lt.remotes = removeRemote(lt.remotes, obj.remote)
		}
	case loopbackSink:
		if t, ok := e.objects[obj.attached]; ok && t.remote != nil {
			t.remote.sinks = removeHandle(t.remote.sinks, h)
		}
	}
}

// Released returns how many handles were released.
func (e *LoopbackEngine) Released() int64 { return e.released.Load() }

// Len returns the number of live native objects.
func (e *LoopbackEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.objects)
}

// SinkStats returns how many buffers and frames reached a sink's processing
// entry point.
func (e *LoopbackEngine) SinkStats(sink Handle) (buffers, frames uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.lookupLocked(sink, loopbackSink)
	if err != nil {
		return 0, 0, err
	}
	return obj.rendered.Load(), obj.frames.Load(), nil
}

func (e *LoopbackEngine) ForwardCapturedAudio(source Handle, buf *AudioBuffer) error {
	e.mu.Lock()
	src, err := e.lookupLocked(source, loopbackSource)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	lt, ok := e.objects[src.track]
	if !ok || len(lt.remotes) == 0 {
		e.mu.Unlock()
		return nil
	}
	packets, err := e.packetizeLocked(lt, buf)
	remotes := append([]*loopbackRemote(nil), lt.remotes...)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	for _, r := range remotes {
		select {
		case r.queue <- packets:
		case <-r.done:
		}
	}
	return nil
}

func (e *LoopbackEngine) ForwardSinkAudio(sink Handle, buf *AudioBuffer) error {
	e.mu.Lock()
	obj, err := e.lookupLocked(sink, loopbackSink)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	obj.rendered.Add(1)
	obj.frames.Add(uint64(buf.Frames))
	return nil
}

func (e *LoopbackEngine) AttachSink(track, sink Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.lookupLocked(track, loopbackRemoteTrack)
	if err != nil {
		return err
	}
	s, err := e.lookupLocked(sink, loopbackSink)
	if err != nil {
		return err
	}
	if s.attached.Valid() {
		return fmt.Errorf("sink %s already attached to %s", sink, s.attached)
	}
	s.attached = track
	t.remote.sinks = append(t.remote.sinks, sink)
	return nil
}

func (e *LoopbackEngine) DetachSink(track, sink Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.lookupLocked(track, loopbackRemoteTrack)
	if err != nil {
		return err
	}
	s, err := e.lookupLocked(sink, loopbackSink)
	if err != nil {
		return err
	}
	if s.attached != track {
		return fmt.Errorf("sink %s is not attached to %s", sink, track)
	}
	s.attached = InvalidHandle
	t.remote.sinks = removeHandle(t.remote.sinks, sink)
	return nil
}

func (e *LoopbackEngine) SetObserver(o EngineObserver) {
	if o == nil {
		e.observer.Store(nil)
		return
	}
	e.observer.Store(&observerRef{o: o})
}

// Close stops every delivery goroutine and drops all native objects.
func (e *LoopbackEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, obj := range e.objects {
		if obj.remote != nil {
			obj.remote.halt()
		}
	}
	e.objects = make(map[Handle]*loopbackObject)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *LoopbackEngine) deliverLoop(r *loopbackRemote) {
	defer e.wg.Done()

	var frame []byte
	for {
		select {
		case <-r.done:
			return
		case packets := <-r.queue:
			for _, raw := range packets {
				var pkt rtp.Packet
				if err := pkt.Unmarshal(raw); err != nil {
					e.log.Warnf("remote %s: bad packet: %v", r.handle, err)
					frame = frame[:0]
					continue
				}
				frame = append(frame, pkt.Payload...)
				if !pkt.Marker {
					continue
				}
				buf, err := decodeL16(&pkt, frame)
				frame = frame[:0]
				if err != nil {
					e.log.Warnf("remote %s: %v", r.handle, err)
					continue
				}
				e.deliver(r, buf)
			}
		}
	}
}

func (e *LoopbackEngine) deliver(r *loopbackRemote, buf *AudioBuffer) {
	e.mu.Lock()
	if r.ended {
		e.mu.Unlock()
		return
	}
	sinks := append([]Handle(nil), r.sinks...)
	e.mu.Unlock()

	ref := e.observer.Load()
	if ref == nil {
		return
	}
	for _, sink := range sinks {
		select {
		case <-r.done:
			return
		default:
		}
		ref.o.OnDecodedBuffer(sink, buf)
	}
}

// packetizeLocked encodes buf as L16 and splits it into marshaled RTP
// packets. Frames never straddle packets; the last packet carries the marker.
func (e *LoopbackEngine) packetizeLocked(lt *loopbackObject, buf *AudioBuffer) ([][]byte, error) {
	bytesPerFrame := 2 * buf.Channels
	maxPayload := e.config.MTU - rtpHeaderSize - rtpExtensionSize
	framesPerPacket := maxPayload / bytesPerFrame
	if framesPerPacket <= 0 {
		return nil, fmt.Errorf("MTU %d too small for %d channels", e.config.MTU, buf.Channels)
	}

	if buf.Channels > maxL16Channels || buf.SampleRate > maxL16SampleRate {
		return nil, fmt.Errorf("format %d Hz/%d ch does not fit the L16 format extension", buf.SampleRate, buf.Channels)
	}
	format := []byte{
		byte(buf.Channels),
		byte(buf.SampleRate >> 16), byte(buf.SampleRate >> 8), byte(buf.SampleRate),
	}

	var packets [][]byte
	for start := 0; start < buf.Frames; start += framesPerPacket {
		end := min(start+framesPerPacket, buf.Frames)
		payload := encodeL16(buf.Samples[start*buf.Channels : end*buf.Channels])

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         end == buf.Frames,
				PayloadType:    loopbackPayloadType,
				SequenceNumber: lt.sequencer.NextSequenceNumber(),
				Timestamp:      lt.timestamp,
				SSRC:           lt.ssrc,
			},
			Payload: payload,
		}
		if err := pkt.Header.SetExtension(loopbackFormatExtID, format); err != nil {
			return nil, err
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, err
		}
		packets = append(packets, raw)
	}

	lt.timestamp += uint32(uint64(buf.Frames) * uint64(e.config.Codec.ClockRate) / uint64(buf.SampleRate))
	return packets, nil
}

func encodeL16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		v = max(-32768, min(32767, v))
		binary.BigEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

func decodeL16(pkt *rtp.Packet, payload []byte) (*AudioBuffer, error) {
	format := pkt.Header.GetExtension(loopbackFormatExtID)
	if len(format) != 4 {
		return nil, errors.New("missing format extension")
	}
	channels := int(format[0])
	sampleRate := int(format[1])<<16 | int(format[2])<<8 | int(format[3])
	if channels == 0 || len(payload)%(2*channels) != 0 {
		return nil, fmt.Errorf("payload of %d bytes does not hold %d channels", len(payload), channels)
	}

	samples := make([]float32, len(payload)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.BigEndian.Uint16(payload[2*i:]))) / 32767
	}
	return &AudioBuffer{
		Samples:    samples,
		Channels:   channels,
		SampleRate: sampleRate,
		Frames:     len(samples) / channels,
	}, nil
}

func removeHandle(hs []Handle, h Handle) []Handle {
	for i, v := range hs {
		if v == h {
			return append(hs[:i:i], hs[i+1:]...)
		}
	}
	return hs
}

func removeRemote(rs []*loopbackRemote, r *loopbackRemote) []*loopbackRemote {
	for i, v := range rs {
		if v == r {
			return append(rs[:i:i], rs[i+1:]...)
		}
	}
	return rs
}
