package rtcaudio

import "sync/atomic"

// Backend identifies an Engine implementation.
type Backend uint8

const (
	BackendLoopback Backend = iota // In-process RTP loopback
	BackendNative                  // libstream_rtc via purego
	backendCount
)

// Features is a bitmask of backend capabilities.
type Features uint32

const (
	FeatureCapture   Features = 1 << iota // Accepts captured audio
	FeatureRender                         // Delivers decoded audio to sinks
	FeatureNetwork                        // Sends audio to remote peers
	FeatureRealtime                       // Delivery on a dedicated real-time thread
)

// Has returns true if all specified features are supported.
func (f Features) Has(feature Features) bool { return f&feature == feature }

type backendMeta struct {
	Name     string
	Features Features
}

var backendInfo = [backendCount]backendMeta{
	BackendLoopback: {"loopback", FeatureCapture | FeatureRender | FeatureRealtime},
	BackendNative:   {"native", FeatureCapture | FeatureRender | FeatureNetwork | FeatureRealtime},
}

// Runtime availability. The loopback backend is always usable; the native one
// becomes available once its library loads.
var backendAvailable [backendCount]atomic.Bool

func init() {
	backendAvailable[BackendLoopback].Store(true)
}

func (b Backend) String() string {
	if b >= backendCount {
		return "unknown"
	}
	return backendInfo[b].Name
}

// Features returns the backend's feature bitmask.
func (b Backend) Features() Features {
	if b >= backendCount {
		return 0
	}
	return backendInfo[b].Features
}

// Available returns true if the backend has been loaded and is usable.
func (b Backend) Available() bool {
	if b >= backendCount {
		return false
	}
	return backendAvailable[b].Load()
}

func setBackendAvailable(b Backend, ok bool) {
	if b < backendCount {
		backendAvailable[b].Store(ok)
	}
}

// Backends returns every known backend.
func Backends() []Backend {
	out := make([]Backend, 0, backendCount)
	for b := Backend(0); b < backendCount; b++ {
		out = append(out, b)
	}
	return out
}
