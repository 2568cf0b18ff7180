package rtcaudio

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Directions and reasons used as metric labels.
const (
	directionSend    = "send"
	directionReceive = "receive"

	dropReasonDisposed = "disposed"
	dropReasonUnknown  = "unknown_handle"
	dropReasonInvalid  = "invalid"
	dropReasonEngine   = "engine_error"
	dropReasonConsumer = "consumer_panic"
	dropReasonShutdown = "engine_closed"

	releasePathExplicit = "explicit"
	releasePathCleanup  = "cleanup"
	releasePathSkipped  = "engine_closed"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Namespace string // default "rtcaudio"
	Subsystem string
}

// Metrics exports buffer and handle counters. A nil *Metrics is a no-op.
type Metrics struct {
	forwarded   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	releases    *prometheus.CounterVec
	liveHandles prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer, cfg MetricsConfig) (*Metrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "rtcaudio"
	}
	m := &Metrics{
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "buffers_forwarded_total",
			Help:      "Audio buffers forwarded across the native boundary.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "buffers_dropped_total",
			Help:      "Audio buffers dropped before or during delivery.",
		}, []string{"reason"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "native_releases_total",
			Help:      "Native handles released, by release path.",
		}, []string{"path"}),
		liveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "live_handles",
			Help:      "Native handles currently owned by Go proxies.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.forwarded, m.dropped, m.releases, m.liveHandles} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) bufferForwarded(direction string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(direction).Inc()
}

func (m *Metrics) bufferDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) handleAcquired() {
	if m == nil {
		return
	}
	m.liveHandles.Inc()
}

func (m *Metrics) handleReleased(path string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(path).Inc()
	m.liveHandles.Dec()
}
