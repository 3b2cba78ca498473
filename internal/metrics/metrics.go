package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satriahrh/voicelink/domain/entities"
)

// Metrics contains the Prometheus metrics of the voice client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ConnectAttempts   prometheus.Counter
	ReconnectsPlanned prometheus.Counter
	Closures          *prometheus.CounterVec
	Connectivity      *prometheus.GaugeVec
	FramesReceived    prometheus.Counter
	MalformedFrames   prometheus.Counter

	// Capture metrics
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	ChunkSize     prometheus.Histogram
	Utterances    *prometheus.CounterVec

	// Playback metrics
	PlaybackAttempts prometheus.Counter
	PlaybackFailures prometheus.Counter
	PlaybackQueued   prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_connect_attempts_total",
			Help: "Total number of connection attempts",
		}),
		ReconnectsPlanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_reconnects_scheduled_total",
			Help: "Total number of reconnections scheduled after abnormal closure",
		}),
		Closures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_connection_closures_total",
			Help: "Connection closures by close code class",
		}, []string{"kind"}),
		Connectivity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicelink_connectivity",
			Help: "Current connectivity, 1 for the active state",
		}, []string{"state"}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_frames_received_total",
			Help: "Total number of inbound frames",
		}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_malformed_frames_total",
			Help: "Total number of inbound frames dropped as malformed",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_audio_chunks_sent_total",
			Help: "Total number of captured audio chunks sent",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_audio_chunks_dropped_total",
			Help: "Total number of captured audio chunks dropped while disconnected",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_audio_chunk_size_bytes",
			Help:    "Size of sent audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(512, 2, 8),
		}),
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_utterances_total",
			Help: "Finished utterances by whether the end marker was delivered",
		}, []string{"delivered"}),
		PlaybackAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_playback_attempts_total",
			Help: "Total number of speech fragments played",
		}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_playback_failures_total",
			Help: "Total number of speech fragments that failed to play",
		}),
		PlaybackQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_playback_queue_length",
			Help: "Number of speech fragments waiting to play",
		}),
	}
}

// RecordConnectAttempt counts a dial
func (m *Metrics) RecordConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

// RecordClosure counts a closure and whether a reconnect was scheduled
func (m *Metrics) RecordClosure(normal bool) {
	if m == nil {
		return
	}
	if normal {
		m.Closures.WithLabelValues("normal").Inc()
		return
	}
	m.Closures.WithLabelValues("abnormal").Inc()
	m.ReconnectsPlanned.Inc()
}

// SetConnectivity marks state as the active connectivity
func (m *Metrics) SetConnectivity(state entities.Connectivity) {
	if m == nil {
		return
	}
	for _, s := range []entities.Connectivity{
		entities.ConnectivityConnecting,
		entities.ConnectivityConnected,
		entities.ConnectivityDisconnected,
	} {
		value := 0.0
		if s == state {
			value = 1
		}
		m.Connectivity.WithLabelValues(string(s)).Set(value)
	}
}

// RecordFrame counts an inbound frame
func (m *Metrics) RecordFrame(malformed bool) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	if malformed {
		m.MalformedFrames.Inc()
	}
}

// RecordChunk counts a captured chunk
func (m *Metrics) RecordChunk(size int, sent bool) {
	if m == nil {
		return
	}
	if !sent {
		m.ChunksDropped.Inc()
		return
	}
	m.ChunksSent.Inc()
	m.ChunkSize.Observe(float64(size))
}

// RecordUtterance counts a finished utterance
func (m *Metrics) RecordUtterance(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.Utterances.WithLabelValues("true").Inc()
		return
	}
	m.Utterances.WithLabelValues("false").Inc()
}

// RecordPlayback counts a finished playback attempt
func (m *Metrics) RecordPlayback(err error) {
	if m == nil {
		return
	}
	m.PlaybackAttempts.Inc()
	if err != nil {
		m.PlaybackFailures.Inc()
	}
}

// SetPlaybackQueued reports the number of waiting fragments
func (m *Metrics) SetPlaybackQueued(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueued.Set(float64(n))
}
