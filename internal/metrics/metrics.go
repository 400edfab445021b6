package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records bot operational metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordPoll records one PeriodicWork call. Result is "ok" or an error code.
	RecordPoll(bot, result string, duration time.Duration)

	// RecordWorkUnits adds to the emitted work unit counter
	RecordWorkUnits(bot string, n int)

	// SetDetectorState publishes the detector's cursor and snapshot size
	SetDetectorState(bot string, highWaterMark time.Time, lastSeen int)
}

// NopRecorder discards all metrics
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

// NewNop creates a no-op recorder
func NewNop() NopRecorder {
	return NopRecorder{}
}

func (NopRecorder) RecordPoll(string, string, time.Duration) {}
func (NopRecorder) RecordWorkUnits(string, int)               {}
func (NopRecorder) SetDetectorState(string, time.Time, int)   {}

// PrometheusRecorder implements Recorder backed by Prometheus
type PrometheusRecorder struct {
	polls         *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	workUnits     *prometheus.CounterVec
	highWaterMark *prometheus.GaugeVec
	lastSeen      *prometheus.GaugeVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheus creates a recorder and registers its collectors with reg
// (prometheus.DefaultRegisterer if nil). Namespace defaults to "issuebots".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "issuebots"
	}

	p := &PrometheusRecorder{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total bot polls by outcome.",
		}, []string{"bot", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of bot polls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"bot"}),
		workUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_units_total",
			Help:      "Total work units emitted by bot.",
		}, []string{"bot"}),
		highWaterMark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "high_water_mark_seconds",
			Help:      "Latest entity update time seen by the detector, as a unix timestamp.",
		}, []string{"bot"}),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "last_seen_entities",
			Help:      "Entities in the detector's previous poll snapshot.",
		}, []string{"bot"}),
	}

	for _, c := range []prometheus.Collector{p.polls, p.pollDuration, p.workUnits, p.highWaterMark, p.lastSeen} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusRecorder) RecordPoll(bot, result string, duration time.Duration) {
	p.polls.WithLabelValues(bot, result).Inc()
	p.pollDuration.WithLabelValues(bot).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) RecordWorkUnits(bot string, n int) {
	p.workUnits.WithLabelValues(bot).Add(float64(n))
}

func (p *PrometheusRecorder) SetDetectorState(bot string, highWaterMark time.Time, lastSeen int) {
	p.highWaterMark.WithLabelValues(bot).Set(float64(highWaterMark.Unix()))
	p.lastSeen.WithLabelValues(bot).Set(float64(lastSeen))
}
