package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReplayMetrics exposes counters/histograms for the segmentation and stitching pipeline.
type ReplayMetrics struct {
	segmentsTotal    *prometheus.CounterVec
	downloadsTotal   *prometheus.CounterVec
	downloadRetries  *prometheus.CounterVec
	encodesTotal     *prometheus.CounterVec
	publishesTotal   *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
}

func NewReplayMetrics(reg prometheus.Registerer) *ReplayMetrics {
	m := &ReplayMetrics{
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "segments_total",
			Help:      "Segments returned by segmentation, by segment type",
		}, []string{"type"}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "chunk_downloads_total",
			Help:      "Media chunk downloads by kind and outcome",
		}, []string{"kind", "outcome"}),
		downloadRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "download_retries_total",
			Help:      "Download attempts beyond the first, by kind",
		}, []string{"kind"}),
		encodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "encoder_runs_total",
			Help:      "ffmpeg invocations by kind and outcome",
		}, []string{"kind", "outcome"}),
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "publishes_total",
			Help:      "Segment media uploads by kind and outcome",
		}, []string{"kind", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "liveapi",
			Subsystem: "replay",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a create-session-video run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.segmentsTotal, m.downloadsTotal, m.downloadRetries, m.encodesTotal, m.publishesTotal, m.pipelineDuration)
	return m
}

func (m *ReplayMetrics) ObserveSegment(segmentType string) {
	if m == nil {
		return
	}
	m.segmentsTotal.WithLabelValues(segmentType).Inc()
}

func (m *ReplayMetrics) ObserveDownload(kind string, ok bool) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *ReplayMetrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.downloadRetries.WithLabelValues(kind).Inc()
}

func (m *ReplayMetrics) ObserveEncode(kind string, ok bool) {
	if m == nil {
		return
	}
	m.encodesTotal.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *ReplayMetrics) ObservePublish(kind string, ok bool) {
	if m == nil {
		return
	}
	m.publishesTotal.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *ReplayMetrics) ObservePipeline(status string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(status).Observe(seconds)
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
