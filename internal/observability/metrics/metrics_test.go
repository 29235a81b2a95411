package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReplayMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReplayMetrics(reg)

	m.ObserveSegment("user_speech")
	m.ObserveSegment("user_speech")
	m.ObserveDownload("audio", true)
	m.ObserveDownload("audio", false)
	m.ObserveRetry("video")
	m.ObserveEncode("video", false)
	m.ObservePublish("audio", true)
	m.ObservePipeline("completed", 1.5)

	if got := testutil.ToFloat64(m.segmentsTotal.WithLabelValues("user_speech")); got != 2 {
		t.Fatalf("segments_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.downloadsTotal.WithLabelValues("audio", "failure")); got != 1 {
		t.Fatalf("download failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.encodesTotal.WithLabelValues("video", "failure")); got != 1 {
		t.Fatalf("encode failures = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.pipelineDuration); n != 1 {
		t.Fatalf("pipeline histogram series = %d, want 1", n)
	}
}

func TestReplayMetricsNilSafe(t *testing.T) {
	var m *ReplayMetrics
	m.ObserveSegment("user_speech")
	m.ObserveDownload("audio", true)
	m.ObserveRetry("audio")
	m.ObserveEncode("audio", true)
	m.ObservePublish("video", false)
	m.ObservePipeline("failed", 0.1)
}
