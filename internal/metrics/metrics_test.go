package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFrameCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFrameSent("structured", 64)
	m.RecordFrameSent("structured", 36)
	m.RecordFrameReceived("tagged", 128)

	if got := testutil.ToFloat64(m.FramesSent.WithLabelValues("structured")); got != 2 {
		t.Errorf("frames_sent{structured} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 100 {
		t.Errorf("bytes_sent = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("tagged")); got != 1 {
		t.Errorf("frames_received{tagged} = %v, want 1", got)
	}
}

func TestRequestGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRequestStart()
	m.RecordRequestStart()
	m.RecordRequestEnd(0.05)
	m.RecordRequestTimeout()

	if got := testutil.ToFloat64(m.RequestsPending); got != 0 {
		t.Errorf("requests_pending = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RequestTimeouts); got != 1 {
		t.Errorf("request_timeouts = %v, want 1", got)
	}
}

func TestAuthOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordAuthOutcome("short-code", "pair_error")
	m.RecordAuthOutcome("visual-code", "success")
	m.RecordAuthOutcome("visual-code", "success")

	if got := testutil.ToFloat64(m.AuthOutcomes.WithLabelValues("visual-code", "success")); got != 2 {
		t.Errorf("auth_outcomes{visual-code,success} = %v, want 2", got)
	}
}

func TestDefaultSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}
