package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d := timer.Duration()
	if d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want at least 20ms", d)
	}

	// The timer keeps running; a later read must not be smaller.
	if later := timer.Duration(); later < d {
		t.Errorf("later Duration() = %v, earlier was %v", later, d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_seconds",
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(hist)

	if got := sampleCount(t, hist); got != 1 {
		t.Errorf("histogram sample count = %d, want 1", got)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_vec_seconds",
	}, []string{"op"})

	timer := NewTimer()
	timer.ObserveDurationVec(hist, "reconcile")

	observer := hist.WithLabelValues("reconcile").(prometheus.Metric)
	if got := sampleCount(t, observer); got != 1 {
		t.Errorf("labeled sample count = %d, want 1", got)
	}
}

func sampleCount(t *testing.T, m prometheus.Metric) uint64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := m.Write(metric); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	return metric.GetHistogram().GetSampleCount()
}
