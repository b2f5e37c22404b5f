package trudp

import (
	"testing"
	"time"
)

func TestRTTEstimatorFirstSample(t *testing.T) {
	e := NewRTTEstimator(100*time.Millisecond, 10*time.Second)
	if got := e.RTO(); got != 100*time.Millisecond {
		t.Fatalf("RTO before any sample = %v, want minRTO", got)
	}

	e.Update(200 * time.Millisecond)
	stats := e.Stats()
	if stats.SRTT != 200*time.Millisecond {
		t.Fatalf("SRTT after first sample = %v, want 200ms", stats.SRTT)
	}
	if stats.RTTVar != 100*time.Millisecond {
		t.Fatalf("RTTVar after first sample = %v, want 100ms (sample/2)", stats.RTTVar)
	}
	if stats.Samples != 1 {
		t.Fatalf("Samples = %d, want 1", stats.Samples)
	}
}

func TestRTTEstimatorRTOBounds(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		minRTO  time.Duration
		maxRTO  time.Duration
	}{
		{"clamped to min", []time.Duration{time.Microsecond}, 100 * time.Millisecond, 10 * time.Second},
		{"clamped to max", []time.Duration{20 * time.Second, 20 * time.Second}, 100 * time.Millisecond, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewRTTEstimator(tt.minRTO, tt.maxRTO)
			for _, s := range tt.samples {
				e.Update(s)
			}
			rto := e.RTO()
			if rto < tt.minRTO || rto > tt.maxRTO {
				t.Fatalf("RTO = %v, want within [%v, %v]", rto, tt.minRTO, tt.maxRTO)
			}
		})
	}
}

func TestRTTEstimatorBackoffDoublesAndCaps(t *testing.T) {
	e := NewRTTEstimator(100*time.Millisecond, 2*time.Second)
	e.Update(200 * time.Millisecond)
	base := e.RTO()

	if got := e.Backoff(0); got != base {
		t.Fatalf("Backoff(0) = %v, want base RTO %v", got, base)
	}
	if got := e.Backoff(1); got != base*2 {
		t.Fatalf("Backoff(1) = %v, want %v", got, base*2)
	}
	if got := e.Backoff(5); got != 2*time.Second {
		t.Fatalf("Backoff(5) = %v, want capped at maxRTO 2s", got)
	}
}

func TestRTTEstimatorRecentSamplesBounded(t *testing.T) {
	e := NewRTTEstimator(100*time.Millisecond, 10*time.Second)
	for i := 0; i < 20; i++ {
		e.Update(time.Duration(i+1) * time.Millisecond)
	}
	if len(e.recent) != 10 {
		t.Fatalf("len(recent) = %d, want 10", len(e.recent))
	}
	if e.samples != 20 {
		t.Fatalf("samples = %d, want 20", e.samples)
	}

	// Only the last 10 samples (11ms..20ms) remain in the window, so Stats'
	// Min/Max must reflect that window, not the full 1ms..20ms history.
	stats := e.Stats()
	if stats.Min != 11*time.Millisecond {
		t.Fatalf("Min = %v, want 11ms", stats.Min)
	}
	if stats.Max != 20*time.Millisecond {
		t.Fatalf("Max = %v, want 20ms", stats.Max)
	}
}
