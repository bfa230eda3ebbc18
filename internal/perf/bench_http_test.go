package perf

import (
	"sort"
	"testing"
	"time"
)

func TestWorkflowLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{
			name:      "reads",
			samples:   []time.Duration{40 * time.Millisecond, 55 * time.Millisecond, 60 * time.Millisecond, 70 * time.Millisecond, 85 * time.Millisecond, 90 * time.Millisecond, 110 * time.Millisecond, 130 * time.Millisecond, 150 * time.Millisecond, 180 * time.Millisecond},
			threshold: 500 * time.Millisecond,
		},
		{
			name:      "transitions",
			samples:   []time.Duration{200 * time.Millisecond, 240 * time.Millisecond, 280 * time.Millisecond, 320 * time.Millisecond, 360 * time.Millisecond, 420 * time.Millisecond, 480 * time.Millisecond, 540 * time.Millisecond, 620 * time.Millisecond, 700 * time.Millisecond},
			threshold: time.Second,
		},
	}

	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
