package gateway

import (
	"testing"
	"time"
)

func TestLatencyTracker_Empty(t *testing.T) {
	lt := NewLatencyTracker(100)
	p50, p95, p99 := lt.Percentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("empty tracker: expected zeros, got (%v,%v,%v)", p50, p95, p99)
	}
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(42 * time.Millisecond)

	p50, p95, p99 := lt.Percentiles()
	for _, p := range []time.Duration{p50, p95, p99} {
		if p != 42*time.Millisecond {
			t.Errorf("got %v, want 42ms", p)
		}
	}
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(1000)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	p50, p95, p99 := lt.Percentiles()
	if p50 != 50500*time.Microsecond {
		t.Errorf("p50: got %v, want 50.5ms", p50)
	}
	if p95 < 95*time.Millisecond || p95 > 96*time.Millisecond {
		t.Errorf("p95: got %v, want ~95.05ms", p95)
	}
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("p99: got %v, want ~99.01ms", p99)
	}
}

func TestLatencyTracker_Wraparound(t *testing.T) {
	lt := NewLatencyTracker(10)

	// first 10 samples are overwritten
	for i := 1; i <= 20; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}
	if lt.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", lt.Count())
	}

	p50, _, _ := lt.Percentiles()
	if p50 != 15500*time.Microsecond {
		t.Errorf("p50 after wraparound: got %v, want 15.5ms", p50)
	}
}

func TestLatencyTracker_Count(t *testing.T) {
	lt := NewLatencyTracker(100)
	if lt.Count() != 0 {
		t.Errorf("initial count: got %d, want 0", lt.Count())
	}
	for i := 0; i < 5; i++ {
		lt.Record(time.Duration(i))
	}
	if lt.Count() != 5 {
		t.Errorf("after 5 records: got %d, want 5", lt.Count())
	}
}
