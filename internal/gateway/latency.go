package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the last N command durations in a ring and reports
// percentiles over them. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

// NewLatencyTracker creates a tracker holding up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 4096
	}
	return &LatencyTracker{samples: make([]time.Duration, size)}
}

// Record adds one sample, overwriting the oldest when full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.samples[lt.next] = d
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.filled = true
	}
	lt.mu.Unlock()
}

// Count returns the number of retained samples.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.filled {
		return len(lt.samples)
	}
	return lt.next
}

// Percentiles returns p50, p95 and p99, or zeros without samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 time.Duration) {
	lt.mu.Lock()
	n := lt.next
	if lt.filled {
		n = len(lt.samples)
	}
	sorted := make([]float64, n)
	for i := 0; i < n; i++ {
		sorted[i] = float64(lt.samples[i])
	}
	lt.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []float64, p float64) time.Duration {
	n := len(sorted)
	if n == 1 {
		return time.Duration(sorted[0])
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return time.Duration(sorted[n-1])
	}
	frac := rank - float64(lower)
	return time.Duration(sorted[lower]*(1-frac) + sorted[lower+1]*frac)
}
