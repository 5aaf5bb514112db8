// Package metrics tracks call latencies with percentile summaries.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultWindow = 1000

// LatencyTracker keeps a sliding window of recent samples.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds, insertion order
	maxSamples int
	count      int64
}

// NewLatencyTracker creates a tracker keeping the last windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = defaultWindow
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record adds one measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	// Drop the oldest tenth at capacity to avoid shifting on every insert
	if len(lt.samples) >= lt.maxSamples {
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = append(lt.samples[:0], lt.samples[drop:]...)
	}

	lt.samples = append(lt.samples, d.Microseconds())
	lt.count++
}

// Stats summarises the current window. Count is the lifetime total.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := make([]int64, len(lt.samples))
	copy(sorted, lt.samples)
	count := lt.count
	lt.mu.Unlock()

	n := len(sorted)
	if n == 0 {
		return LatencyStats{Count: count}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}

	return LatencyStats{
		Count:   count,
		Min:     micros(sorted[0]),
		Max:     micros(sorted[n-1]),
		Avg:     micros(sum / int64(n)),
		P50:     micros(percentile(sorted, 0.50)),
		P90:     micros(percentile(sorted, 0.90)),
		P95:     micros(percentile(sorted, 0.95)),
		P99:     micros(percentile(sorted, 0.99)),
		Samples: n,
	}
}

func percentile(sorted []int64, p float64) int64 {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P50     time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
}

// ToMap renders durations in milliseconds for JSON responses.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":       s.Count,
		"min_ms":      ms(s.Min),
		"max_ms":      ms(s.Max),
		"avg_ms":      ms(s.Avg),
		"p50_ms":      ms(s.P50),
		"p90_ms":      ms(s.P90),
		"p95_ms":      ms(s.P95),
		"p99_ms":      ms(s.P99),
		"sample_size": s.Samples,
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// LatencyRegistry holds one tracker per named operation.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates an empty registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record adds a sample for name, creating its tracker on first use.
func (r *LatencyRegistry) Record(name string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[name]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[name] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// Stats returns the summary for name, or zero stats if never recorded.
func (r *LatencyRegistry) Stats(name string) LatencyStats {
	r.mu.RLock()
	tracker, ok := r.trackers[name]
	r.mu.RUnlock()

	if !ok {
		return LatencyStats{}
	}
	return tracker.Stats()
}

// AllStats returns summaries for every tracked name.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	trackers := make(map[string]*LatencyTracker, len(r.trackers))
	for name, t := range r.trackers {
		trackers[name] = t
	}
	r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(trackers))
	for name, t := range trackers {
		result[name] = t.Stats()
	}
	return result
}
