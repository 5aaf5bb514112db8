package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 100; i >= 1; i-- {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	s := lt.Stats()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 100, s.Samples)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 99*time.Millisecond, s.P99)
}

func TestLatencyTracker_WindowDropsOldest(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 10; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}
	// Window is full: the oldest sample (1ms) is evicted.
	lt.Record(50 * time.Millisecond)

	s := lt.Stats()
	assert.Equal(t, int64(11), s.Count)
	assert.Equal(t, 10, s.Samples)
	assert.Equal(t, 2*time.Millisecond, s.Min)
	assert.Equal(t, 50*time.Millisecond, s.Max)
}

func TestLatencyTracker_Empty(t *testing.T) {
	s := NewLatencyTracker(0).Stats()
	assert.Zero(t, s.Samples)
	assert.Equal(t, 0.0, s.ToMap()["p95_ms"])
}

func TestLatencyRegistry(t *testing.T) {
	r := NewLatencyRegistry(10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record("llm.complete", 5*time.Millisecond)
		}()
	}
	wg.Wait()
	r.Record("GET /api/v1/emails", time.Millisecond)

	assert.Equal(t, int64(20), r.Stats("llm.complete").Count)
	assert.Equal(t, LatencyStats{}, r.Stats("unknown"))
	assert.Len(t, r.AllStats(), 2)
}
