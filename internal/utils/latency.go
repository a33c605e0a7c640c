package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent duration samples and
// computes percentiles over whatever is currently held.
type LatencyTracker struct {
	mu      sync.RWMutex
	ring    []time.Duration
	next    int
	count   int
	maxSize int
}

// NewLatencyTracker creates a tracker holding up to maxSize samples; older
// samples are overwritten once the ring is full.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, maxSize), maxSize: maxSize}
}

// Observe records a new duration sample.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next = (l.next + 1) % l.maxSize
	if l.count < l.maxSize {
		l.count++
	}
}

// Percentile returns the p-th percentile (0-100) of the held samples, or
// zero when nothing has been observed yet.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	held := append([]time.Duration(nil), l.ring[:l.count]...)
	l.mu.RUnlock()

	if len(held) == 0 {
		return 0
	}
	sort.Slice(held, func(i, j int) bool { return held[i] < held[j] })

	if p <= 0 {
		return held[0]
	}
	if p >= 100 {
		return held[len(held)-1]
	}
	index := int((p / 100.0) * float64(len(held)-1))
	return held[index]
}

// Count reports how many samples the ring currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
