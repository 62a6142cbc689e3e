package utils

import (
	"sync"
	"time"
)

// SlidingWindow keeps event timestamps in arrival order. The window length
// is supplied per call so a threshold change applies to history already
// recorded.
type SlidingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Add records now and returns the number of hits inside the window.
func (w *SlidingWindow) Add(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now.Add(-window))
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now.Add(-window))
	return len(w.hits)
}

// Empty reports whether every hit is older than window.
func (w *SlidingWindow) Empty(now time.Time, window time.Duration) bool {
	return w.Count(now, window) == 0
}

func (w *SlidingWindow) evict(cutoff time.Time) {
	idx := 0
	for _, hit := range w.hits {
		if !hit.Before(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		w.hits = append(w.hits[:0], w.hits[idx:]...)
	}
}
