package antinuke

import (
	"sync"
	"time"

	"sentinel-antinuke/internal/storage"
	"sentinel-antinuke/internal/utils"
)

type trackerKey struct {
	guildID string
	userID  string
	kind    storage.ActionKind
}

// RateTracker counts recent actions per (guild, user, action).
type RateTracker struct {
	mu      sync.Mutex
	clock   Clock
	windows map[trackerKey]*utils.SlidingWindow
}

func NewRateTracker(clock Clock) *RateTracker {
	if clock == nil {
		clock = realClock{}
	}
	return &RateTracker{clock: clock, windows: make(map[trackerKey]*utils.SlidingWindow)}
}

// Record appends now and returns how many actions fall inside window.
func (t *RateTracker) Record(guildID, userID string, kind storage.ActionKind, window time.Duration) int {
	key := trackerKey{guildID, userID, kind}
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[key]
	if w == nil {
		w = utils.NewSlidingWindow()
		t.windows[key] = w
	}
	return w.Add(t.clock.Now(), window)
}

func (t *RateTracker) PeekCount(guildID, userID string, kind storage.ActionKind, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[trackerKey{guildID, userID, kind}]
	if w == nil {
		return 0
	}
	return w.Count(t.clock.Now(), window)
}

// Prune drops windows with no hit younger than maxAge and returns how many
// were removed.
func (t *RateTracker) Prune(maxAge time.Duration) int {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, w := range t.windows {
		if w.Empty(now, maxAge) {
			delete(t.windows, key)
			removed++
		}
	}
	return removed
}

func (t *RateTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
