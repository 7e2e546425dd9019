package gateway

import (
	"sync"
	"time"
)

const (
	denialAlertThreshold = 3
	denialWindow         = 10 * time.Minute
)

type denialEntry struct {
	count int
	since time.Time
}

// denialTracker counts permission denials per principal over a sliding
// window, so bursts can be escalated as security events.
type denialTracker struct {
	mu      sync.Mutex
	entries map[int64]denialEntry
	now     func() time.Time
}

func newDenialTracker() *denialTracker {
	return &denialTracker{
		entries: make(map[int64]denialEntry),
		now:     time.Now,
	}
}

func (t *denialTracker) bump(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry := t.entries[userID]
	if entry.count == 0 || now.Sub(entry.since) > denialWindow {
		entry = denialEntry{count: 0, since: now}
	}
	entry.count++
	t.entries[userID] = entry
	return entry.count
}
