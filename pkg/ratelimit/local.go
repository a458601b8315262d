package ratelimit

import (
	"sync"
	"time"
)

// localSweepInterval bounds how often check scans for keys that went quiet.
const localSweepInterval = time.Minute

type localEntry struct {
	hits   []time.Time
	window time.Duration
}

// localWindow is the process-local sliding window used when Redis is unavailable.
// It is only consistent within one process.
type localWindow struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	lastSweep time.Time
}

func newLocalWindow() *localWindow {
	return &localWindow{entries: make(map[string]*localEntry)}
}

func (w *localWindow) check(key string, rule Rule, now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sweep(now)

	entry, ok := w.entries[key]
	if !ok {
		entry = &localEntry{}
	}

	entry.window = rule.Window

	cutoff := now.Add(-rule.Window)
	kept := entry.hits[:0]

	for _, at := range entry.hits {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	allowed := len(kept) < rule.Limit
	if allowed {
		kept = append(kept, now)
	}

	if len(kept) == 0 {
		delete(w.entries, key)
	} else {
		entry.hits = kept
		w.entries[key] = entry
	}

	oldest := now
	if len(kept) > 0 {
		oldest = kept[0]
	}

	return newResult(allowed, rule.Limit-len(kept), oldest, rule, now)
}

// sweep drops every key whose newest hit has left its window.
func (w *localWindow) sweep(now time.Time) {
	if now.Sub(w.lastSweep) < localSweepInterval {
		return
	}

	w.lastSweep = now

	for key, entry := range w.entries {
		n := len(entry.hits)
		if n == 0 || !entry.hits[n-1].After(now.Add(-entry.window)) {
			delete(w.entries, key)
		}
	}
}

func (w *localWindow) keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.entries)
}
