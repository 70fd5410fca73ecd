package registry

import (
	"sync"
	"time"

	"github.com/roach88/corpussync/internal/doi"
)

// Defaults for the fingerprint handoff.
const (
	DefaultHandoffSize = 64
	DefaultHandoffTTL  = time.Minute
)

// handoff keeps bodies downloaded by FetchFingerprint so the Fetch that
// follows a mismatch decodes them instead of downloading again. An entry
// is taken at most once and expires after ttl, so a later run never sees
// bytes from an earlier one.
type handoff struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	entries map[doi.DOI]handoffEntry
}

type handoffEntry struct {
	body []byte
	at   time.Time
}

func newHandoff(max int, ttl time.Duration) *handoff {
	return &handoff{max: max, ttl: ttl, now: time.Now, entries: make(map[doi.DOI]handoffEntry)}
}

func (h *handoff) put(id doi.DOI, body []byte) {
	if h.max <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if _, ok := h.entries[id]; !ok && len(h.entries) >= h.max {
		h.evictLocked(now)
	}
	h.entries[id] = handoffEntry{body: body, at: now}
}

func (h *handoff) take(id doi.DOI) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	delete(h.entries, id)
	if h.now().Sub(e.at) > h.ttl {
		return nil, false
	}
	return e.body, true
}

// evictLocked drops expired entries, or the oldest one if none expired.
func (h *handoff) evictLocked(now time.Time) {
	var oldest doi.DOI
	var oldestAt time.Time
	expired := false
	for id, e := range h.entries {
		if now.Sub(e.at) > h.ttl {
			delete(h.entries, id)
			expired = true
			continue
		}
		if oldest == "" || e.at.Before(oldestAt) {
			oldest, oldestAt = id, e.at
		}
	}
	if !expired && oldest != "" {
		delete(h.entries, oldest)
	}
}
