package buffer

import "time"

type dedupEntry struct {
	checksum string
	seenAt   time.Time
}

// dedupCache remembers payload checksums for a sliding window. Expired
// entries are evicted on every insert so memory stays bounded by the window.
// Callers hold the buffer lock; the cache itself is not safe for concurrent use.
type dedupCache struct {
	window  time.Duration
	seen    map[string]time.Time
	entries []dedupEntry
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// contains reports whether checksum was observed inside the window, without
// recording a new observation.
func (c *dedupCache) contains(checksum string, now time.Time) bool {
	seenAt, ok := c.seen[checksum]
	return ok && now.Sub(seenAt) < c.window
}

// observe records checksum at now and reports whether it was already seen
// inside the window.
func (c *dedupCache) observe(checksum string, now time.Time) bool {
	c.evict(now)

	if seenAt, ok := c.seen[checksum]; ok && now.Sub(seenAt) < c.window {
		return true
	}

	c.seen[checksum] = now
	c.entries = append(c.entries, dedupEntry{checksum: checksum, seenAt: now})
	return false
}

func (c *dedupCache) evict(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for ; i < len(c.entries); i++ {
		e := c.entries[i]
		if e.seenAt.After(cutoff) {
			break
		}
		// Only delete if the map still holds this observation; a newer
		// observation of the same checksum must survive.
		if seenAt, ok := c.seen[e.checksum]; ok && !seenAt.After(e.seenAt) {
			delete(c.seen, e.checksum)
		}
	}
	if i > 0 {
		c.entries = append(c.entries[:0], c.entries[i:]...)
	}
}

func (c *dedupCache) size() int {
	return len(c.seen)
}
