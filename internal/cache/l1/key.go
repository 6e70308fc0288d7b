package l1

import (
	"context"
	"sync"
	"time"
)

// Key identifies one cached permission-check result. It doubles as the
// golang-lru generic cache key (all fields are comparable), avoiding the
// string-concatenation keying the original cache used.
type Key struct {
	SubjectType    string
	SubjectID      string
	Permission     string
	ObjectType     string
	ObjectID       string
	ZoneID         string
	RevisionBucket int64
}

const defaultZone = "default"

func normalizeZone(zoneID string) string {
	if zoneID == "" {
		return defaultZone
	}
	return zoneID
}

// RevisionFetcher resolves the current write revision for a zone, the same
// counter internal/relationtuple bumps on every insert/delete. The cache
// quantizes it into buckets so that most writes do not invalidate an
// otherwise-still-valid entry.
type RevisionFetcher func(ctx context.Context, zoneID string) (int64, error)

type revisionCacheEntry struct {
	value     int64
	fetchedAt time.Time
}

// revisionCache holds a short-TTL local view of each zone's revision bucket
// so a lookup doesn't round-trip to storage on every Get/Set.
type revisionCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]revisionCacheEntry
}

func newRevisionCache(ttl time.Duration) *revisionCache {
	return &revisionCache{ttl: ttl, m: make(map[string]revisionCacheEntry)}
}

func (r *revisionCache) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m = make(map[string]revisionCacheEntry)
}

// bucket resolves zoneID's quantized revision bucket. With no fetcher
// configured, or revision quantization disabled, every zone maps to bucket
// zero, so the key scheme degrades to "no revision component" cleanly.
func (c *Cache) bucket(ctx context.Context, zoneID string) int64 {
	if c.revisionFetcher == nil || !c.quantizeRevisions || c.window <= 0 {
		return 0
	}

	c.revCache.mu.Lock()
	if e, ok := c.revCache.m[zoneID]; ok && time.Since(e.fetchedAt) < c.revCache.ttl {
		c.revCache.mu.Unlock()
		return e.value / c.window
	}
	c.revCache.mu.Unlock()

	revision, err := c.revisionFetcher(ctx, zoneID)
	if err != nil {
		// A transient failure to resolve the revision degrades to bucket 0
		// rather than failing the whole lookup; worst case is an extra
		// cache miss, not an incorrect hit.
		return 0
	}

	c.revCache.mu.Lock()
	c.revCache.m[zoneID] = revisionCacheEntry{value: revision, fetchedAt: time.Now()}
	c.revCache.mu.Unlock()

	return revision / c.window
}

func (c *Cache) keyFor(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string) Key {
	zoneID = normalizeZone(zoneID)
	return Key{
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Permission:     permission,
		ObjectType:     objectType,
		ObjectID:       objectID,
		ZoneID:         zoneID,
		RevisionBucket: c.bucket(ctx, zoneID),
	}
}
