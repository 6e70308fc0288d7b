// Package bitmap is the Bitmap Cache (spec.md §4.5): a compact
// RoaringBitmap-backed index answering "does subject S have permission P
// on object O?" in amortized O(1) for positive results, and bulk
// membership filtering in O(N/word) with zero tuple scans. It is never
// authoritative — a miss always falls through to the Permission Computer.
package bitmap

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
)

// TriState is the three-way answer a bitmap lookup gives (spec.md §4.5).
type TriState int

const (
	// Unknown means the bitmap has no information either way; the caller
	// must fall through to the compute path.
	Unknown TriState = iota
	// True means the bitmap has recorded a positive result.
	True
	// False is reserved for a future explicit-denial mode; the
	// write-through path described by spec.md §4.5 never produces it,
	// since "denials are not recorded (negatives remain unknown)".
	False
)

type bitmapKey struct {
	zoneID, subjectType, subjectID, permission, objectType string
}

// Cache is the Bitmap Cache. It is safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	bitmaps  map[bitmapKey]*roaring.Bitmap
	registry *Registry

	hits, misses, adds atomic.Int64
}

// New builds an empty Cache backed by registry for resource-id assignment.
func New(registry *Registry) *Cache {
	return &Cache{
		bitmaps:  make(map[bitmapKey]*roaring.Bitmap),
		registry: registry,
	}
}

// Check answers whether subject has permission on (objectType, objectID)
// in zoneID, per spec.md §4.5's tri-state contract.
func (c *Cache) Check(subjectType, subjectID, permission, objectType, objectID, zoneID string) TriState {
	resourceID, ok := c.registry.Lookup(zoneID, objectType, objectID)
	if !ok {
		c.misses.Add(1)
		return Unknown
	}

	key := bitmapKey{zoneID, subjectType, subjectID, permission, objectType}
	c.mu.RLock()
	bm, ok := c.bitmaps[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return Unknown
	}

	if bm.Contains(resourceID) {
		c.hits.Add(1)
		return True
	}
	c.misses.Add(1)
	return Unknown
}

// BulkCheckRequest is one (subject, permission, object) triple to resolve
// in a CheckBulk call.
type BulkCheckRequest struct {
	SubjectType, SubjectID, Permission, ObjectType, ObjectID string
}

// CheckBulk resolves many requests against a single zone, grouping by
// bitmap key so each distinct (subject, permission, object type) bitmap is
// looked up once regardless of how many object ids share it (spec.md §4.5:
// "single mapped lookup per subject-group").
func (c *Cache) CheckBulk(zoneID string, reqs []BulkCheckRequest) map[BulkCheckRequest]TriState {
	results := make(map[BulkCheckRequest]TriState, len(reqs))

	byGroup := make(map[bitmapKey][]BulkCheckRequest)
	for _, r := range reqs {
		key := bitmapKey{zoneID, r.SubjectType, r.SubjectID, r.Permission, r.ObjectType}
		byGroup[key] = append(byGroup[key], r)
	}

	for key, group := range byGroup {
		c.mu.RLock()
		bm, ok := c.bitmaps[key]
		c.mu.RUnlock()
		if !ok {
			for _, r := range group {
				results[r] = Unknown
			}
			c.misses.Add(int64(len(group)))
			continue
		}

		for _, r := range group {
			resourceID, ok := c.registry.Lookup(zoneID, r.ObjectType, r.ObjectID)
			if !ok || !bm.Contains(resourceID) {
				results[r] = Unknown
				c.misses.Add(1)
				continue
			}
			results[r] = True
			c.hits.Add(1)
		}
	}

	return results
}

// WriteThroughEntry is one positive result to record in the bitmap cache.
type WriteThroughEntry struct {
	SubjectType, SubjectID, Permission, ObjectType, ObjectID, ZoneID string
}

// AddPositivesBulk writes through a batch of positive compute/bulk-check
// results (spec.md §4.6 Phase 3), allocating resource ids as needed and
// adding them to the relevant bitmaps in memory. Persistence of the
// resource-id assignments (not of the bitmaps themselves, which are
// rebuildable) happens asynchronously via the Registry's Persister.
func (c *Cache) AddPositivesBulk(entries []WriteThroughEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		resourceID := c.registry.EnsureID(e.ZoneID, e.ObjectType, e.ObjectID)
		key := bitmapKey{e.ZoneID, e.SubjectType, e.SubjectID, e.Permission, e.ObjectType}
		bm, ok := c.bitmaps[key]
		if !ok {
			bm = roaring.New()
			c.bitmaps[key] = bm
		}
		bm.Add(resourceID)
		c.adds.Add(1)
	}
}

// Stats is a point-in-time snapshot of bitmap cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Adds          int64
	BitmapCount   int
	ResourceCount int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	bitmapCount := len(c.bitmaps)
	c.mu.RUnlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Adds:          c.adds.Load(),
		BitmapCount:   bitmapCount,
		ResourceCount: c.registry.Len(),
	}
}

// InvalidateObject drops objectID from every bitmap it could appear in
// within zoneID, e.g. when the underlying tuple granting it is deleted.
// The resource id itself is kept (ids are never reused), only its bitmap
// membership is revoked.
func (c *Cache) InvalidateObject(objectType, objectID, zoneID string) {
	resourceID, ok := c.registry.Lookup(zoneID, objectType, objectID)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, bm := range c.bitmaps {
		if key.zoneID == zoneID && key.objectType == objectType {
			bm.Remove(resourceID)
		}
	}
}

// InvalidateSubject drops every bitmap belonging to subject in zoneID,
// e.g. when all of a subject's grants are revoked at once.
func (c *Cache) InvalidateSubject(subjectType, subjectID, zoneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.bitmaps {
		if key.zoneID == zoneID && key.subjectType == subjectType && key.subjectID == subjectID {
			delete(c.bitmaps, key)
		}
	}
}
