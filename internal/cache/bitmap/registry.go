package bitmap

import (
	"context"
	"sync"
)

// resourceKey identifies one (zone, object type, object id) triple in the
// resource-id registry.
type resourceKey struct {
	zoneID, objectType, objectID string
}

// Registry assigns a monotonically increasing dense integer id to every
// (object type, object id) observed in a zone (spec.md §4.5). Bitmaps are
// built over these ids rather than over object ids directly, since
// RoaringBitmap only stores uint32s.
//
// The registry is the only state the Bitmap Cache must persist: bitmaps
// themselves can always be rebuilt lazily by re-running compute and
// writing through again, but a resource id must never be reused for a
// different object once assigned, or a stale bitmap entry would resolve
// to the wrong object.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[resourceKey]uint32
	nextID  uint32
	persist Persister
}

// NewRegistry builds an empty in-memory registry. Pass a non-nil Persister
// to make new allocations durable; passing nil keeps the registry
// in-memory only (ids are rebuilt fresh on restart, which is safe since
// bitmaps are rebuilt lazily on miss anyway).
func NewRegistry(persist Persister) *Registry {
	return &Registry{byKey: make(map[resourceKey]uint32), persist: persist, nextID: 1}
}

// Lookup returns the resource id for (objectType, objectID) in zoneID, if
// one has already been assigned.
func (r *Registry) Lookup(zoneID, objectType, objectID string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[resourceKey{zoneID, objectType, objectID}]
	return id, ok
}

// EnsureID returns the resource id for (objectType, objectID) in zoneID,
// allocating and (if a Persister is configured) persisting a new one if
// this is the first time this object has been seen.
func (r *Registry) EnsureID(zoneID, objectType, objectID string) uint32 {
	key := resourceKey{zoneID, objectType, objectID}

	r.mu.RLock()
	if id, ok := r.byKey[key]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	if id, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return id
	}
	id := r.nextID
	r.nextID++
	r.byKey[key] = id
	r.mu.Unlock()

	if r.persist != nil {
		// Fire-and-forget: the map is rebuildable from bitmaps' own
		// write-through path on restart, so a lost persist just costs a
		// future lazy rebuild, never correctness.
		go r.persist.PersistResourceID(zoneID, objectType, objectID, id)
	}
	return id
}

// LoadAndHydrate loads persisted mappings via the configured Persister and
// folds them into the registry. A no-op if no Persister was configured.
func (r *Registry) LoadAndHydrate(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}
	mappings, err := r.persist.LoadAll(ctx)
	if err != nil {
		return err
	}
	r.Hydrate(mappings)
	return nil
}

// Hydrate loads a previously-persisted set of mappings, e.g. at startup.
// The highest id seen becomes the new allocation floor so ids are never
// reused.
func (r *Registry) Hydrate(mappings map[resourceKey]uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, id := range mappings {
		r.byKey[k] = id
		if id >= r.nextID {
			r.nextID = id + 1
		}
	}
}

// Len reports how many resources have been assigned an id, across all
// zones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
