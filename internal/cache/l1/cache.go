// Package l1 is the L1 Permission Cache (spec.md §4.4): a bounded,
// in-memory cache of per-check results sitting in front of the Permission
// Computer. It is transparent to callers — a miss just means "go compute
// it" — and exists purely to keep repeated checks off the tuple store.
package l1

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nexus-rebac/rebac/internal/driver/config"
)

type entry struct {
	result    bool
	createdAt time.Time
	ttl       time.Duration
	delta     time.Duration
	revision  int64
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

func (e entry) remaining(now time.Time) time.Duration {
	return e.ttl - now.Sub(e.createdAt)
}

// Cache is the L1 permission cache. It is safe for concurrent use.
type Cache struct {
	store *lru.Cache[Key, entry]

	mu  sync.Mutex // guards idx; store has its own internal locking
	idx *indexes

	baseTTL           time.Duration
	tiers             TierTTLs
	jitterPercent     float64
	xfetchBeta        float64
	window            int64
	quantizeRevisions bool

	invalidationMode string // "targeted" (default) or "zone_wide"

	revisionFetcher RevisionFetcher
	revCache        *revisionCache

	inflightKeys sync.Map
	cnt          counters

	group singleflight.Group
}

// Config configures a Cache at construction. A zero MaxSize, BaseTTL,
// XFetchBeta or QuantizationWindow falls back to the same default
// config.Provider ships (see internal/driver/config), and a zero TierTTLs to
// the default tiers. A zero JitterPercent disables jitter, and the two
// booleans stay off.
type Config struct {
	MaxSize              int
	BaseTTL              time.Duration
	TierTTLs             TierTTLs
	JitterPercent        float64
	XFetchBeta           float64
	QuantizationWindow   int64
	RevisionQuantization bool
	ZoneWideInvalidation bool
}

// FromProvider builds a Config from the shared config.Provider, the way
// every other ReBAC component is wired (spec.md §9: Deps interfaces wrap
// config.Provider rather than re-deriving defaults).
func FromProvider(p config.Provider) Config {
	return Config{
		MaxSize:              p.CacheMaxSize(),
		BaseTTL:              p.CacheTTL(),
		TierTTLs:             defaultTierTTLs(),
		JitterPercent:        p.CacheJitterPercent(),
		XFetchBeta:           p.XFetchBeta(),
		QuantizationWindow:   p.QuantizationWindow(),
		RevisionQuantization: true,
		ZoneWideInvalidation: p.ZoneWideInvalidationEnabled(),
	}
}

// New builds a Cache from cfg.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100_000
	}
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = 10 * time.Minute
	}
	if cfg.TierTTLs == (TierTTLs{}) {
		cfg.TierTTLs = defaultTierTTLs()
	}
	if cfg.XFetchBeta <= 0 {
		cfg.XFetchBeta = 1.0
	}
	if cfg.QuantizationWindow <= 0 {
		cfg.QuantizationWindow = 10
	}

	c := &Cache{
		idx:               newIndexes(),
		baseTTL:           cfg.BaseTTL,
		tiers:             cfg.TierTTLs,
		jitterPercent:     cfg.JitterPercent,
		xfetchBeta:        cfg.XFetchBeta,
		window:            cfg.QuantizationWindow,
		quantizeRevisions: cfg.RevisionQuantization,
		invalidationMode:  "targeted",
		revCache:          newRevisionCache(time.Second),
	}
	if cfg.ZoneWideInvalidation {
		c.invalidationMode = "zone_wide"
	}

	store, err := lru.NewWithEvict[Key, entry](cfg.MaxSize, func(k Key, _ entry) {
		c.mu.Lock()
		c.idx.remove(k)
		c.mu.Unlock()
	})
	if err != nil {
		// cfg.MaxSize is normalized to a positive int above; NewWithEvict
		// only errors on size <= 0.
		panic(err)
	}
	c.store = store
	return c
}

// SetRevisionFetcher wires the callback used to resolve a zone's current
// write revision for key quantization (spec.md §4.4). Until set, every
// lookup behaves as if revision quantization were disabled.
func (c *Cache) SetRevisionFetcher(f RevisionFetcher) {
	c.revisionFetcher = f
	c.revCache.clear()
}

// SetOption mutates a pending Set call; functional options mirror
// internal/x's PaginationOptionSetter idiom.
type SetOption func(*setOptions)

type setOptions struct {
	zoneID      string
	relation    string
	isInherited bool
	isDenial    bool
	delta       time.Duration
}

// WithZone scopes the entry to a zone other than the default.
func WithZone(zoneID string) SetOption { return func(o *setOptions) { o.zoneID = zoneID } }

// WithRelation records which relation produced the grant, selecting the
// tiered TTL (owner/editor/viewer) at insertion time.
func WithRelation(relation string) SetOption { return func(o *setOptions) { o.relation = relation } }

// WithInherited marks the result as reached via traversal (tupleToUserset
// or userset-as-subject) rather than a direct tuple, overriding the
// relation-based tier with the shorter "inherited" TTL.
func WithInherited() SetOption { return func(o *setOptions) { o.isInherited = true } }

// WithDelta records the observed compute latency for this entry, feeding
// XFetch's early-refresh probability on subsequent reads.
func WithDelta(d time.Duration) SetOption { return func(o *setOptions) { o.delta = d } }

// Get returns the cached result for one (subject, permission, object) check
// in zoneID, or ok=false on a miss (absent, expired, or wrong revision
// bucket).
func (c *Cache) Get(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string) (result, ok bool) {
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)
	e, found := c.store.Get(key)
	if !found || e.expired(time.Now()) {
		c.cnt.misses.Add(1)
		return false, false
	}
	c.cnt.hits.Add(1)
	return e.result, true
}

// GetWithRefreshCheck behaves like Get but also reports whether XFetch
// thinks this entry should be proactively refreshed even though it is
// still technically valid (spec.md §4.4).
func (c *Cache) GetWithRefreshCheck(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string) (result, ok, needsRefresh bool) {
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)
	e, found := c.store.Get(key)
	if !found || e.expired(time.Now()) {
		c.cnt.misses.Add(1)
		return false, false, true
	}
	c.cnt.hits.Add(1)
	refresh := c.shouldRefreshXFetch(e, c.xfetchBeta)
	if refresh {
		c.cnt.xfetchEarlyRefreshes.Add(1)
	}
	return e.result, true, refresh
}

// shouldRefreshXFetch implements the VLDB 2015 XFetch formula: refresh
// early when delta * beta * -ln(random()) >= time remaining until expiry.
// A zero delta falls back to a fixed refresh-ahead threshold (70% of TTL
// elapsed) since there's no observed compute cost to extrapolate from.
func (c *Cache) shouldRefreshXFetch(e entry, beta float64) bool {
	now := time.Now()
	if e.expired(now) {
		return true
	}
	remaining := e.remaining(now)
	if e.delta <= 0 {
		elapsed := now.Sub(e.createdAt)
		return float64(elapsed) >= 0.7*float64(e.ttl)
	}
	r := rand.Float64()
	for r <= 0 {
		r = rand.Float64()
	}
	factor := float64(e.delta) * beta * -math.Log(r)
	return factor >= float64(remaining)
}

// ShouldRefreshXFetch is the public, stats-free variant used by callers
// that already have a cached result and just want the XFetch verdict
// (e.g. to decide whether to kick off a background recompute), with beta
// overridable per call.
func (c *Cache) ShouldRefreshXFetch(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string, beta float64) bool {
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)
	e, found := c.store.Get(key)
	if !found {
		return true
	}
	if beta <= 0 {
		beta = c.xfetchBeta
	}
	return c.shouldRefreshXFetch(e, beta)
}

// Set records result for one check, choosing its TTL tier from opts and
// applying jitter (spec.md §4.4).
func (c *Cache) Set(ctx context.Context, subjectType, subjectID, permission, objectType, objectID string, result bool, opts ...SetOption) {
	o := setOptions{}
	for _, apply := range opts {
		apply(&o)
	}
	if !result {
		o.isDenial = true
	}

	zoneID := normalizeZone(o.zoneID)
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)

	base := c.ttlFor(o.relation, o.isInherited, o.isDenial)
	ttl := jitter(base, c.jitterPercent)

	e := entry{
		result:    result,
		createdAt: time.Now(),
		ttl:       ttl,
		delta:     o.delta,
		revision:  key.RevisionBucket,
	}

	c.store.Add(key, e)
	if c.invalidationMode != "zone_wide" {
		c.mu.Lock()
		c.idx.insert(key)
		c.mu.Unlock()
	}
	c.cnt.sets.Add(1)
}

// TryAcquireCompute reports whether the caller should perform the
// (subject, permission, object) compute itself (true) or wait for a
// concurrent compute of the same key to finish and reuse its result
// (false), coalescing duplicate work the way spec.md §5's single-flight
// stampede control requires. The returned token must be passed to
// ReleaseCompute exactly once.
func (c *Cache) TryAcquireCompute(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string) (shouldCompute bool, token string) {
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)
	token = key.string()
	// singleflight.Group itself always runs the function for the first
	// caller and shares the result with followers; Do blocks followers
	// until the leader's Do call returns. We want a non-blocking variant
	// where followers are told to wait elsewhere (e.g. poll Get), so we
	// track in-flight keys ourselves instead of calling Do here — Do is
	// used only in ComputeOnce below, the blocking variant.
	shouldCompute = c.inflightMark(token)
	return shouldCompute, token
}

func (c *Cache) inflightMark(token string) bool {
	_, loaded := c.inflightKeys.LoadOrStore(token, struct{}{})
	return !loaded
}

// ReleaseCompute stores the computed result (mirroring Set) and releases
// the in-flight marker acquired by TryAcquireCompute.
func (c *Cache) ReleaseCompute(ctx context.Context, token, subjectType, subjectID, permission, objectType, objectID, zoneID string, result bool, opts ...SetOption) {
	c.inflightKeys.Delete(token)
	c.Set(ctx, subjectType, subjectID, permission, objectType, objectID, result, opts...)
}

// ComputeOnce coalesces concurrent compute calls for the same key via
// golang.org/x/sync/singleflight: only one caller actually invokes fn; the
// rest block and receive its result. Unlike TryAcquireCompute/
// ReleaseCompute (which let a caller choose to do other work while a
// compute is in flight), this is the simpler blocking form.
func (c *Cache) ComputeOnce(ctx context.Context, subjectType, subjectID, permission, objectType, objectID, zoneID string, fn func() (bool, error)) (bool, error) {
	key := c.keyFor(ctx, subjectType, subjectID, permission, objectType, objectID, zoneID)
	v, err, _ := c.group.Do(key.string(), func() (any, error) {
		return fn()
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (k Key) string() string {
	return k.SubjectType + "|" + k.SubjectID + "|" + k.Permission + "|" + k.ObjectType + "|" + k.ObjectID + "|" + k.ZoneID
}

// InvalidateSubject drops every cached entry for (subjectType, subjectID)
// in zoneID, returning the count removed.
func (c *Cache) InvalidateSubject(subjectType, subjectID, zoneID string) int {
	c.cnt.indexLookups.Add(1)
	zoneID = normalizeZone(zoneID)
	c.mu.Lock()
	set := c.idx.subject[subjectIndexKey{zone: zoneID, subjectType: subjectType, subjectID: subjectID}]
	keys := keysOf(set)
	c.mu.Unlock()
	return c.removeAll(keys)
}

// InvalidateObject drops every cached entry for (objectType, objectID) in
// zoneID.
func (c *Cache) InvalidateObject(objectType, objectID, zoneID string) int {
	c.cnt.indexLookups.Add(1)
	zoneID = normalizeZone(zoneID)
	c.mu.Lock()
	set := c.idx.object[objectIndexKey{zone: zoneID, objectType: objectType, objectID: objectID}]
	keys := keysOf(set)
	c.mu.Unlock()
	return c.removeAll(keys)
}

// InvalidateObjectPrefix drops every cached entry for any object under
// prefix (an ancestor directory previously seen at Set time), in zoneID.
func (c *Cache) InvalidateObjectPrefix(objectType, prefix, zoneID string) int {
	c.cnt.indexLookups.Add(1)
	zoneID = normalizeZone(zoneID)
	prefix = trimTrailingSlash(prefix)
	c.mu.Lock()
	set := c.idx.prefix[prefixIndexKey{zone: zoneID, objectType: objectType, prefix: prefix}]
	keys := keysOf(set)
	c.mu.Unlock()
	return c.removeAll(keys)
}

// InvalidatePair drops cached entries for every permission of exactly
// (subjectType, subjectID) on exactly (objectType, objectID) in zoneID.
func (c *Cache) InvalidatePair(subjectType, subjectID, objectType, objectID, zoneID string) int {
	c.cnt.indexLookups.Add(2)
	zoneID = normalizeZone(zoneID)
	c.mu.Lock()
	subjSet := c.idx.subject[subjectIndexKey{zone: zoneID, subjectType: subjectType, subjectID: subjectID}]
	var keys []Key
	for k := range subjSet {
		if k.ObjectType == objectType && k.ObjectID == objectID {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	return c.removeAll(keys)
}

func (c *Cache) removeAll(keys []Key) int {
	for _, k := range keys {
		c.store.Remove(k) // triggers the evict callback, which cleans up idx
	}
	if len(keys) > 0 {
		c.cnt.targetedInvalidations.Add(1)
	}
	return len(keys)
}

func trimTrailingSlash(s string) string {
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Clear drops every entry across all zones.
func (c *Cache) Clear() {
	c.store.Purge()
	c.mu.Lock()
	c.idx.clear()
	c.mu.Unlock()
}

// ClearZone is the legacy zone_wide invalidation fallback (spec.md §4.4):
// it walks every key and drops those matching zoneID. O(cache size), kept
// only as a documented fallback flag, never the default.
func (c *Cache) ClearZone(zoneID string) int {
	zoneID = normalizeZone(zoneID)
	var keys []Key
	for _, k := range c.store.Keys() {
		if k.ZoneID == zoneID {
			keys = append(keys, k)
		}
	}
	return c.removeAll(keys)
}

// ResetStats zeroes all counters without touching cached entries.
func (c *Cache) ResetStats() {
	c.cnt.reset()
}

// Stats snapshots the cache's current counters and sizes (spec.md §4.4).
func (c *Cache) Stats() Stats {
	hits := c.cnt.hits.Load()
	misses := c.cnt.misses.Load()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	c.mu.Lock()
	subjIdx, objIdx, prefixIdx := len(c.idx.subject), len(c.idx.object), len(c.idx.prefix)
	c.mu.Unlock()

	return Stats{
		Hits:                  hits,
		Misses:                misses,
		Sets:                  c.cnt.sets.Load(),
		TotalRequests:         total,
		HitRatePercent:        hitRate,
		XFetchEarlyRefreshes:  c.cnt.xfetchEarlyRefreshes.Load(),
		TargetedInvalidations: c.cnt.targetedInvalidations.Load(),
		IndexLookups:          c.cnt.indexLookups.Load(),
		CurrentSize:           c.store.Len(),
		SubjectIndexSize:      subjIdx,
		ObjectIndexSize:       objIdx,
		PathPrefixIndexSize:   prefixIdx,
		InvalidationMode:      c.invalidationMode,
		QuantizationWindow:    c.window,
		RevisionQuantization:  c.quantizeRevisions,
		XFetchBeta:            c.xfetchBeta,
	}
}
