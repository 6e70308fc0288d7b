package l1

import "sync/atomic"

// Stats is a point-in-time snapshot of cache counters (spec.md §4.4).
type Stats struct {
	Hits                  int64
	Misses                int64
	Sets                  int64
	TotalRequests         int64
	HitRatePercent        float64
	XFetchEarlyRefreshes  int64
	TargetedInvalidations int64
	IndexLookups          int64
	CurrentSize           int
	SubjectIndexSize      int
	ObjectIndexSize       int
	PathPrefixIndexSize   int
	InvalidationMode      string
	QuantizationWindow    int64
	RevisionQuantization  bool
	XFetchBeta            float64
}

type counters struct {
	hits                  atomic.Int64
	misses                atomic.Int64
	sets                  atomic.Int64
	xfetchEarlyRefreshes  atomic.Int64
	targetedInvalidations atomic.Int64
	indexLookups          atomic.Int64
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.xfetchEarlyRefreshes.Store(0)
	c.targetedInvalidations.Store(0)
	c.indexLookups.Store(0)
}
