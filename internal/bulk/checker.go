package bulk

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexus-rebac/rebac/internal/cache/bitmap"
	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/check"
	"github.com/nexus-rebac/rebac/internal/driver/config"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
)

// Checker is the Bulk Permission Checker (spec.md §4.6): it resolves many
// (subject, permission, object) checks against one zone in a single call,
// running the pipeline L1 probe -> bitmap probe -> single bulk tuple fetch
// -> in-memory graph compute with a shared memo -> async write-through.
type Checker struct {
	repo      *relationtuple.Repository
	registry  *namespace.Registry
	cfg       config.Provider
	l1        *l1.Cache
	bitmapC   *bitmap.Cache
	crossZone bool
	logger    *logrus.Logger
}

// New builds a Checker. l1Cache and bitmapCache may be nil, in which case
// the corresponding phase is skipped entirely (every check falls through
// to the fetch+compute phases). logger may be nil, in which case timeout
// incidents are logged through a freshly built *logrus.Logger.
func New(repo *relationtuple.Repository, registry *namespace.Registry, cfg config.Provider, l1Cache *l1.Cache, bitmapCache *bitmap.Cache, enforceZoneIsolation bool, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Checker{
		repo:      repo,
		registry:  registry,
		cfg:       cfg,
		l1:        l1Cache,
		bitmapC:   bitmapCache,
		crossZone: enforceZoneIsolation,
		logger:    logger,
	}
}

// computerDeps adapts a fixed (repo, registry, cfg) triple to check.Deps,
// so a fresh check.Computer can be built per batch over the in-memory
// prefetch graph without check.Computer growing a bulk-specific
// constructor.
type computerDeps struct {
	repo     check.Repository
	registry *namespace.Registry
	cfg      config.Provider
}

func (d computerDeps) RelationTupleRepository() check.Repository { return d.repo }
func (d computerDeps) NamespaceRegistry() *namespace.Registry    { return d.registry }
func (d computerDeps) Config() config.Provider                   { return d.cfg }

// CheckBulk resolves every triple in triples against zoneID, per spec.md
// §4.6's phased pipeline. The returned map always has exactly one entry
// per (distinct) triple in triples.
//
// The whole call carries a soft deadline (config.Provider.BulkSoftDeadline):
// once it expires, every triple not yet resolved is denied with its
// Result.TimedOut flag set rather than left to run unbounded, and the
// incident is logged once for the batch.
func (bc *Checker) CheckBulk(ctx context.Context, triples []Triple, zoneID string, consistency ConsistencyLevel) (map[Triple]Result, error) {
	results := make(map[Triple]Result, len(triples))
	if len(triples) == 0 {
		return results, nil
	}

	deadline := time.Now().Add(bc.cfg.BulkSoftDeadline())

	remaining := triples

	// Phase 0: L1 probe.
	if consistency == Eventual && bc.l1 != nil {
		remaining = bc.phaseL1(ctx, remaining, zoneID, results)
		if len(remaining) == 0 {
			return results, nil
		}
	}

	// Phase 0.5: bitmap probe.
	if consistency == Eventual && bc.bitmapC != nil {
		remaining = bc.phaseBitmap(remaining, zoneID, results)
		if len(remaining) == 0 {
			return results, nil
		}
	}

	// Phase 1: single bulk tuple fetch, with synthesized parent edges.
	entities := entitiesOf(remaining)
	tuples, err := bc.repo.FetchEntityGraph(ctx, entities, zoneID, bc.crossZone)
	if err != nil {
		return nil, err
	}
	tuples = append(tuples, synthesizeParentTuples(entities, zoneID)...)

	// Phase 2: in-memory graph compute, sharing one memo across the batch.
	graphRepo := newGraphRepository(tuples)
	computer := check.NewEngine(computerDeps{repo: graphRepo, registry: bc.registry, cfg: bc.cfg})
	memo := newSharedMemo()
	ctx = check.WithMemo(ctx, memo)

	var positives []bitmap.WriteThroughEntry
	for i, t := range remaining {
		if time.Now().After(deadline) {
			bc.logger.WithFields(logrus.Fields{
				"zone_id":   zoneID,
				"resolved":  i,
				"remaining": len(remaining) - i,
			}).Warn("bulk check soft deadline exceeded, denying remaining entries")
			for _, pending := range remaining[i:] {
				results[pending] = Result{TimedOut: true}
			}
			return results, nil
		}

		if allowed, handled := accelerateDirectMatch(ctx, tuples, t.Subject.Type, t.Subject.ID, t.Permission, t.Object.Type, t.Object.ID, zoneID); handled {
			results[t] = Result{Allowed: allowed}
			if consistency == Eventual && allowed {
				positives = append(positives, bitmap.WriteThroughEntry{
					SubjectType: t.Subject.Type, SubjectID: t.Subject.ID,
					Permission: t.Permission, ObjectType: t.Object.Type, ObjectID: t.Object.ID,
					ZoneID: zoneID,
				})
			}
			continue
		}

		compute := func() (bool, error) {
			return computer.CheckIsMember(ctx, &check.Request{
				Subject:    t.Subject,
				Permission: t.Permission,
				Object:     t.Object,
				ZoneID:     zoneID,
			}, 0)
		}

		var ok bool
		var err error
		if bc.l1 != nil {
			// Shares the L1 cache's singleflight group with Manager.Check's
			// compute-miss path, so a triple this batch is computing
			// concurrently with a single Check call for the same key
			// coalesces onto one compute.
			ok, err = bc.l1.ComputeOnce(ctx, t.Subject.Type, t.Subject.ID, t.Permission, t.Object.Type, t.Object.ID, zoneID, compute)
		} else {
			ok, err = compute()
		}
		if err != nil {
			return nil, err
		}
		results[t] = Result{Allowed: ok}

		if consistency == Eventual && ok {
			positives = append(positives, bitmap.WriteThroughEntry{
				SubjectType: t.Subject.Type, SubjectID: t.Subject.ID,
				Permission: t.Permission, ObjectType: t.Object.Type, ObjectID: t.Object.ID,
				ZoneID: zoneID,
			})
		}
	}

	// Phase 3: write-through. Bitmap writes are applied synchronously in
	// memory (their own resource-id persistence is already async); L1
	// writes are cheap enough to happen inline too.
	if consistency == Eventual {
		if bc.bitmapC != nil && len(positives) > 0 {
			bc.bitmapC.AddPositivesBulk(positives)
		}
		if bc.l1 != nil {
			for _, t := range remaining {
				bc.l1.Set(ctx, t.Subject.Type, t.Subject.ID, t.Permission, t.Object.Type, t.Object.ID, results[t].Allowed, l1.WithZone(zoneID))
			}
		}
	}

	return results, nil
}

func (bc *Checker) phaseL1(ctx context.Context, triples []Triple, zoneID string, results map[Triple]Result) []Triple {
	var misses []Triple
	for _, t := range triples {
		if v, ok := bc.l1.Get(ctx, t.Subject.Type, t.Subject.ID, t.Permission, t.Object.Type, t.Object.ID, zoneID); ok {
			results[t] = Result{Allowed: v}
			continue
		}
		misses = append(misses, t)
	}
	return misses
}

func (bc *Checker) phaseBitmap(triples []Triple, zoneID string, results map[Triple]Result) []Triple {
	reqs := make([]bitmap.BulkCheckRequest, len(triples))
	byReq := make(map[bitmap.BulkCheckRequest]Triple, len(triples))
	for i, t := range triples {
		r := bitmap.BulkCheckRequest{
			SubjectType: t.Subject.Type, SubjectID: t.Subject.ID,
			Permission: t.Permission, ObjectType: t.Object.Type, ObjectID: t.Object.ID,
		}
		reqs[i] = r
		byReq[r] = t
	}

	states := bc.bitmapC.CheckBulk(zoneID, reqs)

	var remaining []Triple
	for r, t := range byReq {
		if states[r] == bitmap.True {
			results[t] = Result{Allowed: true}
			if bc.l1 != nil {
				bc.l1.Set(context.Background(), t.Subject.Type, t.Subject.ID, t.Permission, t.Object.Type, t.Object.ID, true, l1.WithZone(zoneID))
			}
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining
}
