package manager

import (
	"context"

	"github.com/nexus-rebac/rebac/internal/bulk"
	"github.com/nexus-rebac/rebac/internal/cache/bitmap"
	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/check"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// CheckRequest is one (subject, permission, object) check in a zone, with
// an optional ABAC context and an optional per-request depth cap.
type CheckRequest struct {
	Subject    ketoapi.Subject
	Permission string
	Object     ketoapi.Entity
	ZoneID     string
	Context    *ketoapi.Context
	MaxDepth   int
}

// Check resolves one permission check, probing L1 then falling through to
// a fresh graph compute, write-through on a positive result — the single-
// check analogue of internal/bulk's batch pipeline (spec.md §4.7 "Check").
// ABAC-conditioned requests (req.Context != nil) always recompute: a cached
// boolean from an earlier call may have been produced under different
// condition inputs, so it cannot be trusted without re-evaluating.
//
// The L1 probe uses GetWithRefreshCheck (XFetch, spec.md §4.4): a hit that
// is still valid but probabilistically due for early refresh is served
// immediately, with the recompute kicked off in the background so the
// caller never pays its latency. Every compute — foreground on a miss, or
// background on an XFetch refresh — runs through the L1 cache's
// singleflight group via ComputeOnce, so concurrent callers for the same
// key (including concurrent bulk.Checker dispatches against the same
// cache) coalesce onto one in-flight compute instead of each paying for
// their own.
func (m *Manager) Check(ctx context.Context, req CheckRequest) (bool, error) {
	cacheable := req.Context == nil
	if cacheable && m.l1 != nil {
		if v, ok, needsRefresh := m.l1.GetWithRefreshCheck(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, req.ZoneID); ok {
			if needsRefresh {
				go m.refreshL1Async(req)
			}
			return v, nil
		}
	}
	if cacheable && m.bitmap != nil {
		if st := m.bitmap.Check(req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, req.ZoneID); st == bitmap.True {
			if m.l1 != nil {
				m.l1.Set(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, true, l1.WithZone(req.ZoneID))
			}
			return true, nil
		}
	}

	compute := func() (bool, error) {
		return m.compute.CheckIsMember(ctx, &check.Request{
			Subject:    req.Subject,
			Permission: req.Permission,
			Object:     req.Object,
			ZoneID:     req.ZoneID,
			Context:    req.Context,
		}, req.MaxDepth)
	}

	var ok bool
	var err error
	if cacheable && m.l1 != nil {
		ok, err = m.l1.ComputeOnce(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, req.ZoneID, compute)
	} else {
		ok, err = compute()
	}
	if err != nil {
		return false, err
	}

	if cacheable {
		if m.l1 != nil {
			m.l1.Set(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, ok, l1.WithZone(req.ZoneID))
		}
		if ok && m.bitmap != nil {
			m.bitmap.AddPositivesBulk([]bitmap.WriteThroughEntry{{
				SubjectType: req.Subject.Type, SubjectID: req.Subject.ID,
				Permission: req.Permission, ObjectType: req.Object.Type, ObjectID: req.Object.ID,
				ZoneID: req.ZoneID,
			}})
		}
	}
	return ok, nil
}

// refreshL1Async recomputes req in the background after an XFetch early-
// refresh signal, detached from the triggering request's context (which
// may be canceled the moment the caller gets their already-served cached
// answer). Routed through ComputeOnce so a refresh racing a genuine
// cache-miss compute for the same key still only runs once.
func (m *Manager) refreshL1Async(req CheckRequest) {
	ctx := context.Background()
	ok, err := m.l1.ComputeOnce(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, req.ZoneID, func() (bool, error) {
		return m.compute.CheckIsMember(ctx, &check.Request{
			Subject:    req.Subject,
			Permission: req.Permission,
			Object:     req.Object,
			ZoneID:     req.ZoneID,
		}, req.MaxDepth)
	})
	if err != nil {
		m.logger.WithError(err).Warn("xfetch background refresh failed")
		return
	}
	m.l1.Set(ctx, req.Subject.Type, req.Subject.ID, req.Permission, req.Object.Type, req.Object.ID, ok, l1.WithZone(req.ZoneID))
}

// CheckBulk delegates to the Bulk Permission Checker (spec.md §4.6/§4.7).
// Each result's TimedOut flag is set if the batch's soft deadline expired
// before that entry was reached; such entries are always denied.
func (m *Manager) CheckBulk(ctx context.Context, triples []bulk.Triple, zoneID string, consistency bulk.ConsistencyLevel) (map[bulk.Triple]bulk.Result, error) {
	return m.bulkChk.CheckBulk(ctx, triples, zoneID, consistency)
}

// Explain returns the granting decision plus the explored decision tree
// (spec.md §4.3 "Explanation mode" / §4.7 "Explain").
func (m *Manager) Explain(ctx context.Context, req CheckRequest) (bool, *check.PathNode, error) {
	return m.compute.ExplainIsMember(ctx, &check.Request{
		Subject:    req.Subject,
		Permission: req.Permission,
		Object:     req.Object,
		ZoneID:     req.ZoneID,
		Context:    req.Context,
	}, req.MaxDepth)
}

// Expand returns every concrete subject granted permission on obj in
// zoneID (spec.md §4.7 "Expand").
func (m *Manager) Expand(ctx context.Context, permission string, obj ketoapi.Entity, zoneID string) ([]ketoapi.Entity, error) {
	return m.expnd.Expand(ctx, permission, obj, zoneID)
}
