package manager

import (
	"context"
	"time"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// WriteRequest describes one relation tuple to create.
type WriteRequest struct {
	Subject       ketoapi.Subject
	Relation      string
	Object        ketoapi.Entity
	ZoneID        string
	SubjectZoneID string
	ObjectZoneID  string
	Conditions    *ketoapi.Conditions
	ExpiresAt     *time.Time
}

// Write validates and inserts a tuple, then invalidates the caches and
// notifies registered Invalidators (spec.md §4.7 "Write"): "validate ->
// repository insert -> invalidate L1 (subject+object(+subject zone for
// cross-zone shares)) -> notify registered invalidators." Cache errors are
// logged and swallowed; storage errors propagate, matching the write path
// in original_source/.../rebac_manager_zone_aware.py's rebac_write (which
// invalidates the tuple's zone and, when the subject's zone differs for a
// cross-zone share, the subject's zone too). Write is idempotent: writing
// the same (subject, relation, object, zone) twice returns the same
// tuple_id both times, and the second call still invalidates the cache
// footprint (a cheap no-op when nothing changed on disk).
func (m *Manager) Write(ctx context.Context, req WriteRequest) (string, error) {
	zoneID := req.ZoneID
	subjectZoneID := req.SubjectZoneID
	if subjectZoneID == "" {
		subjectZoneID = zoneID
	}
	objectZoneID := req.ObjectZoneID
	if objectZoneID == "" {
		objectZoneID = zoneID
	}

	t := &relationtuple.RelationTuple{
		Subject:       req.Subject,
		Relation:      req.Relation,
		Object:        req.Object,
		ZoneID:        zoneID,
		SubjectZoneID: subjectZoneID,
		ObjectZoneID:  objectZoneID,
		Conditions:    req.Conditions,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := m.repo.Insert(ctx, t); err != nil {
		return "", err
	}

	m.invalidateForTuple(ctx, req.Subject, req.Relation, req.Object, zoneID, subjectZoneID)
	return t.TupleID.String(), nil
}

// DeleteRequest identifies one tuple by its (subject, relation, object,
// zone) quad rather than its internal tuple id, matching how callers think
// about the relationship they're revoking.
type DeleteRequest struct {
	Subject       ketoapi.Subject
	Relation      string
	Object        ketoapi.Entity
	ZoneID        string
	SubjectZoneID string
}

// Delete removes the tuple matching req and invalidates the same cache
// footprint Write does. A no-op (nil error) if no such tuple exists.
func (m *Manager) Delete(ctx context.Context, req DeleteRequest) error {
	existing, err := m.repo.FindDirectTuple(ctx, req.Subject, req.Relation, req.Object, req.ZoneID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if err := m.repo.Delete(ctx, existing.TupleID, req.ZoneID); err != nil {
		return err
	}

	subjectZoneID := req.SubjectZoneID
	if subjectZoneID == "" {
		subjectZoneID = existing.SubjectZoneID
	}
	m.invalidateForTuple(ctx, req.Subject, req.Relation, req.Object, req.ZoneID, subjectZoneID)
	return nil
}

// invalidateForTuple drops the L1/bitmap entries a (subject, relation,
// object) change could have affected and notifies every registered
// Invalidator. It always invalidates in the tuple's own zone, and
// additionally in the subject's zone when that differs (the cross-zone
// share case: the permission is granted in the resource's zone but
// checked from the subject's zone).
func (m *Manager) invalidateForTuple(ctx context.Context, subject ketoapi.Subject, relation string, object ketoapi.Entity, zoneID, subjectZoneID string) {
	m.invalidateZone(subject.Entity, relation, object, zoneID)
	if subjectZoneID != "" && subjectZoneID != zoneID {
		m.invalidateZone(subject.Entity, relation, object, subjectZoneID)
	}
	for _, inv := range m.invalidators {
		inv.Invalidate(ctx, subject.Entity, relation, object, zoneID)
	}
}

// BulkDeleteWhere removes every tuple matching q, delegating directly to
// the repository: a partial filter can match tuples this package's
// by-triple invalidation API has no way to enumerate ahead of time, so
// callers are responsible for their own cache invalidation afterward (see
// Handler.deleteRelations, which falls back to ClearCaches).
func (m *Manager) BulkDeleteWhere(ctx context.Context, q relationtuple.DeleteWhereQuery) (int64, error) {
	return m.repo.DeleteWhere(ctx, q)
}

func (m *Manager) invalidateZone(subject ketoapi.Entity, relation string, object ketoapi.Entity, zoneID string) {
	if m.l1 != nil {
		m.l1.InvalidateSubject(subject.Type, subject.ID, zoneID)
		m.l1.InvalidateObject(object.Type, object.ID, zoneID)
	}
	if m.bitmap != nil {
		m.bitmap.InvalidateSubject(subject.Type, subject.ID, zoneID)
		m.bitmap.InvalidateObject(object.Type, object.ID, zoneID)
	}
}
