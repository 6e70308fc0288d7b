// Package relationtuple is the Tuple Repository (spec.md §4.1): durable
// persistence and pure queries over relationship tuples. It does no cache
// management and no graph traversal — those live in internal/cache and
// internal/check respectively.
package relationtuple

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/nexus-rebac/rebac/ketoapi"
)

// RelationTuple is the repository's in-process representation of a
// relationship tuple, per spec.md §3. Unlike the wire type
// (ketoapi.RelationTuple), TupleID is a parsed uuid.UUID and the record
// always carries resolved subject/object zone ids.
type RelationTuple struct {
	TupleID uuid.UUID

	Subject  ketoapi.Subject
	Relation string
	Object   ketoapi.Entity

	ZoneID        string
	SubjectZoneID string
	ObjectZoneID  string

	Conditions *ketoapi.Conditions
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the tuple is past its expiry at time now.
// Expired tuples are invisible to all reads (spec.md §3 invariant).
func (rt *RelationTuple) IsExpired(now time.Time) bool {
	return rt.ExpiresAt != nil && !rt.ExpiresAt.After(now)
}

// IdempotencyKey is the 4-tuple (subject-with-optional-relation, relation,
// object, zone_id) that must be unique per spec.md §3.
type IdempotencyKey struct {
	SubjectType, SubjectID, SubjectRelation string
	Relation                                string
	ObjectType, ObjectID                    string
	ZoneID                                  string
}

// Key builds the tuple's idempotency key.
func (rt *RelationTuple) Key() IdempotencyKey {
	return IdempotencyKey{
		SubjectType:     rt.Subject.Type,
		SubjectID:       rt.Subject.ID,
		SubjectRelation: rt.Subject.Relation,
		Relation:        rt.Relation,
		ObjectType:      rt.Object.Type,
		ObjectID:        rt.Object.ID,
		ZoneID:          rt.ZoneID,
	}
}

// FromWire converts the JSON wire form into the repository's internal
// representation. A blank TupleID is fine for inserts (one is assigned);
// a non-blank one must parse as a UUID.
func FromWire(w *ketoapi.RelationTuple) (*RelationTuple, error) {
	rt := &RelationTuple{
		Subject:       w.Subject,
		Relation:      w.Relation,
		Object:        w.Object,
		ZoneID:        w.ZoneID,
		SubjectZoneID: w.SubjectZoneID,
		ObjectZoneID:  w.ObjectZoneID,
		Conditions:    w.Conditions,
		ExpiresAt:     w.ExpiresAt,
		CreatedAt:     w.CreatedAt,
	}
	if w.SubjectZoneID == "" {
		rt.SubjectZoneID = w.ZoneID
	}
	if w.ObjectZoneID == "" {
		rt.ObjectZoneID = w.ZoneID
	}
	if w.TupleID != "" {
		id, err := uuid.FromString(w.TupleID)
		if err != nil {
			return nil, err
		}
		rt.TupleID = id
	}
	return rt, nil
}

// ToWire converts the internal representation back to the JSON wire form.
func (rt *RelationTuple) ToWire() *ketoapi.RelationTuple {
	return &ketoapi.RelationTuple{
		TupleID:       rt.TupleID.String(),
		Subject:       rt.Subject,
		Relation:      rt.Relation,
		Object:        rt.Object,
		ZoneID:        rt.ZoneID,
		SubjectZoneID: rt.SubjectZoneID,
		ObjectZoneID:  rt.ObjectZoneID,
		Conditions:    rt.Conditions,
		ExpiresAt:     rt.ExpiresAt,
		CreatedAt:     rt.CreatedAt,
	}
}
