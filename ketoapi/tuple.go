package ketoapi

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RelationTuple is the wire representation of a relationship tuple, per
// spec.md §6. Internal packages (relationtuple.RelationTuple) use UUIDs
// and compiled subject types; this is the JSON-facing shape callers
// actually send and receive.
type RelationTuple struct {
	TupleID   string     `json:"tuple_id,omitempty"`
	Subject   Subject    `json:"subject"`
	Relation  string     `json:"relation"`
	Object    Entity     `json:"object"`
	ZoneID    string     `json:"zone_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Conditions *Conditions `json:"conditions,omitempty"`

	SubjectZoneID string `json:"subject_zone_id,omitempty"`
	ObjectZoneID  string `json:"object_zone_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ErrInvalidTupleString is returned by FromString when the compact
// "namespace:object#relation@subject" form is malformed.
var ErrInvalidTupleString = errors.New("ketoapi: invalid relation tuple string")

// FromString parses the keto-style compact form:
//
//	namespace:object#relation@subject_id
//	namespace:object#relation@namespace:subject_object#subject_relation
//
// This is the format the teacher's test fixtures (engine_test.go) and
// tupleFromString helper build from; Nexus keeps it as a developer/CLI
// convenience on top of the zone-qualified JSON wire format.
func (RelationTuple) FromString(s string) (*RelationTuple, error) {
	nsObj, rest, ok := strings.Cut(s, "#")
	if !ok {
		return nil, errors.WithStack(ErrInvalidTupleString)
	}
	namespace, object, ok := strings.Cut(nsObj, ":")
	if !ok {
		return nil, errors.WithStack(ErrInvalidTupleString)
	}
	relation, subjectRaw, ok := strings.Cut(rest, "@")
	if !ok {
		return nil, errors.WithStack(ErrInvalidTupleString)
	}

	rt := &RelationTuple{
		Object:   Entity{Type: namespace, ID: object},
		Relation: relation,
	}

	if subNs, subRest, ok := strings.Cut(subjectRaw, ":"); ok {
		subObj, subRel, _ := strings.Cut(subRest, "#")
		rt.Subject = Subject{Entity: Entity{Type: subNs, ID: subObj}, Relation: subRel}
	} else {
		rt.Subject = Subject{Entity: Entity{ID: subjectRaw}}
	}
	return rt, nil
}
