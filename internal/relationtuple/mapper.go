package relationtuple

import (
	"github.com/pkg/errors"

	"github.com/nexus-rebac/rebac/ketoapi"
)

// Mapper converts between the wire representation (ketoapi.RelationTuple,
// used at the HTTP boundary) and the internal RelationTuple the Repository
// persists. Grounded on dbtek-keto's h.d.Mapper() dependency, which the
// transact handler calls before writing
// (_examples/dbtek-keto/internal/relationtuple/transact_server.go).
type Mapper struct {
	defaultZone string
}

// NewMapper builds a Mapper that fills defaultZone onto any wire tuple
// that omits ZoneID, matching single-tenant deployments where zones are
// optional.
func NewMapper(defaultZone string) *Mapper {
	return &Mapper{defaultZone: defaultZone}
}

// FromWire converts a wire tuple into the internal representation,
// defaulting its zone and validating required fields.
func (m *Mapper) FromWire(w *ketoapi.RelationTuple) (*RelationTuple, error) {
	if w.ZoneID == "" {
		w.ZoneID = m.defaultZone
	}
	t, err := FromWire(w)
	if err != nil {
		return nil, errors.Wrap(err, "mapper: converting wire tuple")
	}
	if t.Relation == "" {
		return nil, errors.New("mapper: relation is required")
	}
	if t.Object.Type == "" || t.Object.ID == "" {
		return nil, errors.New("mapper: object is required")
	}
	if t.Subject.Type == "" || t.Subject.ID == "" {
		return nil, errors.New("mapper: subject is required")
	}
	return t, nil
}

// ToWire converts a batch of internal tuples back to their wire form, used
// when returning query/expand results over HTTP.
func (m *Mapper) ToWire(ts []*RelationTuple) []*ketoapi.RelationTuple {
	out := make([]*ketoapi.RelationTuple, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ToWire())
	}
	return out
}
