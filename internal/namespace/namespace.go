// Package namespace holds the Namespace Registry (spec.md §4.2): per
// object-type schemas describing which relations exist and how
// permissions expand into usersets via union/intersection/exclusion/
// tupleToUserset operators.
//
// Schema loading translates the wire JSON/YAML once into this package's
// tagged sum types (RelationDef, Userset) rather than leaving callers to
// re-interpret raw maps on every check — see spec.md §9's note on
// replacing runtime reflection with tagged sum types compiled once at
// load time.
package namespace

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ExclusionDef implements "include AND NOT exclude".
type ExclusionDef struct {
	Include string `json:"include"`
	Exclude string `json:"exclude"`
}

// TupleToUsersetDef implements the indirect "find tuples where object is
// the subject via Tupleset, then check ComputedUserset on each result"
// operator.
type TupleToUsersetDef struct {
	Tupleset        string `json:"tupleset"`
	ComputedUserset string `json:"computedUserset"`
}

// relationKind tags which operator a RelationDef holds.
type relationKind int

const (
	kindThis relationKind = iota
	kindUnion
	kindIntersection
	kindExclusion
	kindTupleToUserset
)

// RelationDef is exactly one of: this, union, intersection, exclusion, or
// tupleToUserset, per spec.md §3.
type RelationDef struct {
	kind           relationKind
	union          []string
	intersection   []string
	exclusion      *ExclusionDef
	tupleToUserset *TupleToUsersetDef
}

// UnmarshalJSON decodes one of the five operator shapes from §6:
//
//	{"this":{}}
//	{"union":["r1","r2"]}
//	{"intersection":["r1","r2"]}
//	{"exclusion":{"include":"r1","exclude":"r2"}}
//	{"tupleToUserset":{"tupleset":"parent","computedUserset":"read"}}
func (d *RelationDef) UnmarshalJSON(data []byte) error {
	var raw struct {
		This           *struct{}           `json:"this"`
		Union          []string            `json:"union"`
		Intersection   []string            `json:"intersection"`
		Exclusion      *ExclusionDef       `json:"exclusion"`
		TupleToUserset *TupleToUsersetDef  `json:"tupleToUserset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "namespace: decoding relation definition")
	}
	switch {
	case raw.This != nil:
		d.kind = kindThis
	case raw.Union != nil:
		d.kind = kindUnion
		d.union = raw.Union
	case raw.Intersection != nil:
		d.kind = kindIntersection
		d.intersection = raw.Intersection
	case raw.Exclusion != nil:
		d.kind = kindExclusion
		d.exclusion = raw.Exclusion
	case raw.TupleToUserset != nil:
		d.kind = kindTupleToUserset
		d.tupleToUserset = raw.TupleToUserset
	default:
		d.kind = kindThis
	}
	return nil
}

// Userset is one entry in a permission's userset list: either a plain
// relation/permission name, or an inline tupleToUserset operator (the only
// operator spec.md §6 shows nested directly inside a permissions list).
type Userset struct {
	Relation       string
	TupleToUserset *TupleToUsersetDef
}

// IsTupleToUserset reports whether this userset entry is an inline
// tupleToUserset operator rather than a plain relation name.
func (u Userset) IsTupleToUserset() bool {
	return u.TupleToUserset != nil
}

// UnmarshalJSON accepts either a bare string ("viewer") or an operator
// object ({"tupleToUserset": {...}}).
func (u *Userset) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		u.Relation = asString
		return nil
	}
	var asOperator struct {
		TupleToUserset *TupleToUsersetDef `json:"tupleToUserset"`
	}
	if err := json.Unmarshal(data, &asOperator); err != nil {
		return errors.Wrap(err, "namespace: decoding userset entry")
	}
	u.TupleToUserset = asOperator.TupleToUserset
	return nil
}

// Config is a single object type's compiled namespace schema: its
// relations and the permissions map built from them. Permissions take
// precedence over same-named relations, per spec.md §3.
type Config struct {
	ObjectType  string
	Relations   map[string]RelationDef
	Permissions map[string][]Userset
}

// wireConfig is the raw JSON/YAML shape a schema author writes, per
// spec.md §6.
type wireConfig struct {
	Relations   map[string]RelationDef `json:"relations"`
	Permissions map[string][]Userset   `json:"permissions"`
}

// Parse compiles a single object type's raw schema bytes (JSON, or YAML
// already normalized to JSON by sigs.k8s.io/yaml) into a Config.
func Parse(objectType string, raw []byte) (*Config, error) {
	var wire wireConfig
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrapf(err, "namespace: parsing schema for %q", objectType)
	}
	return &Config{
		ObjectType:  objectType,
		Relations:   wire.Relations,
		Permissions: wire.Permissions,
	}, nil
}

// HasPermission reports whether name is declared in the permissions map.
// Permissions take precedence over same-named relations (spec.md §3).
func (c *Config) HasPermission(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Permissions[name]
	return ok
}

// GetPermissionUsersets returns the usersets that satisfy permission name;
// the permission holds if any one of them grants it.
func (c *Config) GetPermissionUsersets(name string) []Userset {
	if c == nil {
		return nil
	}
	return c.Permissions[name]
}

// GetRelationConfig returns the relation definition for name, if declared.
func (c *Config) GetRelationConfig(name string) (RelationDef, bool) {
	if c == nil {
		return RelationDef{}, false
	}
	def, ok := c.Relations[name]
	return def, ok
}

// HasUnion reports whether relation name is a union operator.
func (c *Config) HasUnion(name string) bool {
	def, ok := c.GetRelationConfig(name)
	return ok && def.kind == kindUnion
}

// GetUnionRelations returns the member relations of a union operator.
func (c *Config) GetUnionRelations(name string) []string {
	def, _ := c.GetRelationConfig(name)
	return def.union
}

// HasIntersection reports whether relation name is an intersection operator.
func (c *Config) HasIntersection(name string) bool {
	def, ok := c.GetRelationConfig(name)
	return ok && def.kind == kindIntersection
}

// GetIntersectionRelations returns the member relations of an intersection
// operator.
func (c *Config) GetIntersectionRelations(name string) []string {
	def, _ := c.GetRelationConfig(name)
	return def.intersection
}

// HasExclusion reports whether relation name is an exclusion operator.
func (c *Config) HasExclusion(name string) bool {
	def, ok := c.GetRelationConfig(name)
	return ok && def.kind == kindExclusion
}

// GetExclusion returns the include/exclude pair of an exclusion operator.
func (c *Config) GetExclusion(name string) *ExclusionDef {
	def, _ := c.GetRelationConfig(name)
	return def.exclusion
}

// HasTupleToUserset reports whether relation name is a tupleToUserset
// operator.
func (c *Config) HasTupleToUserset(name string) bool {
	def, ok := c.GetRelationConfig(name)
	return ok && def.kind == kindTupleToUserset
}

// GetTupleToUserset returns the tupleset/computedUserset pair of a
// tupleToUserset operator.
func (c *Config) GetTupleToUserset(name string) *TupleToUsersetDef {
	def, _ := c.GetRelationConfig(name)
	return def.tupleToUserset
}
