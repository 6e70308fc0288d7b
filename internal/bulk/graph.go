package bulk

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// parentRelation is the synthesized relation connecting a filesystem entry
// to its containing directory, mirroring bulk_checker.py's in-memory
// "parent" tuples computed from ancestor paths rather than fetched from
// storage.
const parentRelation = relationtuple.ParentRelation

// entitiesOf collects every distinct subject/object entity referenced by
// triples, plus (for "file"-typed objects with a "/"-rooted id) every
// ancestor directory, so a single prefetch covers the whole parent chain
// a tupleToUserset traversal might walk.
func entitiesOf(triples []Triple) []ketoapi.Entity {
	seen := make(map[ketoapi.Entity]struct{})
	add := func(e ketoapi.Entity) {
		if !e.Empty() {
			seen[e] = struct{}{}
		}
	}

	for _, t := range triples {
		add(t.Subject.Entity)
		add(t.Object)
		if t.Object.Type == "file" && strings.Contains(t.Object.ID, "/") {
			for _, ancestor := range ancestorPaths(t.Object.ID) {
				add(ketoapi.Entity{Type: "file", ID: ancestor})
			}
		}
	}

	out := make([]ketoapi.Entity, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out
}

// ancestorPaths returns every proper ancestor directory of an absolute
// POSIX path, root first: "/a/b/c" -> ["/a", "/a/b"]. Mirrors
// bulk_checker.py's ancestor-path loop used to synthesize parent edges
// for file hierarchy checks.
func ancestorPaths(p string) []string {
	if !strings.HasPrefix(p, "/") {
		return nil
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	var out []string
	for i := 1; i < len(parts); i++ {
		out = append(out, "/"+strings.Join(parts[:i], "/"))
	}
	return out
}

// synthesizeParentTuples builds the in-memory "parent" tuples connecting
// every file object (including its synthesized ancestors) to its
// immediate containing directory, so a tupleToUserset rewrite over
// "parent" resolves without a dedicated fetch.
func synthesizeParentTuples(objects []ketoapi.Entity, zoneID string) []*relationtuple.RelationTuple {
	var out []*relationtuple.RelationTuple
	for _, o := range objects {
		if o.Type != "file" || !strings.HasPrefix(o.ID, "/") {
			continue
		}
		parent := path.Dir(o.ID)
		if parent == o.ID || parent == "." {
			continue
		}
		out = append(out, &relationtuple.RelationTuple{
			Subject:  ketoapi.Subject{Entity: o},
			Relation: parentRelation,
			Object:   ketoapi.Entity{Type: "file", ID: parent},
			ZoneID:   zoneID,
		})
	}
	return out
}

// graphRepository answers check.Repository queries against an in-memory
// slice of prefetched tuples instead of the database — spec.md §4.6 Phase
// 2's "run the same algorithm... against the prefetched tuple graph".
type graphRepository struct {
	tuples []*relationtuple.RelationTuple
}

func newGraphRepository(tuples []*relationtuple.RelationTuple) *graphRepository {
	return &graphRepository{tuples: tuples}
}

func (g *graphRepository) FindDirectTuple(_ context.Context, subject ketoapi.Subject, relation string, object ketoapi.Entity, zoneID string) (*relationtuple.RelationTuple, error) {
	now := time.Now()
	for _, t := range g.tuples {
		if t.ZoneID != zoneID || t.Relation != relation || t.Object != object || t.Subject != subject {
			continue
		}
		if t.IsExpired(now) {
			continue
		}
		return t, nil
	}
	return nil, nil
}

func (g *graphRepository) FindSubjectSets(_ context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Subject, error) {
	var out []ketoapi.Subject
	for _, t := range g.tuples {
		if t.ZoneID == zoneID && t.Relation == relation && t.Object == object {
			out = append(out, t.Subject)
		}
	}
	return out, nil
}

func (g *graphRepository) FindRelatedObjects(_ context.Context, subject ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error) {
	var out []ketoapi.Entity
	for _, t := range g.tuples {
		if t.ZoneID == zoneID && t.Relation == relation && t.Subject.Entity == subject && !t.Subject.IsUserset() {
			out = append(out, t.Object)
		}
	}
	return out, nil
}

func (g *graphRepository) FindSubjectsWithRelation(_ context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error) {
	var out []ketoapi.Entity
	for _, t := range g.tuples {
		if t.ZoneID == zoneID && t.Relation == relation && t.Object == object && !t.Subject.IsUserset() {
			out = append(out, t.Subject.Entity)
		}
	}
	return out, nil
}
