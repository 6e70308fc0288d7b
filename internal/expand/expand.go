// Package expand answers the inverse of internal/check: instead of "does
// this subject hold this permission," it finds every concrete subject that
// does (spec.md §4.3 "expand(permission, object, zone) -> [subject]", used
// for share-list UIs). Grounded on
// original_source/src/nexus/core/rebac_manager_zone_aware.py's
// _expand_permission_zone_aware, generalized from its union/tupleToUserset
// walk (the original never handles intersection/exclusion in expand) to
// cover the full operator set by treating expand as the set-algebra mirror
// of check.Computer's boolean compute: union is a set union, intersection
// a set intersection, exclusion a set difference.
package expand

import (
	"context"

	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// Repository is the subset of relationtuple.Repository Expander needs.
// Satisfied directly by *relationtuple.Repository.
type Repository interface {
	FindSubjectSets(ctx context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Subject, error)
	FindRelatedObjects(ctx context.Context, subject ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error)
}

// Expander expands permissions into their granted subject sets.
type Expander struct {
	repo     Repository
	registry *namespace.Registry
	maxDepth int
}

// New builds an Expander. maxDepth bounds recursion exactly like
// check.Computer's max read depth; 0 or less falls back to 10.
func New(repo Repository, registry *namespace.Registry, maxDepth int) *Expander {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Expander{repo: repo, registry: registry, maxDepth: maxDepth}
}

// Expand returns every concrete subject entity granted permission on obj
// in zoneID, deduplicated, in no particular order.
func (e *Expander) Expand(ctx context.Context, permission string, obj ketoapi.Entity, zoneID string) ([]ketoapi.Entity, error) {
	set, err := e.expand(ctx, permission, obj, zoneID, map[string]bool{}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ketoapi.Entity, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out, nil
}

func (e *Expander) expand(ctx context.Context, permission string, obj ketoapi.Entity, zoneID string, visited map[string]bool, depth int) (map[ketoapi.Entity]struct{}, error) {
	if depth > e.maxDepth {
		return nil, nil
	}
	key := permission + "|" + obj.String()
	if visited[key] {
		return nil, nil
	}
	visited = copyVisited(visited)
	visited[key] = true

	ns := e.registry.Get(obj.Type)
	if ns == nil {
		return e.directSubjects(ctx, permission, obj, zoneID, visited, depth)
	}

	if ns.HasPermission(permission) {
		out := make(map[ketoapi.Entity]struct{})
		for _, us := range ns.GetPermissionUsersets(permission) {
			sub, err := e.expandUserset(ctx, us, obj, zoneID, visited, depth)
			if err != nil {
				return nil, err
			}
			union(out, sub)
		}
		return out, nil
	}

	switch {
	case ns.HasUnion(permission):
		out := make(map[ketoapi.Entity]struct{})
		for _, rel := range ns.GetUnionRelations(permission) {
			sub, err := e.expand(ctx, rel, obj, zoneID, visited, depth+1)
			if err != nil {
				return nil, err
			}
			union(out, sub)
		}
		return out, nil

	case ns.HasIntersection(permission):
		rels := ns.GetIntersectionRelations(permission)
		if len(rels) == 0 {
			return nil, nil
		}
		out, err := e.expand(ctx, rels[0], obj, zoneID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels[1:] {
			sub, err := e.expand(ctx, rel, obj, zoneID, visited, depth+1)
			if err != nil {
				return nil, err
			}
			out = intersect(out, sub)
		}
		return out, nil

	case ns.HasExclusion(permission):
		excl := ns.GetExclusion(permission)
		if excl == nil {
			return nil, nil
		}
		included, err := e.expand(ctx, excl.Include, obj, zoneID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		excluded, err := e.expand(ctx, excl.Exclude, obj, zoneID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		return subtract(included, excluded), nil

	case ns.HasTupleToUserset(permission):
		return e.expandTupleToUserset(ctx, ns.GetTupleToUserset(permission), obj, zoneID, visited, depth)

	default:
		return e.directSubjects(ctx, permission, obj, zoneID, visited, depth)
	}
}

func (e *Expander) expandUserset(ctx context.Context, us namespace.Userset, obj ketoapi.Entity, zoneID string, visited map[string]bool, depth int) (map[ketoapi.Entity]struct{}, error) {
	if us.IsTupleToUserset() {
		return e.expandTupleToUserset(ctx, us.TupleToUserset, obj, zoneID, visited, depth)
	}
	return e.expand(ctx, us.Relation, obj, zoneID, visited, depth+1)
}

func (e *Expander) expandTupleToUserset(ctx context.Context, ttu *namespace.TupleToUsersetDef, obj ketoapi.Entity, zoneID string, visited map[string]bool, depth int) (map[ketoapi.Entity]struct{}, error) {
	if ttu == nil {
		return nil, nil
	}
	related, err := e.repo.FindRelatedObjects(ctx, obj, ttu.Tupleset, zoneID)
	if err != nil {
		return nil, err
	}
	out := make(map[ketoapi.Entity]struct{})
	for _, relObj := range related {
		sub, err := e.expand(ctx, ttu.ComputedUserset, relObj, zoneID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		union(out, sub)
	}
	return out, nil
}

// directSubjects resolves a relation with no namespace-level expansion:
// concrete subjects are added as-is, userset subjects are recursively
// expanded against their own (relation, object) pair.
func (e *Expander) directSubjects(ctx context.Context, relation string, obj ketoapi.Entity, zoneID string, visited map[string]bool, depth int) (map[ketoapi.Entity]struct{}, error) {
	sets, err := e.repo.FindSubjectSets(ctx, obj, relation, zoneID)
	if err != nil {
		return nil, err
	}
	out := make(map[ketoapi.Entity]struct{})
	for _, s := range sets {
		if s.Entity.IsWildcard() {
			continue
		}
		if !s.IsUserset() {
			out[s.Entity] = struct{}{}
			continue
		}
		sub, err := e.expand(ctx, s.Relation, s.Entity, zoneID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		union(out, sub)
	}
	return out, nil
}

func union(dst, src map[ketoapi.Entity]struct{}) {
	for e := range src {
		dst[e] = struct{}{}
	}
}

func intersect(a, b map[ketoapi.Entity]struct{}) map[ketoapi.Entity]struct{} {
	out := make(map[ketoapi.Entity]struct{})
	for e := range a {
		if _, ok := b[e]; ok {
			out[e] = struct{}{}
		}
	}
	return out
}

func subtract(a, b map[ketoapi.Entity]struct{}) map[ketoapi.Entity]struct{} {
	out := make(map[ketoapi.Entity]struct{})
	for e := range a {
		if _, ok := b[e]; !ok {
			out[e] = struct{}{}
		}
	}
	return out
}

func copyVisited(v map[string]bool) map[string]bool {
	out := make(map[string]bool, len(v)+1)
	for k := range v {
		out[k] = true
	}
	return out
}
