// Package check is the Permission Computer (spec.md §4.3): the recursive
// graph traversal that decides whether (subject, permission, object) holds
// in a zone, given a Repository and a Namespace Registry. It owns no
// storage and no caching of its own — internal/cache and internal/bulk
// wrap it for speed, internal/manager wraps it for the public surface.
package check

import (
	"context"
	"fmt"

	"github.com/nexus-rebac/rebac/internal/driver/config"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// Repository is the subset of *relationtuple.Repository the Computer
// needs, kept as an interface so tests and internal/bulk's in-memory
// prefetch graph can both satisfy it (spec.md §4.6 "run the same
// algorithm... against the prefetched tuple graph").
type Repository interface {
	FindDirectTuple(ctx context.Context, subject ketoapi.Subject, relation string, object ketoapi.Entity, zoneID string) (*relationtuple.RelationTuple, error)
	FindSubjectSets(ctx context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Subject, error)
	FindRelatedObjects(ctx context.Context, subject ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error)
	FindSubjectsWithRelation(ctx context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error)
}

// Deps bundles the Computer's dependencies, grounded on dbtek-keto's
// engine_test.go `deps` struct (`*relationtuple.ManagerWrapper` +
// `configProvider` + `loggerProvider` composed via embedding) — Nexus
// spells the equivalent out as an explicit interface rather than an
// embedded-struct mixin, per spec.md §9's redesign note preferring
// constructor injection over mixins.
type Deps interface {
	RelationTupleRepository() Repository
	NamespaceRegistry() *namespace.Registry
	Config() config.Provider
}

// defaultMaxDepth is used only if a Deps implementation's Config() is nil,
// which should not happen outside of tests.
const defaultMaxDepth = 10

// Computer evaluates permission/relation checks via Zanzibar-style graph
// traversal (spec.md §4.3).
type Computer struct {
	repo     Repository
	registry *namespace.Registry
	cfg      config.Provider
}

// NewEngine builds a Computer from d, mirroring dbtek-keto's
// `check.NewEngine(reg)` constructor shape.
func NewEngine(d Deps) *Computer {
	return &Computer{
		repo:     d.RelationTupleRepository(),
		registry: d.NamespaceRegistry(),
		cfg:      d.Config(),
	}
}

// Request is one (subject, permission, object) check in a zone, with
// optional ABAC context.
type Request struct {
	Subject    ketoapi.Subject
	Permission string
	Object     ketoapi.Entity
	ZoneID     string
	Context    *ketoapi.Context
}

// CheckIsMember decides whether req holds, bounded by the smaller of
// reqMaxDepth (0 means "unset, defer to global") and the configured
// global max read depth — reqMaxDepth never loosens the global ceiling,
// it can only tighten it (spec.md §4.3 step 1, and matches dbtek-keto's
// engine_test.go "respects max depth" precedence rules).
func (c *Computer) CheckIsMember(ctx context.Context, req *Request, reqMaxDepth int) (bool, error) {
	maxDepth := c.maxReadDepth()
	if reqMaxDepth > 0 && reqMaxDepth < maxDepth {
		maxDepth = reqMaxDepth
	}
	return c.compute(ctx, req.Subject, req.Permission, req.Object, req.ZoneID, map[string]bool{}, 0, maxDepth, req.Context)
}

func (c *Computer) maxReadDepth() int {
	if c.cfg == nil {
		return defaultMaxDepth
	}
	return c.cfg.MaxReadDepth()
}

// Memo is an optional shared sub-result cache a caller can attach to a
// context via WithMemo. When present, compute consults it before
// recursing into a (subject, permission, object) sub-problem and
// populates it after resolving — letting many top-level CheckIsMember
// calls against the same prefetched graph avoid re-walking shared
// sub-problems (internal/bulk's batch-wide "shared memo cache").
type Memo interface {
	Get(key string) (result bool, ok bool)
	Set(key string, result bool)
}

type memoContextKey struct{}

// WithMemo attaches memo to ctx for the duration of a CheckIsMember call
// (and everything it recurses into).
func WithMemo(ctx context.Context, memo Memo) context.Context {
	return context.WithValue(ctx, memoContextKey{}, memo)
}

func memoFromContext(ctx context.Context) Memo {
	m, _ := ctx.Value(memoContextKey{}).(Memo)
	return m
}

// compute implements spec.md §4.3's 7-step algorithm.
func (c *Computer) compute(
	ctx context.Context,
	subject ketoapi.Subject,
	perm string,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, error) {
	// Step 1: explicit deny on depth-limit exceeded, never allow.
	if depth > maxDepth {
		return false, nil
	}

	// Step 2/3: cycle detection via a per-branch visited set.
	key := visitKey(subject, perm, obj)
	if visited[key] {
		return false, nil
	}

	memo := memoFromContext(ctx)
	if memo != nil {
		if v, ok := memo.Get(key); ok {
			return v, nil
		}
	}

	visited = copyVisited(visited)
	visited[key] = true

	result, err := c.computeBody(ctx, subject, perm, obj, zoneID, visited, depth, maxDepth, actx)
	if err == nil && memo != nil {
		memo.Set(key, result)
	}
	return result, err
}

// computeBody is steps 4-7 of compute, split out so compute itself can
// wrap it with the depth/cycle checks and the optional Memo short-circuit
// above without duplicating either.
func (c *Computer) computeBody(
	ctx context.Context,
	subject ketoapi.Subject,
	perm string,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, error) {
	// Step 4: resolve namespace; absent namespace degrades to a direct check.
	ns := c.registry.Get(obj.Type)
	if ns == nil {
		return c.directCheck(ctx, subject, perm, obj, zoneID, visited, depth, maxDepth, actx)
	}

	// Step 5: declared permissions expand into usersets; first success wins.
	if ns.HasPermission(perm) {
		for _, us := range ns.GetPermissionUsersets(perm) {
			ok, err := c.evalUserset(ctx, subject, us, obj, zoneID, visited, depth, maxDepth, actx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	// Step 6: relation with an operator (legacy path) or step 7 direct check.
	switch {
	case ns.HasUnion(perm):
		for _, rel := range ns.GetUnionRelations(perm) {
			ok, err := c.compute(ctx, subject, rel, obj, zoneID, visited, depth+1, maxDepth, actx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case ns.HasIntersection(perm):
		for _, rel := range ns.GetIntersectionRelations(perm) {
			ok, err := c.compute(ctx, subject, rel, obj, zoneID, visited, depth+1, maxDepth, actx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case ns.HasExclusion(perm):
		excl := ns.GetExclusion(perm)
		if excl == nil {
			return false, nil
		}
		included, err := c.compute(ctx, subject, excl.Include, obj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil || !included {
			return false, err
		}
		excluded, err := c.compute(ctx, subject, excl.Exclude, obj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, err
		}
		return !excluded, nil

	case ns.HasTupleToUserset(perm):
		return c.evalTupleToUserset(ctx, subject, ns.GetTupleToUserset(perm), obj, zoneID, visited, depth, maxDepth, actx)

	default:
		// Declared as "this" (or undeclared): fall through to a direct check.
		return c.directCheck(ctx, subject, perm, obj, zoneID, visited, depth, maxDepth, actx)
	}
}

func (c *Computer) evalUserset(
	ctx context.Context,
	subject ketoapi.Subject,
	us namespace.Userset,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, error) {
	if us.IsTupleToUserset() {
		return c.evalTupleToUserset(ctx, subject, us.TupleToUserset, obj, zoneID, visited, depth, maxDepth, actx)
	}
	return c.compute(ctx, subject, us.Relation, obj, zoneID, visited, depth+1, maxDepth, actx)
}

// evalTupleToUserset tries both traversal patterns (parent then group) and
// returns true on the first to succeed (spec.md §4.3 step 6,
// tupleToUserset).
func (c *Computer) evalTupleToUserset(
	ctx context.Context,
	subject ketoapi.Subject,
	ttu *namespace.TupleToUsersetDef,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, error) {
	if ttu == nil {
		return false, nil
	}

	relatedObjects, err := c.repo.FindRelatedObjects(ctx, obj, ttu.Tupleset, zoneID)
	if err != nil {
		return false, err
	}
	for _, relObj := range relatedObjects {
		ok, err := c.compute(ctx, subject, ttu.ComputedUserset, relObj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	relatedSubjects, err := c.repo.FindSubjectsWithRelation(ctx, obj, ttu.Tupleset, zoneID)
	if err != nil {
		return false, err
	}
	for _, relSubj := range relatedSubjects {
		ok, err := c.compute(ctx, subject, ttu.ComputedUserset, relSubj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

func visitKey(subject ketoapi.Subject, perm string, obj ketoapi.Entity) string {
	return fmt.Sprintf("%s|%s|%s", subject.String(), perm, obj.String())
}

func copyVisited(v map[string]bool) map[string]bool {
	out := make(map[string]bool, len(v)+1)
	for k := range v {
		out[k] = true
	}
	return out
}
