package check

import (
	"context"
	"time"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// directCheck scans, in order, per spec.md §4.3:
//
//	(a) exact concrete tuple in-zone
//	(b)+(c) wildcard (*,*) — collapsed into one query because Nexus tuples
//	    carry a single zone_id rather than a nullable "global" zone, so the
//	    in-zone and cross-zone wildcard lookups the original traversal
//	    issued separately are the same query here (SPEC_FULL.md §9)
//	(d) userset-as-subject grants, recursively
//
// Any ABAC conditions on a matching tuple must evaluate true, else that
// candidate is skipped rather than treated as a match.
func (c *Computer) directCheck(
	ctx context.Context,
	subject ketoapi.Subject,
	relation string,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, error) {
	if depth > maxDepth {
		return false, nil
	}

	// (a) exact concrete tuple.
	t, err := c.repo.FindDirectTuple(ctx, subject, relation, obj, zoneID)
	if err != nil {
		return false, err
	}
	if tupleGrants(t, actx) {
		return true, nil
	}

	// (b)+(c) wildcard / cross-zone wildcard.
	if !subject.IsWildcard() {
		wt, err := c.repo.FindDirectTuple(ctx, ketoapi.Subject{Entity: ketoapi.Wildcard}, relation, obj, zoneID)
		if err != nil {
			return false, err
		}
		if tupleGrants(wt, actx) {
			return true, nil
		}
	}

	// (d) userset-as-subject: any subject-set granted relation on obj whose
	// membership the caller satisfies also grants the relation.
	sets, err := c.repo.FindSubjectSets(ctx, obj, relation, zoneID)
	if err != nil {
		return false, err
	}
	for _, set := range sets {
		if !set.IsUserset() {
			continue
		}
		key := visitKey(subject, "direct:"+relation+">"+set.String(), obj)
		if visited[key] {
			continue
		}
		branchVisited := copyVisited(visited)
		branchVisited[key] = true

		ok, err := c.directCheck(ctx, subject, set.Relation, set.Entity, zoneID, branchVisited, depth+1, maxDepth, actx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

func tupleGrants(t *relationtuple.RelationTuple, actx *ketoapi.Context) bool {
	if t == nil {
		return false
	}
	if t.IsExpired(time.Now()) {
		return false
	}
	if t.Conditions != nil && !t.Conditions.Empty() && !relationtuple.ConditionsSatisfied(t.Conditions, actx) {
		return false
	}
	return true
}
