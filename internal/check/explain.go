package check

import (
	"context"
	"fmt"

	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// PathNode is one visited node in an explanation tree: which branch of the
// algorithm was explored at this point, whether it granted, and why.
// Explanation mode runs the same traversal as compute but accumulates
// these instead of short-circuiting on the boolean alone (spec.md §4.3
// "Explanation mode").
type PathNode struct {
	Subject    string
	Permission string
	Object     string
	Depth      int
	Granted    bool
	Reason     string
	Children   []*PathNode
}

// ExplainIsMember runs the same algorithm as CheckIsMember but returns the
// first granting path found, or the root node of the fully-explored (and
// denying) tree if none granted. Determinism matches CheckIsMember:
// usersets then operators then direct, first successful path wins.
func (c *Computer) ExplainIsMember(ctx context.Context, req *Request, reqMaxDepth int) (bool, *PathNode, error) {
	maxDepth := c.maxReadDepth()
	if reqMaxDepth > 0 && reqMaxDepth < maxDepth {
		maxDepth = reqMaxDepth
	}
	return c.explain(ctx, req.Subject, req.Permission, req.Object, req.ZoneID, map[string]bool{}, 0, maxDepth, req.Context)
}

func (c *Computer) explain(
	ctx context.Context,
	subject ketoapi.Subject,
	perm string,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, *PathNode, error) {
	node := &PathNode{Subject: subject.String(), Permission: perm, Object: obj.String(), Depth: depth}

	if depth > maxDepth {
		node.Reason = fmt.Sprintf("depth limit exceeded (max=%d)", maxDepth)
		return false, node, nil
	}

	key := visitKey(subject, perm, obj)
	if visited[key] {
		node.Reason = "cycle detected"
		return false, node, nil
	}
	visited = copyVisited(visited)
	visited[key] = true

	ns := c.registry.Get(obj.Type)
	if ns == nil {
		granted, err := c.directCheck(ctx, subject, perm, obj, zoneID, visited, depth, maxDepth, actx)
		node.Granted = granted
		node.Reason = directReason(granted)
		return granted, node, err
	}

	if ns.HasPermission(perm) {
		node.Reason = "expands via declared permission"
		for _, us := range ns.GetPermissionUsersets(perm) {
			granted, child, err := c.explainUserset(ctx, subject, us, obj, zoneID, visited, depth, maxDepth, actx)
			if err != nil {
				return false, node, err
			}
			node.Children = append(node.Children, child)
			if granted {
				node.Granted = true
				return true, node, nil
			}
		}
		return false, node, nil
	}

	switch {
	case ns.HasUnion(perm):
		node.Reason = "union of relations"
		for _, rel := range ns.GetUnionRelations(perm) {
			granted, child, err := c.explain(ctx, subject, rel, obj, zoneID, visited, depth+1, maxDepth, actx)
			if err != nil {
				return false, node, err
			}
			node.Children = append(node.Children, child)
			if granted {
				node.Granted = true
				return true, node, nil
			}
		}
		return false, node, nil

	case ns.HasIntersection(perm):
		node.Reason = "intersection of relations"
		allGranted := true
		for _, rel := range ns.GetIntersectionRelations(perm) {
			granted, child, err := c.explain(ctx, subject, rel, obj, zoneID, visited, depth+1, maxDepth, actx)
			if err != nil {
				return false, node, err
			}
			node.Children = append(node.Children, child)
			if !granted {
				allGranted = false
				break
			}
		}
		node.Granted = allGranted
		return allGranted, node, nil

	case ns.HasExclusion(perm):
		excl := ns.GetExclusion(perm)
		node.Reason = "exclusion (include and not exclude)"
		if excl == nil {
			return false, node, nil
		}
		includedOK, includedNode, err := c.explain(ctx, subject, excl.Include, obj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, node, err
		}
		node.Children = append(node.Children, includedNode)
		if !includedOK {
			return false, node, nil
		}
		excludedOK, excludedNode, err := c.explain(ctx, subject, excl.Exclude, obj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, node, err
		}
		node.Children = append(node.Children, excludedNode)
		node.Granted = !excludedOK
		return node.Granted, node, nil

	case ns.HasTupleToUserset(perm):
		return c.explainTupleToUserset(ctx, subject, ns.GetTupleToUserset(perm), obj, zoneID, visited, depth, maxDepth, actx, node)

	default:
		granted, err := c.directCheck(ctx, subject, perm, obj, zoneID, visited, depth, maxDepth, actx)
		node.Granted = granted
		node.Reason = directReason(granted)
		return granted, node, err
	}
}

func (c *Computer) explainUserset(
	ctx context.Context,
	subject ketoapi.Subject,
	us namespace.Userset,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
) (bool, *PathNode, error) {
	if us.IsTupleToUserset() {
		node := &PathNode{Subject: subject.String(), Object: obj.String(), Depth: depth}
		granted, child, err := c.explainTupleToUserset(ctx, subject, us.TupleToUserset, obj, zoneID, visited, depth, maxDepth, actx, node)
		return granted, child, err
	}
	return c.explain(ctx, subject, us.Relation, obj, zoneID, visited, depth+1, maxDepth, actx)
}

func (c *Computer) explainTupleToUserset(
	ctx context.Context,
	subject ketoapi.Subject,
	ttu *namespace.TupleToUsersetDef,
	obj ketoapi.Entity,
	zoneID string,
	visited map[string]bool,
	depth, maxDepth int,
	actx *ketoapi.Context,
	node *PathNode,
) (bool, *PathNode, error) {
	if ttu == nil {
		node.Reason = "tupleToUserset operator missing"
		return false, node, nil
	}
	node.Reason = fmt.Sprintf("tupleToUserset(tupleset=%s, computedUserset=%s)", ttu.Tupleset, ttu.ComputedUserset)

	relatedObjects, err := c.repo.FindRelatedObjects(ctx, obj, ttu.Tupleset, zoneID)
	if err != nil {
		return false, node, err
	}
	for _, relObj := range relatedObjects {
		granted, child, err := c.explain(ctx, subject, ttu.ComputedUserset, relObj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, node, err
		}
		node.Children = append(node.Children, child)
		if granted {
			node.Granted = true
			return true, node, nil
		}
	}

	relatedSubjects, err := c.repo.FindSubjectsWithRelation(ctx, obj, ttu.Tupleset, zoneID)
	if err != nil {
		return false, node, err
	}
	for _, relSubj := range relatedSubjects {
		granted, child, err := c.explain(ctx, subject, ttu.ComputedUserset, relSubj, zoneID, visited, depth+1, maxDepth, actx)
		if err != nil {
			return false, node, err
		}
		node.Children = append(node.Children, child)
		if granted {
			node.Granted = true
			return true, node, nil
		}
	}

	return false, node, nil
}

func directReason(granted bool) string {
	if granted {
		return "direct tuple, wildcard, or userset-as-subject grant"
	}
	return "no matching direct tuple, wildcard, or userset-as-subject grant"
}
