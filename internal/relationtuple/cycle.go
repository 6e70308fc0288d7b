package relationtuple

import (
	"context"

	"github.com/nexus-rebac/rebac/ketoapi"
	"github.com/nexus-rebac/rebac/internal/rebacerr"
)

// maxCycleCheckDepth bounds the cycle-detection walk per spec.md §4.1:
// "Cycle detection uses a single recursive traversal bounded at depth 50."
const maxCycleCheckDepth = 50

// ParentRelation is the well-known relation name whose tuples form the
// DAG cycle detection protects (spec.md §3 "No parent cycles" invariant).
const ParentRelation = "parent"

// checkNoCycle walks upward from object B through existing "parent" edges,
// rejecting the proposed edge subject->parent->object if subject is
// encountered as one of object's ancestors — which would close a cycle
// subject -> object -> ... -> subject.
func (r *Repository) checkNoCycle(ctx context.Context, q Querier, subject, object ketoapi.Entity, zoneID string) error {
	if subject == object {
		return wrapCycle(subject, object)
	}
	visited := map[ketoapi.Entity]bool{object: true}
	frontier := []ketoapi.Entity{object}

	for depth := 0; depth < maxCycleCheckDepth && len(frontier) > 0; depth++ {
		var next []ketoapi.Entity
		for _, node := range frontier {
			parents, err := r.findRelatedObjectsTx(ctx, q, node, ParentRelation, zoneID)
			if err != nil {
				return err
			}
			for _, p := range parents {
				if p == subject {
					return wrapCycle(subject, object)
				}
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return nil
}

func wrapCycle(subject, object ketoapi.Entity) error {
	return &rebacerr.CycleError{From: subject.String(), To: object.String()}
}
