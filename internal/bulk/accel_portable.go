//go:build !cgo

package bulk

import (
	"context"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
)

// accelerationAvailable reports whether this build carries the cgo-backed
// fast path below. The portable build never does; every triple resolves
// through the plain in-memory traversal in check.Computer.
const accelerationAvailable = false

// accelerateDirectMatch is the portable build's implementation of the
// native-acceleration hook: it never handles anything, so the caller
// always falls through to the ordinary graph compute.
func accelerateDirectMatch(_ context.Context, _ []*relationtuple.RelationTuple, _, _, _, _, _, _ string) (allowed, handled bool) {
	return false, false
}
