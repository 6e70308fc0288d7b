//go:build cgo

package bulk

/*
#include <stdlib.h>
#include <string.h>

static int nexus_bulk_tuple_eq(const char *subj, const char *rel, const char *obj, const char *zone,
                                const char *want_subj, const char *want_rel, const char *want_obj, const char *want_zone) {
    return strcmp(subj, want_subj) == 0 && strcmp(rel, want_rel) == 0 &&
           strcmp(obj, want_obj) == 0 && strcmp(zone, want_zone) == 0;
}
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
)

// accelerationAvailable reports whether this build carries the cgo-backed
// fast path: built with CGO_ENABLED=1 (the default on most platforms).
const accelerationAvailable = true

// accelerateDirectMatch scans a batch's prefetched tuple graph for a direct,
// non-userset grant of (subjType:subjID, relation, objType:objID, zoneID)
// using a cgo string-compare loop rather than Go's FindDirectTuple — the
// native acceleration path spec.md §4.6 calls out for the hottest case in a
// bulk batch: the triple's permission names the relation itself and is
// satisfied by a single tuple, with no tupleToUserset traversal needed.
//
// handled is true only when a matching tuple was actually found; a miss
// returns handled=false so the caller falls back to the full portable
// traversal (which alone knows how to resolve inherited/rewritten grants).
// Any panic in the cgo call itself is recovered and also reported as
// unhandled, per the "falls back to the portable implementation on any
// failure" contract — this path is a shortcut, never a second source of
// truth that could disagree with the portable one.
func accelerateDirectMatch(_ context.Context, tuples []*relationtuple.RelationTuple, subjType, subjID, relation, objType, objID, zoneID string) (allowed, handled bool) {
	defer func() {
		if recover() != nil {
			allowed, handled = false, false
		}
	}()

	wantSubj := C.CString(subjType + ":" + subjID)
	wantRel := C.CString(relation)
	wantObj := C.CString(objType + ":" + objID)
	wantZone := C.CString(zoneID)
	defer C.free(unsafe.Pointer(wantSubj))
	defer C.free(unsafe.Pointer(wantRel))
	defer C.free(unsafe.Pointer(wantObj))
	defer C.free(unsafe.Pointer(wantZone))

	for _, t := range tuples {
		if t.Subject.IsUserset() {
			continue
		}
		subj := C.CString(t.Subject.Type + ":" + t.Subject.ID)
		rel := C.CString(t.Relation)
		obj := C.CString(t.Object.Type + ":" + t.Object.ID)
		zone := C.CString(t.ZoneID)
		match := C.nexus_bulk_tuple_eq(subj, rel, obj, zone, wantSubj, wantRel, wantObj, wantZone) != 0
		C.free(unsafe.Pointer(subj))
		C.free(unsafe.Pointer(rel))
		C.free(unsafe.Pointer(obj))
		C.free(unsafe.Pointer(zone))
		if match {
			return true, true
		}
	}
	return false, false
}
