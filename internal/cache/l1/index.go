package l1

import "strings"

// Secondary indexes (spec.md §4.4): every insert is indexed by subject,
// by object, and — for hierarchical object ids like filesystem paths — by
// every ancestor directory, so invalidation only ever touches the entries
// that could possibly be affected instead of scanning the whole cache.

type subjectIndexKey struct {
	zone, subjectType, subjectID string
}

type objectIndexKey struct {
	zone, objectType, objectID string
}

type prefixIndexKey struct {
	zone, objectType, prefix string
}

type indexes struct {
	subject map[subjectIndexKey]map[Key]struct{}
	object  map[objectIndexKey]map[Key]struct{}
	prefix  map[prefixIndexKey]map[Key]struct{}
}

func newIndexes() *indexes {
	return &indexes{
		subject: make(map[subjectIndexKey]map[Key]struct{}),
		object:  make(map[objectIndexKey]map[Key]struct{}),
		prefix:  make(map[prefixIndexKey]map[Key]struct{}),
	}
}

// ancestorPrefixes returns every proper ancestor directory of an absolute
// path, nearest-root first: "/a/b/c.txt" -> ["/a", "/a/b"]. Non-absolute
// object ids (not filesystem paths) have no ancestors.
func ancestorPrefixes(path string) []string {
	if !strings.HasPrefix(path, "/") {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) <= 1 {
		return nil
	}
	prefixes := make([]string, 0, len(segments)-1)
	cur := ""
	for _, seg := range segments[:len(segments)-1] {
		cur += "/" + seg
		prefixes = append(prefixes, cur)
	}
	return prefixes
}

func (ix *indexes) insert(k Key) {
	sk := subjectIndexKey{zone: k.ZoneID, subjectType: k.SubjectType, subjectID: k.SubjectID}
	if ix.subject[sk] == nil {
		ix.subject[sk] = make(map[Key]struct{})
	}
	ix.subject[sk][k] = struct{}{}

	ok := objectIndexKey{zone: k.ZoneID, objectType: k.ObjectType, objectID: k.ObjectID}
	if ix.object[ok] == nil {
		ix.object[ok] = make(map[Key]struct{})
	}
	ix.object[ok][k] = struct{}{}

	for _, prefix := range ancestorPrefixes(k.ObjectID) {
		pk := prefixIndexKey{zone: k.ZoneID, objectType: k.ObjectType, prefix: prefix}
		if ix.prefix[pk] == nil {
			ix.prefix[pk] = make(map[Key]struct{})
		}
		ix.prefix[pk][k] = struct{}{}
	}
}

func (ix *indexes) remove(k Key) {
	sk := subjectIndexKey{zone: k.ZoneID, subjectType: k.SubjectType, subjectID: k.SubjectID}
	delete(ix.subject[sk], k)
	if len(ix.subject[sk]) == 0 {
		delete(ix.subject, sk)
	}

	ok := objectIndexKey{zone: k.ZoneID, objectType: k.ObjectType, objectID: k.ObjectID}
	delete(ix.object[ok], k)
	if len(ix.object[ok]) == 0 {
		delete(ix.object, ok)
	}

	for _, prefix := range ancestorPrefixes(k.ObjectID) {
		pk := prefixIndexKey{zone: k.ZoneID, objectType: k.ObjectType, prefix: prefix}
		delete(ix.prefix[pk], k)
		if len(ix.prefix[pk]) == 0 {
			delete(ix.prefix, pk)
		}
	}
}

func (ix *indexes) clear() {
	ix.subject = make(map[subjectIndexKey]map[Key]struct{})
	ix.object = make(map[objectIndexKey]map[Key]struct{})
	ix.prefix = make(map[prefixIndexKey]map[Key]struct{})
}

func keysOf(set map[Key]struct{}) []Key {
	out := make([]Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
