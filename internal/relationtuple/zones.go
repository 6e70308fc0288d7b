package relationtuple

import "strings"

// baseCrossZoneAllowed is the hardcoded base of CROSS_ZONE_ALLOWED_RELATIONS
// (spec.md §6, §9 Open Questions: "hardcoded base + schema-time
// extension"). Any relation prefixed "shared-" is allowed regardless of
// whether it appears here, matching the `shared-*` family description.
var baseCrossZoneAllowed = map[string]struct{}{
	"shared-viewer": {},
	"shared-editor": {},
	"shared-owner":  {},
}

// CrossZoneAllowlist tracks which relations may link subject and object
// across different zones. It starts from the hardcoded base and can be
// extended at namespace schema load time (e.g. a schema declaring a
// custom "shared-reviewer" relation).
type CrossZoneAllowlist struct {
	extra map[string]struct{}
}

// NewCrossZoneAllowlist builds an allowlist with the hardcoded base plus
// any additional relations supplied (typically discovered while loading
// namespace schemas).
func NewCrossZoneAllowlist(extra ...string) *CrossZoneAllowlist {
	a := &CrossZoneAllowlist{extra: make(map[string]struct{}, len(extra))}
	for _, r := range extra {
		a.extra[r] = struct{}{}
	}
	return a
}

// Allowed reports whether relation may legally link entities in different
// zones: it's in the hardcoded base, explicitly registered, or matches the
// "shared-*" naming convention.
func (a *CrossZoneAllowlist) Allowed(relation string) bool {
	if _, ok := baseCrossZoneAllowed[relation]; ok {
		return true
	}
	if a != nil {
		if _, ok := a.extra[relation]; ok {
			return true
		}
	}
	return strings.HasPrefix(relation, "shared-")
}

// Register adds relation to the allowlist, typically called while
// compiling a namespace schema that declares a custom shared-* relation.
func (a *CrossZoneAllowlist) Register(relation string) {
	a.extra[relation] = struct{}{}
}
