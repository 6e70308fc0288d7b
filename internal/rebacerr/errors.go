// Package rebacerr declares the error taxonomy from spec.md §7 as typed
// error kinds, each satisfying the RebacError interface. Construction sites
// wrap these with github.com/pkg/errors.WithStack so callers retain a
// stack trace without needing a bespoke trace-carrying type per kind.
package rebacerr

import "fmt"

// Kind identifies which error taxonomy bucket an error belongs to.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindZoneIsolation Kind = "zone_isolation"
	KindCycle       Kind = "cycle"
	KindNamespace   Kind = "namespace"
	KindStorage     Kind = "storage"
	KindDepthLimit  Kind = "depth_limit"
	KindTimeout     Kind = "timeout"
)

// RebacError is implemented by every typed error in this package, letting
// callers branch on Kind() without type-switching on concrete types.
type RebacError interface {
	error
	Kind() Kind
}

// ValidationError signals malformed input: empty ids, unknown
// subject-relation syntax, and similar caller mistakes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation: " + e.Message }
func (e *ValidationError) Kind() Kind    { return KindValidation }

// ZoneIsolationError signals a disallowed cross-zone write: the subject and
// object zones differ and the relation isn't in the shared-* allowlist.
type ZoneIsolationError struct {
	SubjectZone, ObjectZone string
	Relation                string
}

func (e *ZoneIsolationError) Error() string {
	return fmt.Sprintf("zone isolation: relation %q may not link subject zone %q to object zone %q",
		e.Relation, e.SubjectZone, e.ObjectZone)
}
func (e *ZoneIsolationError) Kind() Kind { return KindZoneIsolation }

// CycleError signals that inserting a parent-relation edge would create a
// cycle in the parent DAG.
type CycleError struct {
	From, To string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle: %q is already an ancestor of %q", e.From, e.To)
}
func (e *CycleError) Kind() Kind { return KindCycle }

// NamespaceError signals that a schema references an undefined relation or
// permission.
type NamespaceError struct {
	ObjectType, Name string
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("namespace: %q has no relation or permission %q", e.ObjectType, e.Name)
}
func (e *NamespaceError) Kind() Kind { return KindNamespace }

// StorageError wraps an underlying persistence fault. The Repository does
// not retry failed statements, and it returns driver errors wrapped with
// errors.Wrap rather than as StorageError.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string { return "storage: " + e.Cause.Error() }
func (e *StorageError) Kind() Kind    { return KindStorage }
func (e *StorageError) Unwrap() error { return e.Cause }

// DepthLimitError describes an exceeded traversal depth. The Computer does
// not construct it: when the depth limit is exceeded, compute returns a
// plain `false` decision directly and logs nothing.
type DepthLimitError struct {
	MaxDepth int
}

func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("depth limit %d exceeded", e.MaxDepth)
}
func (e *DepthLimitError) Kind() Kind { return KindDepthLimit }

// TimeoutError signals a bulk operation's soft deadline was exceeded.
// Entries not computed in time deny by default; the incident is logged
// once per batch.
type TimeoutError struct {
	Deadline string
}

func (e *TimeoutError) Error() string { return "timeout: soft deadline " + e.Deadline + " exceeded" }
func (e *TimeoutError) Kind() Kind    { return KindTimeout }
