// Package bulk is the Bulk Permission Checker (spec.md §4.6): a
// multi-phase pipeline that resolves many (subject, permission, object)
// checks in one call, amortizing cache lookups and tuple fetches across
// the whole batch instead of paying per-check overhead N times.
package bulk

import "github.com/nexus-rebac/rebac/ketoapi"

// ConsistencyLevel controls how aggressively a bulk check may answer from
// caches versus forcing a fresh read (spec.md §4.6 / §5).
type ConsistencyLevel int

const (
	// Eventual allows answering from the L1 and bitmap caches; results may
	// lag the most recent write by up to the cache's TTL/quantization
	// window. The default, and the only level that engages Phase 0/0.5.
	Eventual ConsistencyLevel = iota
	// Bounded skips both caches but still permits the in-memory
	// prefetch-and-compute pipeline (Phases 1-2) — a fresh read, just not
	// one routed through per-object DB round trips.
	Bounded
	// Strong is reserved for callers that need read-your-writes across
	// processes (e.g. immediately after a write on another node); Nexus's
	// single-process Manager already gives read-your-writes for Eventual
	// within one process (spec.md §5), so Strong behaves identically to
	// Bounded here — the distinction exists for API compatibility with a
	// future multi-process deployment.
	Strong
)

// Triple is one (subject, permission, object) check to resolve.
type Triple struct {
	Subject    ketoapi.Subject
	Permission string
	Object     ketoapi.Entity
}

// Result is one triple's answer. TimedOut is set when the batch's soft
// deadline expired before this entry was reached; Allowed is always false
// in that case (deny on timeout), per the Timeout error kind's contract.
type Result struct {
	Allowed  bool
	TimedOut bool
}
