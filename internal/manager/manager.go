// Package manager is the Permission Manager facade (spec.md §4.7): the
// single entry point services embed, composing the Tuple Repository,
// Namespace Registry, Permission Computer, Bulk Checker, Expander, and the
// L1/Bitmap caches behind Check/CheckBulk/Expand/Explain/Write/Delete plus
// namespace and cache administration.
//
// Grounded on dbtek-keto/internal/relationtuple/transact_server.go's
// `handler` struct, whose `h.d` is a registry of dependency accessors
// (`h.d.RelationTupleManager()`, `h.d.Mapper()`, ...) reached through an
// embedded mixin. Nexus generalizes the same idea — one facade composing
// every subsystem — but per spec.md §9's explicit redesign note ("replace
// dynamic inheritance/mixins... with explicit composition"), Manager holds
// its dependencies as plain struct fields built once at construction, not
// an embedded registry interface resolved per call.
package manager

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nexus-rebac/rebac/internal/bulk"
	"github.com/nexus-rebac/rebac/internal/cache/bitmap"
	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/check"
	"github.com/nexus-rebac/rebac/internal/driver/config"
	"github.com/nexus-rebac/rebac/internal/expand"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/internal/x"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// Invalidator is notified after a write or delete commits, so callers
// outside this process's caches (a peer node, a search index) can react.
// Registration is the Go analogue of the original's pluggable cache
// backends; Nexus's own L1/Bitmap invalidation happens unconditionally and
// does not go through this list.
type Invalidator interface {
	Invalidate(ctx context.Context, subject ketoapi.Entity, relation string, object ketoapi.Entity, zoneID string)
}

// Manager composes every ReBAC subsystem behind one facade.
type Manager struct {
	repo     *relationtuple.Repository
	registry *namespace.Registry
	cfg      config.Provider
	logger   *logrus.Logger

	l1      *l1.Cache
	bitmap  *bitmap.Cache
	compute *check.Computer
	expnd   *expand.Expander
	bulkChk *bulk.Checker

	crossZone *relationtuple.CrossZoneAllowlist

	invalidators []Invalidator
}

// computerDeps adapts a Manager's (repo, registry, cfg) to check.Deps,
// mirroring internal/bulk's computerDeps adapter.
type computerDeps struct {
	repo     *relationtuple.Repository
	registry *namespace.Registry
	cfg      config.Provider
}

func (d computerDeps) RelationTupleRepository() check.Repository { return d.repo }
func (d computerDeps) NamespaceRegistry() *namespace.Registry    { return d.registry }
func (d computerDeps) Config() config.Provider                   { return d.cfg }

// New builds a Manager. l1Cache and bitmapCache may be nil to run without
// that cache tier (every check then falls through to a fresh compute).
// allowlist must be the SAME instance passed to relationtuple.NewRepository
// for repo: write-time zone isolation (repository.go's enforceZoneIsolation)
// consults the Repository's own allowlist, so RegisterSharedRelation only
// has an effect on enforcement if both share one instance.
func New(
	repo *relationtuple.Repository,
	registry *namespace.Registry,
	cfg config.Provider,
	l1Cache *l1.Cache,
	bitmapCache *bitmap.Cache,
	allowlist *relationtuple.CrossZoneAllowlist,
	logger x.LoggerProvider,
) *Manager {
	deps := computerDeps{repo: repo, registry: registry, cfg: cfg}
	var log *logrus.Logger
	if logger != nil {
		log = logger.Logger()
	} else {
		log = logrus.New()
	}
	return &Manager{
		repo:      repo,
		registry:  registry,
		cfg:       cfg,
		logger:    log,
		l1:        l1Cache,
		bitmap:    bitmapCache,
		compute:   check.NewEngine(deps),
		expnd:     expand.New(repo, registry, cfg.MaxReadDepth()),
		bulkChk:   bulk.New(repo, registry, cfg, l1Cache, bitmapCache, allowlist != nil, log),
		crossZone: allowlist,
	}
}

// RegisterInvalidator adds inv to the set notified on every committed
// write/delete, alongside this Manager's own L1/Bitmap invalidation.
func (m *Manager) RegisterInvalidator(inv Invalidator) {
	m.invalidators = append(m.invalidators, inv)
}

// ReloadNamespaces recompiles and swaps in a new set of namespace configs
// (copy-on-write, per spec.md §5): in-flight checks keep using the
// snapshot they started with, new checks see the reload immediately.
// Relations named "shared-*" are already cross-zone allowed unconditionally
// (relationtuple.CrossZoneAllowlist.Allowed's prefix rule); RegisterSharedRelation
// extends the allowlist to a differently-named relation a namespace wants
// to treat the same way, resolving spec.md's open question as "hardcoded
// base + schema-time extension" (SPEC_FULL.md §9).
func (m *Manager) ReloadNamespaces(configs []*namespace.Config) {
	m.registry.Reload(configs)
}

// RegisterSharedRelation extends the cross-zone allowlist to relation,
// for namespaces that want a custom cross-zone-shareable relation name
// without adopting the "shared-*" naming convention.
func (m *Manager) RegisterSharedRelation(relation string) {
	if m.crossZone != nil {
		m.crossZone.Register(relation)
	}
}

// ClearCaches drops every L1 entry unconditionally — an operator escape
// hatch, not something the steady-state write path calls. The bitmap
// cache has no equivalent bulk reset: its entries are derived lazily from
// write-through positives (spec.md §4.5) rather than eagerly computed, so
// there is nothing to usefully "clear" ahead of the next write/probe.
func (m *Manager) ClearCaches() {
	if m.l1 != nil {
		m.l1.Clear()
	}
}

// CacheStats reports the current L1 cache statistics, or the zero value if
// no L1 cache is configured.
func (m *Manager) CacheStats() l1.Stats {
	if m.l1 == nil {
		return l1.Stats{}
	}
	return m.l1.Stats()
}

// BitmapStats reports the current bitmap cache statistics, or the zero
// value if no bitmap cache is configured.
func (m *Manager) BitmapStats() bitmap.Stats {
	if m.bitmap == nil {
		return bitmap.Stats{}
	}
	return m.bitmap.Stats()
}
