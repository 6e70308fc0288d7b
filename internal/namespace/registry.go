package namespace

import (
	"sync/atomic"

	"sigs.k8s.io/yaml"

	"github.com/nexus-rebac/rebac/internal/driver/config"
)

// Registry resolves object_type -> *Config. It is read-heavy: lookups
// never take a lock, they dereference an atomically-swapped immutable
// snapshot. Reload (schema hot-reload) builds a brand new snapshot and
// swaps it in, per spec.md §4.2's copy-on-write requirement.
type Registry struct {
	snapshot atomic.Pointer[map[string]*Config]
}

// NewRegistry builds an empty Registry. Call Reload (or LoadFromRaw) to populate
// it before use; unknown object types degrade gracefully (nil Config) in
// the meantime.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*Config{}
	r.snapshot.Store(&empty)
	return r
}

// Get resolves a single object type's Config, or nil if unknown.
func (r *Registry) Get(objectType string) *Config {
	snap := *r.snapshot.Load()
	return snap[objectType]
}

// All returns every currently-loaded Config, keyed by object type.
func (r *Registry) All() map[string]*Config {
	return *r.snapshot.Load()
}

// Reload atomically replaces the registry's contents with configs, the
// namespace package's parsed form of the schema. Existing Get/All callers
// holding a reference to the previous snapshot keep seeing the old data
// until they call Get/All again — no torn reads.
func (r *Registry) Reload(configs []*Config) {
	next := make(map[string]*Config, len(configs))
	for _, c := range configs {
		next[c.ObjectType] = c
	}
	r.snapshot.Store(&next)
}

// LoadFromRaw parses a set of driver/config.NamespaceRaw entries (YAML or
// JSON bytes per object type) and reloads the registry from them.
func LoadFromRaw(r *Registry, entries []config.NamespaceRaw) error {
	configs := make([]*Config, 0, len(entries))
	for _, e := range entries {
		jsonBytes, err := yaml.YAMLToJSON(e.Raw)
		if err != nil {
			return err
		}
		c, err := Parse(e.Name, jsonBytes)
		if err != nil {
			return err
		}
		configs = append(configs, c)
	}
	r.Reload(configs)
	return nil
}
