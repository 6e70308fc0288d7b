// Package config provides the typed configuration surface
// consumed by every layer of the ReBAC core. It wraps viper so operators can
// configure Nexus via file, env, or flags, while internal callers only ever
// see typed getters.
package config

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config keys. Centralized here so every reader and writer of configuration
// agrees on the same string, the way the teacher's driver/config package
// does for namespaces and read-depth limits.
const (
	KeyNamespaces         = "namespaces"
	KeyLimitMaxReadDepth  = "limit.max_read_depth"
	KeyCacheTTLSeconds    = "cache.l1.ttl_seconds"
	KeyCacheMaxSize       = "cache.l1.max_size"
	KeyCacheJitterPercent = "cache.l1.jitter_percent"
	KeyQuantizationWindow = "cache.l1.quantization_window"
	KeyXFetchBeta         = "cache.l1.xfetch_beta"
	KeyZoneWideInvalidate = "cache.l1.zone_wide_invalidate"
	KeyBulkSoftDeadline   = "bulk.soft_deadline_ms"
)

// Provider is the typed configuration surface. It is deliberately narrow:
// callers ask for the value they need, never the raw viper instance, so the
// underlying config source stays swappable.
type Provider interface {
	MaxReadDepth() int
	CacheTTL() time.Duration
	CacheMaxSize() int
	CacheJitterPercent() float64
	QuantizationWindow() int64
	XFetchBeta() float64
	ZoneWideInvalidationEnabled() bool
	BulkSoftDeadline() time.Duration
	Set(key string, value any) error
	Namespaces() []NamespaceRaw
}

// NamespaceRaw is the pre-parse representation of a namespace schema entry,
// as it comes out of config (file, flag, or programmatic Set). The
// namespace package compiles this into its internal IR.
type NamespaceRaw struct {
	Name string `json:"name" yaml:"name"`
	Raw  []byte `json:"raw,omitempty" yaml:"-"`
}

// viperProvider is the default Provider backed by a *viper.Viper instance.
// Set updates the viper instance in place under the write lock and every
// getter reads under the read lock. It does not watch the config file, so
// values change only through Set.
type viperProvider struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// New builds a Provider with sane defaults, then lets the supplied viper
// instance override them (from file/env/flags).
func New(v *viper.Viper) Provider {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	return &viperProvider{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLimitMaxReadDepth, 10)
	v.SetDefault(KeyCacheTTLSeconds, 600)
	v.SetDefault(KeyCacheMaxSize, 100_000)
	v.SetDefault(KeyCacheJitterPercent, 0.20)
	v.SetDefault(KeyQuantizationWindow, int64(10))
	v.SetDefault(KeyXFetchBeta, 1.0)
	v.SetDefault(KeyZoneWideInvalidate, false)
	v.SetDefault(KeyBulkSoftDeadline, 250)
}

func (p *viperProvider) MaxReadDepth() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetInt(KeyLimitMaxReadDepth)
}

func (p *viperProvider) CacheTTL() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.v.GetInt64(KeyCacheTTLSeconds)) * time.Second
}

func (p *viperProvider) CacheMaxSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetInt(KeyCacheMaxSize)
}

func (p *viperProvider) CacheJitterPercent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetFloat64(KeyCacheJitterPercent)
}

func (p *viperProvider) QuantizationWindow() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w := p.v.GetInt64(KeyQuantizationWindow)
	if w <= 0 {
		return 1
	}
	return w
}

func (p *viperProvider) XFetchBeta() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetFloat64(KeyXFetchBeta)
}

func (p *viperProvider) ZoneWideInvalidationEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetBool(KeyZoneWideInvalidate)
}

func (p *viperProvider) BulkSoftDeadline() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.v.GetInt64(KeyBulkSoftDeadline)) * time.Millisecond
}

func (p *viperProvider) Set(key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == "" {
		return errors.New("config: empty key")
	}
	p.v.Set(key, value)
	return nil
}

func (p *viperProvider) Namespaces() []NamespaceRaw {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw := p.v.Get(KeyNamespaces)
	entries, ok := raw.([]NamespaceRaw)
	if !ok {
		return nil
	}
	return entries
}
