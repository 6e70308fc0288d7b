package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/nexus-rebac/rebac/internal/cache/bitmap"
	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/driver/config"
	"github.com/nexus-rebac/rebac/internal/manager"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
)

// loggerProvider is the minimal x.LoggerProvider Manager needs, handing
// back whatever *logrus.Logger the CLI built from --verbose/--quiet.
type loggerProvider struct{ log *logrus.Logger }

func (p loggerProvider) Logger() *logrus.Logger { return p.log }

// app holds every long-lived dependency a subcommand needs, built by each
// subcommand's RunE via newApp and torn down with a deferred Close. Grounded on
// dbtek-keto's driver.RegistryDefault (the thing transact_server.go's
// handler embeds), generalized here into a flat struct matching Manager's
// own explicit-composition style rather than an embedded mixin.
type app struct {
	db       *sql.DB
	dialect  relationtuple.Dialect
	dialectN string

	repo      *relationtuple.Repository
	registry  *namespace.Registry
	cfg       config.Provider
	allowlist *relationtuple.CrossZoneAllowlist
	mgr       *manager.Manager
	log       *logrus.Logger
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// newApp wires a fresh app from the root command's persistent flags. It
// connects to the store, builds an empty namespace registry (filled only by
// loadNamespaces), and composes the Manager over both cache tiers.
func newApp() (*app, error) {
	log := newLogger()

	dsn := flagDSN
	dialectName := flagDialect
	if dsn == "" {
		dsn = os.Getenv("REBAC_DSN")
	}
	if dialectName == "" {
		dialectName = os.Getenv("REBAC_DIALECT")
	}
	if dialectName == "" {
		dialectName = "sqlite"
	}

	var dialect relationtuple.Dialect
	var driverName string
	switch dialectName {
	case "postgres":
		dialect = relationtuple.Postgres
		driverName = "pgx"
	case "sqlite":
		dialect = relationtuple.SQLite
		driverName = "sqlite3"
	default:
		return nil, errors.Errorf("app: unknown dialect %q (want postgres or sqlite)", dialectName)
	}
	if dsn == "" && dialectName == "sqlite" {
		dsn = ":memory:"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "app: opening database")
	}

	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := relationtuple.NewRepository(db, dialect, allowlist)
	registry := namespace.NewRegistry()

	v := viper.New()
	if flagConfig != "" {
		v.SetConfigFile(flagConfig)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "app: reading config file")
		}
	}
	cfg := config.New(v)

	l1Cache := l1.New(l1.Config{
		MaxSize:       cfg.CacheMaxSize(),
		BaseTTL:       cfg.CacheTTL(),
		JitterPercent: cfg.CacheJitterPercent(),
		XFetchBeta:    cfg.XFetchBeta(),
	})
	bitmapCache := bitmap.New(bitmap.NewRegistry(nil))

	mgr := manager.New(repo, registry, cfg, l1Cache, bitmapCache, allowlist, loggerProvider{log})

	return &app{
		db: db, dialect: dialect, dialectN: dialectName,
		repo: repo, registry: registry, cfg: cfg, allowlist: allowlist,
		mgr: mgr, log: log,
	}, nil
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	switch {
	case flagQuiet:
		log.SetLevel(logrus.ErrorLevel)
	case flagVerbose >= 2:
		log.SetLevel(logrus.TraceLevel)
	case flagVerbose == 1:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// applyMigrations runs the per-dialect DDL for the tuple store and the
// bitmap cache's resource-id map (internal/relationtuple/schema.go,
// internal/cache/bitmap/schema.go). Exact DDL is applied here, not inside
// either package's own constructor, per those packages' own doc comments.
func (a *app) applyMigrations() error {
	for _, stmt := range relationtuple.DDL[a.dialectN] {
		if _, err := a.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "app: applying tuple store DDL on %s", a.dialectN)
		}
	}
	for _, stmt := range bitmap.DDL[a.dialectN] {
		if _, err := a.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "app: applying bitmap cache DDL on %s", a.dialectN)
		}
	}
	return nil
}

// loadNamespaces reads every *.yaml/*.yml/*.json file in dir as a
// namespace schema named after its base filename and reloads the
// registry in one compile-then-swap pass.
func (a *app) loadNamespaces(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "app: reading namespaces directory %q", dir)
	}
	raw := make([]config.NamespaceRaw, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := fileExt(name)
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		data, err := os.ReadFile(dir + string(os.PathSeparator) + name)
		if err != nil {
			return errors.Wrapf(err, "app: reading namespace file %q", name)
		}
		raw = append(raw, config.NamespaceRaw{Name: trimExt(name, ext), Raw: data})
	}
	if err := namespace.LoadFromRaw(a.registry, raw); err != nil {
		return errors.Wrap(err, "app: compiling namespace schemas")
	}
	return nil
}

func fileExt(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

func trimExt(name, ext string) string {
	return name[:len(name)-len(ext)]
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
