package relationtuple

import (
	sq "github.com/Masterminds/squirrel"
)

// Dialect encapsulates the differences between SQL backends (placeholder
// style, upsert syntax) behind a small adapter, per spec.md §9: "SQL
// dialect monkey-patching... encapsulate in a thin dialect adapter trait;
// Repository takes it as a parameter." Grounded on the squirrel
// StatementBuilderType pattern used by spicedb's postgres datastore
// (other_examples/..._internal-datastore-postgres-tuple.go.go), which
// builds a package-level `psql` StatementBuilder wrapping
// sq.Dollar placeholders; Nexus generalizes that to a swappable trait so
// the same Repository code serves Postgres and the sqlite test registry.
type Dialect interface {
	// Builder returns a squirrel StatementBuilderType configured with this
	// dialect's placeholder format ($1, $2... for Postgres; ? for SQLite).
	Builder() sq.StatementBuilderType
	// Name identifies the dialect for logging/diagnostics.
	Name() string
}

type postgresDialect struct{}

func (postgresDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}
func (postgresDialect) Name() string { return "postgres" }

// Postgres is the production Dialect, using $N placeholders via pgx.
var Postgres Dialect = postgresDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
func (sqliteDialect) Name() string { return "sqlite" }

// SQLite is the Dialect used by the in-memory test registry, using ?
// placeholders via mattn/go-sqlite3.
var SQLite Dialect = sqliteDialect{}
