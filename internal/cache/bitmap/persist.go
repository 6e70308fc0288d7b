package bitmap

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
)

// Persister durably records resource-id assignments so a process restart
// doesn't have to re-earn them by re-observing every object (spec.md §4.5:
// "persistence is required only for the map"). Implementations must
// tolerate being called concurrently from many goroutines.
type Persister interface {
	// PersistResourceID durably records that (objectType, objectID) in
	// zoneID was assigned id. Called fire-and-forget from a background
	// goroutine; implementations should log rather than panic on error.
	PersistResourceID(zoneID, objectType, objectID string, id uint32)
	// LoadAll returns every previously-persisted mapping, for Registry
	// hydration at startup.
	LoadAll(ctx context.Context) (map[resourceKey]uint32, error)
}

// SQLPersister is the production Persister, storing the resource map in
// the same database the tuple store lives in (schema.go's DDL), reusing
// relationtuple's Dialect/Querier split so the bitmap package doesn't grow
// its own SQL dialect abstraction.
type SQLPersister struct {
	db      relationtuple.Querier
	dialect relationtuple.Dialect
	log     *logrus.Logger
}

// NewSQLPersister builds a SQLPersister. log may be nil, in which case
// persist failures are silently dropped (matching the fire-and-forget,
// non-authoritative nature of this cache).
func NewSQLPersister(db relationtuple.Querier, dialect relationtuple.Dialect, log *logrus.Logger) *SQLPersister {
	return &SQLPersister{db: db, dialect: dialect, log: log}
}

func (p *SQLPersister) PersistResourceID(zoneID, objectType, objectID string, id uint32) {
	builder := p.dialect.Builder().
		Insert(TableResourceMap).
		Columns("zone_id", "object_type", "object_id", "resource_id").
		Values(zoneID, objectType, objectID, id)

	query, args, err := builder.ToSql()
	if err != nil {
		p.logError(errors.Wrap(err, "bitmap: building resource-id insert"))
		return
	}
	if _, err := p.db.ExecContext(context.Background(), query, args...); err != nil {
		p.logError(errors.Wrap(err, "bitmap: persisting resource id"))
	}
}

func (p *SQLPersister) LoadAll(ctx context.Context) (map[resourceKey]uint32, error) {
	query, args, err := p.dialect.Builder().
		Select("zone_id", "object_type", "object_id", "resource_id").
		From(TableResourceMap).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "bitmap: building resource-map select")
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "bitmap: loading resource map")
	}
	defer rows.Close()

	out := make(map[resourceKey]uint32)
	for rows.Next() {
		var zoneID, objectType, objectID string
		var id uint32
		if err := rows.Scan(&zoneID, &objectType, &objectID, &id); err != nil {
			return nil, errors.Wrap(err, "bitmap: scanning resource map row")
		}
		out[resourceKey{zoneID, objectType, objectID}] = id
	}
	return out, rows.Err()
}

func (p *SQLPersister) logError(err error) {
	if p.log == nil {
		return
	}
	p.log.WithError(err).Warn("bitmap cache: resource-id persistence failed, map will be rebuilt lazily")
}
