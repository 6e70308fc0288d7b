package relationtuple

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// bumpRevision increments zoneID's revision counter within tx and returns
// the new value. Must be called inside the same transaction as the tuple
// write it accompanies, per spec.md §3: "incremented exactly once per
// successful write transaction."
func (r *Repository) bumpRevision(ctx context.Context, tx Querier, zoneID string) (int64, error) {
	upsert := r.dialect.Builder().
		Insert(TableRevisions).
		Columns(colZoneRevZone, colZoneRevRevision).
		Values(zoneID, 1).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + 1",
			colZoneRevZone, colZoneRevRevision, TableRevisions, colZoneRevRevision,
		))
	sqlStr, args, err := upsert.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: building revision bump")
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, errors.Wrap(err, "relationtuple: bumping zone revision")
	}
	return r.readRevision(ctx, tx, zoneID)
}

func (r *Repository) readRevision(ctx context.Context, q Querier, zoneID string) (int64, error) {
	sel := r.dialect.Builder().
		Select(colZoneRevRevision).
		From(TableRevisions).
		Where(sq.Eq{colZoneRevZone: zoneID})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: building revision read")
	}
	var rev int64
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: reading zone revision")
	}
	return rev, nil
}

// ZoneRevision is a non-incrementing read of zoneID's current revision
// counter (spec.md §4.1).
func (r *Repository) ZoneRevision(ctx context.Context, zoneID string) (int64, error) {
	return r.readRevision(ctx, r.db, zoneID)
}
