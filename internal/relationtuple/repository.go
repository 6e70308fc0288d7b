package relationtuple

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/nexus-rebac/rebac/internal/rebacerr"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting every method
// below run either standalone or inside a caller-managed transaction.
// Grounded on pthm-melange's Querier/Execer split
// (_examples/pthm-melange/melange/melange.go), collapsed here into a single
// interface since every Repository method needs all three verbs.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository is the Tuple Repository (spec.md §4.1): the single point of
// contact between the permission engine and durable storage. It never
// caches and never computes permissions — it stores tuples, enforces zone
// isolation and no-cycle invariants at write time, and answers direct
// index-backed lookups that the check engine composes into traversals.
type Repository struct {
	db        *sql.DB
	dialect   Dialect
	crossZone *CrossZoneAllowlist
}

// NewRepository builds a Repository over db using dialect for SQL
// generation and allowlist to decide which relations may cross zone
// boundaries (spec.md §3 "Zone isolation").
func NewRepository(db *sql.DB, dialect Dialect, allowlist *CrossZoneAllowlist) *Repository {
	if allowlist == nil {
		allowlist = NewCrossZoneAllowlist()
	}
	return &Repository{db: db, dialect: dialect, crossZone: allowlist}
}

// Insert writes a single relation tuple, enforcing zone isolation and
// parent-cycle rejection inside one transaction, and bumps the object's
// zone revision counter exactly once on success (spec.md §4.1, §3).
// Re-inserting the same (subject, relation, object, zone_id) is idempotent:
// Insert returns the row that already exists, with its original tuple_id
// and CreatedAt, and does not bump the revision a second time.
func (r *Repository) Insert(ctx context.Context, t *RelationTuple) error {
	if t.ZoneID == "" {
		return &rebacerr.ValidationError{Message: "zone_id is required"}
	}
	if err := r.enforceZoneIsolation(t); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "relationtuple: beginning write transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := r.findDirectTupleTx(ctx, tx, t.Subject, t.Relation, t.Object, t.ZoneID)
	if err != nil {
		return err
	}
	if existing != nil {
		*t = *existing
		return errors.Wrap(tx.Commit(), "relationtuple: committing idempotent write transaction")
	}

	if t.Relation == ParentRelation {
		if err := r.checkNoCycle(ctx, tx, t.Subject.Entity, t.Object, t.ZoneID); err != nil {
			return err
		}
	}

	if t.TupleID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return errors.Wrap(err, "relationtuple: generating tuple id")
		}
		t.TupleID = id
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	condJSON, err := ketoapi.MarshalConditions(t.Conditions)
	if err != nil {
		return errors.Wrap(err, "relationtuple: marshaling conditions")
	}

	ins := r.dialect.Builder().
		Insert(TableTuples).
		Columns(
			colTupleID, colSubjectType, colSubjectID, colSubjectRelation,
			colRelation, colObjectType, colObjectID, colZoneID,
			colSubjectZoneID, colObjectZoneID, colConditions, colExpiresAt, colCreatedAt,
		).
		Values(
			t.TupleID.String(), t.Subject.Type, t.Subject.ID, t.Subject.Relation,
			t.Relation, t.Object.Type, t.Object.ID, t.ZoneID,
			t.SubjectZoneID, t.ObjectZoneID, []byte(condJSON), t.ExpiresAt, t.CreatedAt,
		)

	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return errors.Wrap(err, "relationtuple: building insert")
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "relationtuple: inserting tuple")
	}
	if err := r.appendChangelog(ctx, tx, t.TupleID, "insert", t.ZoneID); err != nil {
		return err
	}
	if _, err := r.bumpRevision(ctx, tx, t.ZoneID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "relationtuple: committing write transaction")
	}
	return nil
}

// Delete removes a single tuple by ID and bumps its zone's revision.
func (r *Repository) Delete(ctx context.Context, tupleID uuid.UUID, zoneID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "relationtuple: beginning delete transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	del := r.dialect.Builder().
		Delete(TableTuples).
		Where(sq.Eq{colTupleID: tupleID.String(), colZoneID: zoneID})
	sqlStr, args, err := del.ToSql()
	if err != nil {
		return errors.Wrap(err, "relationtuple: building delete")
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "relationtuple: deleting tuple")
	}
	if err := r.appendChangelog(ctx, tx, tupleID, "delete", zoneID); err != nil {
		return err
	}
	if _, err := r.bumpRevision(ctx, tx, zoneID); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "relationtuple: committing delete transaction")
}

// DeleteWhereQuery narrows a bulk delete to tuples matching non-zero fields;
// zero-value fields are treated as wildcards.
type DeleteWhereQuery struct {
	SubjectType, SubjectID, SubjectRelation string
	Relation                                string
	ObjectType, ObjectID                    string
	ZoneID                                  string
}

// DeleteWhere removes every tuple matching q within q.ZoneID and bumps the
// zone revision once regardless of how many rows were affected.
func (r *Repository) DeleteWhere(ctx context.Context, q DeleteWhereQuery) (int64, error) {
	if q.ZoneID == "" {
		return 0, &rebacerr.ValidationError{Message: "zone_id is required for bulk delete"}
	}
	pred := sq.Eq{colZoneID: q.ZoneID}
	addIfSet(pred, colSubjectType, q.SubjectType)
	addIfSet(pred, colSubjectID, q.SubjectID)
	addIfSet(pred, colSubjectRelation, q.SubjectRelation)
	addIfSet(pred, colRelation, q.Relation)
	addIfSet(pred, colObjectType, q.ObjectType)
	addIfSet(pred, colObjectID, q.ObjectID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: beginning bulk delete transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	del := r.dialect.Builder().Delete(TableTuples).Where(pred)
	sqlStr, args, err := del.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: building bulk delete")
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: executing bulk delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "relationtuple: reading rows affected")
	}
	if _, err := r.bumpRevision(ctx, tx, q.ZoneID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "relationtuple: committing bulk delete transaction")
	}
	return n, nil
}

func addIfSet(pred sq.Eq, col, val string) {
	if val != "" {
		pred[col] = val
	}
}

// FindDirectTuple returns the tuple exactly matching subject/relation/object
// within zoneID, or nil if none exists. Used for idempotency checks on
// write and for the base case of permission traversal.
func (r *Repository) FindDirectTuple(ctx context.Context, subject ketoapi.Subject, relation string, object ketoapi.Entity, zoneID string) (*RelationTuple, error) {
	return r.findDirectTupleTx(ctx, r.db, subject, relation, object, zoneID)
}

func (r *Repository) findDirectTupleTx(ctx context.Context, q Querier, subject ketoapi.Subject, relation string, object ketoapi.Entity, zoneID string) (*RelationTuple, error) {
	sel := r.dialect.Builder().
		Select(allTupleColumns()...).
		From(TableTuples).
		Where(sq.Eq{
			colSubjectType:     subject.Type,
			colSubjectID:       subject.ID,
			colSubjectRelation: subject.Relation,
			colRelation:        relation,
			colObjectType:      object.Type,
			colObjectID:        object.ID,
			colZoneID:          zoneID,
		}).
		Limit(1)
	return r.queryOne(ctx, q, sel)
}

// FindRelatedObjects returns the objects reachable from subject via
// relation within zoneID — i.e. tuples where subject is the subject.
// This is the "tupleset" lookup tupleToUserset rewrites use.
func (r *Repository) FindRelatedObjects(ctx context.Context, subject ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error) {
	return r.findRelatedObjectsTx(ctx, r.db, subject, relation, zoneID)
}

func (r *Repository) findRelatedObjectsTx(ctx context.Context, q Querier, subject ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error) {
	sel := r.dialect.Builder().
		Select(colObjectType, colObjectID).
		From(TableTuples).
		Where(sq.Eq{
			colSubjectType: subject.Type,
			colSubjectID:   subject.ID,
			colRelation:    relation,
			colZoneID:      zoneID,
		})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: building related-objects query")
	}
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: querying related objects")
	}
	defer rows.Close()

	var out []ketoapi.Entity
	for rows.Next() {
		var e ketoapi.Entity
		if err := rows.Scan(&e.Type, &e.ID); err != nil {
			return nil, errors.Wrap(err, "relationtuple: scanning related object")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "relationtuple: iterating related objects")
}

// FindSubjectSets returns every subject (plain or userset) holding relation
// on object within zoneID — the base case fan-out for union/intersection
// computation and for Expand.
func (r *Repository) FindSubjectSets(ctx context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Subject, error) {
	sel := r.dialect.Builder().
		Select(colSubjectType, colSubjectID, colSubjectRelation).
		From(TableTuples).
		Where(sq.Eq{
			colObjectType: object.Type,
			colObjectID:   object.ID,
			colRelation:   relation,
			colZoneID:     zoneID,
		})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: building subject-sets query")
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: querying subject sets")
	}
	defer rows.Close()

	var out []ketoapi.Subject
	for rows.Next() {
		var s ketoapi.Subject
		if err := rows.Scan(&s.Type, &s.ID, &s.Relation); err != nil {
			return nil, errors.Wrap(err, "relationtuple: scanning subject set")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "relationtuple: iterating subject sets")
}

// FindSubjectsWithRelation returns every plain-subject tuple matching
// relation/object within zoneID whose subject has no userset relation —
// used by the check engine's tupleToUserset group pattern.
func (r *Repository) FindSubjectsWithRelation(ctx context.Context, object ketoapi.Entity, relation string, zoneID string) ([]ketoapi.Entity, error) {
	sel := r.dialect.Builder().
		Select(colSubjectType, colSubjectID).
		From(TableTuples).
		Where(sq.Eq{
			colObjectType:      object.Type,
			colObjectID:        object.ID,
			colRelation:        relation,
			colZoneID:          zoneID,
			colSubjectRelation: "",
		})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: building subjects-with-relation query")
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: querying subjects with relation")
	}
	defer rows.Close()

	var out []ketoapi.Entity
	for rows.Next() {
		var e ketoapi.Entity
		if err := rows.Scan(&e.Type, &e.ID); err != nil {
			return nil, errors.Wrap(err, "relationtuple: scanning subject")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "relationtuple: iterating subjects with relation")
}

// BulkFetchRequest is one (subject, relation, object) triple in a batch
// direct-tuple lookup, tagged with Index so callers can correlate results
// back to the request that produced them.
type BulkFetchRequest struct {
	Index    int
	Subject  ketoapi.Subject
	Relation string
	Object   ketoapi.Entity
	ZoneID   string
}

// BulkFetchResult pairs a BulkFetchRequest's Index with whether a matching
// direct tuple was found.
type BulkFetchResult struct {
	Index int
	Found bool
	Tuple *RelationTuple
}

// BulkFetch resolves many direct-tuple existence checks by running one
// FindDirectTuple query per request, in order; the requests are not
// batched into a single query. The bulk checker does not call it: its
// single-query prefetch is FetchEntityGraph.
func (r *Repository) BulkFetch(ctx context.Context, reqs []BulkFetchRequest) ([]BulkFetchResult, error) {
	results := make([]BulkFetchResult, len(reqs))
	for i, req := range reqs {
		t, err := r.FindDirectTuple(ctx, req.Subject, req.Relation, req.Object, req.ZoneID)
		if err != nil {
			return nil, err
		}
		results[i] = BulkFetchResult{Index: req.Index, Found: t != nil, Tuple: t}
	}
	return results, nil
}

// FetchEntityGraph fetches, in a single query, every tuple in zoneID whose
// subject or object matches one of entities — the bulk checker's Phase 1
// prefetch (spec.md §4.6), replacing what would otherwise be one query
// per (subject, permission, object) triple with one query for the whole
// batch. Expiry is filtered by the caller via RelationTuple.IsExpired, the
// same convention every other Repository finder leaves to check/direct.go.
// includeCrossZone additionally fetches any tuple whose subject is one of
// entities and whose relation is on the cross-zone allowlist, regardless
// of the tuple's own zone, mirroring _fetch_cross_zone_tuples's separate
// cross-zone pass.
func (r *Repository) FetchEntityGraph(ctx context.Context, entities []ketoapi.Entity, zoneID string, includeCrossZone bool) ([]*RelationTuple, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	or := make(sq.Or, 0, 2*len(entities))
	for _, e := range entities {
		or = append(or,
			sq.Eq{colSubjectType: e.Type, colSubjectID: e.ID},
			sq.Eq{colObjectType: e.Type, colObjectID: e.ID},
		)
	}

	sel := r.dialect.Builder().
		Select(allTupleColumns()...).
		From(TableTuples).
		Where(sq.And{sq.Eq{colZoneID: zoneID}, or})

	out, err := r.queryMany(ctx, r.db, sel)
	if err != nil {
		return nil, err
	}

	if includeCrossZone {
		crossOr := make(sq.Or, 0, len(entities))
		for _, e := range entities {
			crossOr = append(crossOr, sq.Eq{colSubjectType: e.Type, colSubjectID: e.ID})
		}
		crossSel := r.dialect.Builder().
			Select(allTupleColumns()...).
			From(TableTuples).
			Where(crossOr)
		crossTuples, err := r.queryMany(ctx, r.db, crossSel)
		if err != nil {
			return nil, err
		}
		for _, t := range crossTuples {
			if r.crossZone.Allowed(t.Relation) {
				out = append(out, t)
			}
		}
	}

	return out, nil
}

func (r *Repository) queryMany(ctx context.Context, q Querier, sel sq.SelectBuilder) ([]*RelationTuple, error) {
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: building query")
	}
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: querying tuples")
	}
	defer rows.Close()

	var out []*RelationTuple
	for rows.Next() {
		t, err := scanTupleRows(rows)
		if err != nil {
			return nil, errors.Wrap(err, "relationtuple: scanning tuple row")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "relationtuple: iterating tuples")
}

func (r *Repository) queryOne(ctx context.Context, q Querier, sel sq.SelectBuilder) (*RelationTuple, error) {
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: building query")
	}
	row := q.QueryRowContext(ctx, sqlStr, args...)
	t, err := scanTuple(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: scanning tuple")
	}
	return t, nil
}

func scanTupleRows(rows *sql.Rows) (*RelationTuple, error) {
	var (
		t          RelationTuple
		tupleID    string
		conditions []byte
		expiresAt  sql.NullTime
	)
	err := rows.Scan(
		&tupleID, &t.Subject.Type, &t.Subject.ID, &t.Subject.Relation,
		&t.Relation, &t.Object.Type, &t.Object.ID, &t.ZoneID,
		&t.SubjectZoneID, &t.ObjectZoneID, &conditions, &expiresAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(tupleID)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: parsing scanned tuple id")
	}
	t.TupleID = id
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if len(conditions) > 0 {
		c, err := ketoapi.UnmarshalConditions(json.RawMessage(conditions))
		if err != nil {
			return nil, errors.Wrap(err, "relationtuple: unmarshaling conditions")
		}
		t.Conditions = c
	}
	return &t, nil
}

func allTupleColumns() []string {
	return []string{
		colTupleID, colSubjectType, colSubjectID, colSubjectRelation,
		colRelation, colObjectType, colObjectID, colZoneID,
		colSubjectZoneID, colObjectZoneID, colConditions, colExpiresAt, colCreatedAt,
	}
}

func scanTuple(row *sql.Row) (*RelationTuple, error) {
	var (
		t          RelationTuple
		tupleID    string
		conditions []byte
		expiresAt  sql.NullTime
	)
	err := row.Scan(
		&tupleID, &t.Subject.Type, &t.Subject.ID, &t.Subject.Relation,
		&t.Relation, &t.Object.Type, &t.Object.ID, &t.ZoneID,
		&t.SubjectZoneID, &t.ObjectZoneID, &conditions, &expiresAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(tupleID)
	if err != nil {
		return nil, errors.Wrap(err, "relationtuple: parsing scanned tuple id")
	}
	t.TupleID = id
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if len(conditions) > 0 {
		c, err := ketoapi.UnmarshalConditions(json.RawMessage(conditions))
		if err != nil {
			return nil, errors.Wrap(err, "relationtuple: unmarshaling conditions")
		}
		t.Conditions = c
	}
	return &t, nil
}

func (r *Repository) appendChangelog(ctx context.Context, tx Querier, tupleID uuid.UUID, action, zoneID string) error {
	ins := r.dialect.Builder().
		Insert(TableChangelog).
		Columns(colChangeTupleID, colChangeAction, colChangeZoneID).
		Values(tupleID.String(), action, zoneID)
	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return errors.Wrap(err, "relationtuple: building changelog insert")
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return errors.Wrap(err, "relationtuple: appending changelog")
}

// enforceZoneIsolation rejects cross-zone tuples unless relation is on the
// cross-zone allowlist (spec.md §3 "Zone isolation"). There is no switch to
// turn the check off: neither the Repository nor the Manager has one, and
// no allowlist admits every relation.
func (r *Repository) enforceZoneIsolation(t *RelationTuple) error {
	subjectZone := t.SubjectZoneID
	if subjectZone == "" {
		subjectZone = t.ZoneID
	}
	objectZone := t.ObjectZoneID
	if objectZone == "" {
		objectZone = t.ZoneID
	}
	if subjectZone == objectZone {
		return nil
	}
	if r.crossZone.Allowed(t.Relation) {
		return nil
	}
	return &rebacerr.ZoneIsolationError{
		SubjectZone: subjectZone,
		ObjectZone:  objectZone,
		Relation:    t.Relation,
	}
}
