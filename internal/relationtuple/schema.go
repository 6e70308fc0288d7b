package relationtuple

// Table and column names for the tuple store, the per-zone revision
// table, and the write-audit changelog (spec.md §6: "two primary tables —
// the tuple store and a monotonic per-zone revision table — plus optional
// auxiliary tables... for write-audit changelog"). Exact DDL is
// implementation-defined; these constants just keep every query builder
// in this package agreeing on names.
const (
	TableTuples     = "rebac_tuples"
	TableRevisions  = "rebac_zone_revisions"
	TableChangelog  = "rebac_tuple_changelog"

	colTupleID         = "tuple_id"
	colSubjectType     = "subject_type"
	colSubjectID       = "subject_id"
	colSubjectRelation = "subject_relation"
	colRelation        = "relation"
	colObjectType      = "object_type"
	colObjectID        = "object_id"
	colZoneID          = "zone_id"
	colSubjectZoneID   = "subject_zone_id"
	colObjectZoneID    = "object_zone_id"
	colConditions      = "conditions"
	colExpiresAt       = "expires_at"
	colCreatedAt       = "created_at"

	colZoneRevZone     = "zone_id"
	colZoneRevRevision = "revision"

	colChangeID       = "change_id"
	colChangeTupleID  = "tuple_id"
	colChangeAction   = "action"
	colChangeZoneID   = "zone_id"
	colChangeAt       = "changed_at"
)

// DDL holds the CREATE TABLE statements for each supported dialect. These
// are applied by pkg/migrator-style tooling in cmd/rebac, not by the
// Repository itself — the Repository only ever issues DML.
var DDL = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS ` + TableTuples + ` (
			tuple_id UUID PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			subject_relation TEXT NOT NULL DEFAULT '',
			relation TEXT NOT NULL,
			object_type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			subject_zone_id TEXT NOT NULL,
			object_zone_id TEXT NOT NULL,
			conditions JSONB,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (subject_type, subject_id, subject_relation, relation, object_type, object_id, zone_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebac_tuples_object ON ` + TableTuples + ` (zone_id, object_type, object_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rebac_tuples_subject ON ` + TableTuples + ` (zone_id, subject_type, subject_id)`,
		`CREATE TABLE IF NOT EXISTS ` + TableRevisions + ` (
			zone_id TEXT PRIMARY KEY,
			revision BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + TableChangelog + ` (
			change_id BIGSERIAL PRIMARY KEY,
			tuple_id UUID NOT NULL,
			action TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS ` + TableTuples + ` (
			tuple_id TEXT PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			subject_relation TEXT NOT NULL DEFAULT '',
			relation TEXT NOT NULL,
			object_type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			subject_zone_id TEXT NOT NULL,
			object_zone_id TEXT NOT NULL,
			conditions BLOB,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			UNIQUE (subject_type, subject_id, subject_relation, relation, object_type, object_id, zone_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebac_tuples_object ON ` + TableTuples + ` (zone_id, object_type, object_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rebac_tuples_subject ON ` + TableTuples + ` (zone_id, subject_type, subject_id)`,
		`CREATE TABLE IF NOT EXISTS ` + TableRevisions + ` (
			zone_id TEXT PRIMARY KEY,
			revision INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + TableChangelog + ` (
			change_id INTEGER PRIMARY KEY AUTOINCREMENT,
			tuple_id TEXT NOT NULL,
			action TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
}
