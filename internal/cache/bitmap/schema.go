package bitmap

// TableResourceMap is the only table the Bitmap Cache needs to persist
// (spec.md §4.5: "persistence is required only for the map — bitmaps can
// be rebuilt lazily on miss"). Exact DDL mirrors
// internal/relationtuple/schema.go's per-dialect DDL map shape.
const TableResourceMap = "rebac_bitmap_resource_map"

// DDL holds the CREATE TABLE statements for each supported dialect.
var DDL = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS ` + TableResourceMap + ` (
			zone_id TEXT NOT NULL,
			object_type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			resource_id BIGINT NOT NULL,
			PRIMARY KEY (zone_id, object_type, object_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_` + TableResourceMap + `_id ON ` + TableResourceMap + ` (resource_id)`,
	},
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS ` + TableResourceMap + ` (
			zone_id TEXT NOT NULL,
			object_type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			resource_id INTEGER NOT NULL,
			PRIMARY KEY (zone_id, object_type, object_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_` + TableResourceMap + `_id ON ` + TableResourceMap + ` (resource_id)`,
	},
}
