package bulk_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rebac/rebac/internal/bulk"
	"github.com/nexus-rebac/rebac/internal/cache/bitmap"
	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/driver/config"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

const zone = "zone-a"

func plainSubject(id string) ketoapi.Subject {
	return ketoapi.Subject{Entity: ketoapi.Entity{Type: "user", ID: id}}
}

func newTestRepo(t *testing.T) *relationtuple.Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range relationtuple.DDL["sqlite"] {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return relationtuple.NewRepository(db, relationtuple.SQLite, relationtuple.NewCrossZoneAllowlist())
}

func mustInsert(t *testing.T, repo *relationtuple.Repository, subject ketoapi.Subject, relation string, object ketoapi.Entity) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &relationtuple.RelationTuple{
		Subject: subject, Relation: relation, Object: object,
		ZoneID: zone, SubjectZoneID: zone, ObjectZoneID: zone,
	}))
}

func TestCheckBulkDirectGrants(t *testing.T) {
	repo := newTestRepo(t)
	obj1 := ketoapi.Entity{Type: "file", ID: "a.txt"}
	obj2 := ketoapi.Entity{Type: "file", ID: "b.txt"}
	mustInsert(t, repo, plainSubject("alice"), "viewer", obj1)

	reg := namespace.NewRegistry()
	c := bulk.New(repo, reg, config.New(nil), nil, nil, false, nil)

	triples := []bulk.Triple{
		{Subject: plainSubject("alice"), Permission: "viewer", Object: obj1},
		{Subject: plainSubject("alice"), Permission: "viewer", Object: obj2},
	}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Eventual)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed)
	assert.False(t, results[triples[1]].Allowed)
}

func TestCheckBulkEmptyInput(t *testing.T) {
	repo := newTestRepo(t)
	reg := namespace.NewRegistry()
	c := bulk.New(repo, reg, config.New(nil), nil, nil, false, nil)

	results, err := c.CheckBulk(context.Background(), nil, zone, bulk.Eventual)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCheckBulkSharesParentHierarchy(t *testing.T) {
	repo := newTestRepo(t)
	root := ketoapi.Entity{Type: "file", ID: "/workspace"}
	nested := ketoapi.Entity{Type: "file", ID: "/workspace/project/src/main.go"}
	mustInsert(t, repo, plainSubject("alice"), "direct_viewer", root)

	schema := map[string]string{
		"file": `{
			"relations": {
				"direct_viewer": {"this": {}},
				"parent": {"this": {}}
			},
			"permissions": {
				"viewer": ["direct_viewer", {"tupleToUserset": {"tupleset": "parent", "computedUserset": "viewer"}}]
			}
		}`,
	}
	reg := namespace.NewRegistry()
	var configs []*namespace.Config
	for objType, raw := range schema {
		cfg, err := namespace.Parse(objType, []byte(raw))
		require.NoError(t, err)
		configs = append(configs, cfg)
	}
	reg.Reload(configs)

	c := bulk.New(repo, reg, config.New(nil), nil, nil, false, nil)
	triples := []bulk.Triple{
		{Subject: plainSubject("alice"), Permission: "viewer", Object: nested},
	}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Eventual)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed, "viewer on an ancestor directory should flow down via synthesized parent edges")
}

func TestCheckBulkL1HitSkipsFetch(t *testing.T) {
	repo := newTestRepo(t)
	obj := ketoapi.Entity{Type: "file", ID: "a.txt"}

	reg := namespace.NewRegistry()
	cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	cache.Set(context.Background(), "user", "alice", "viewer", "file", "a.txt", true, l1.WithZone(zone))

	c := bulk.New(repo, reg, config.New(nil), cache, nil, false, nil)
	triples := []bulk.Triple{{Subject: plainSubject("alice"), Permission: "viewer", Object: obj}}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Eventual)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed)

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
}

func TestCheckBulkBitmapHitWritesThroughL1(t *testing.T) {
	repo := newTestRepo(t)
	obj := ketoapi.Entity{Type: "file", ID: "a.txt"}

	reg := namespace.NewRegistry()
	l1Cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	bitmapCache := bitmap.New(bitmap.NewRegistry(nil))
	bitmapCache.AddPositivesBulk([]bitmap.WriteThroughEntry{
		{SubjectType: "user", SubjectID: "alice", Permission: "viewer", ObjectType: "file", ObjectID: "a.txt", ZoneID: zone},
	})

	c := bulk.New(repo, reg, config.New(nil), l1Cache, bitmapCache, false, nil)
	triples := []bulk.Triple{{Subject: plainSubject("alice"), Permission: "viewer", Object: obj}}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Eventual)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed)

	got, ok := l1Cache.Get(context.Background(), "user", "alice", "viewer", "file", "a.txt", zone)
	assert.True(t, ok, "a bitmap hit should be written through to L1")
	assert.True(t, got)
}

func TestCheckBulkSoftDeadlineDeniesRemainder(t *testing.T) {
	repo := newTestRepo(t)
	obj := ketoapi.Entity{Type: "file", ID: "a.txt"}
	mustInsert(t, repo, plainSubject("alice"), "viewer", obj)

	reg := namespace.NewRegistry()
	cfg := config.New(nil)
	require.NoError(t, cfg.Set(config.KeyBulkSoftDeadline, 0))

	c := bulk.New(repo, reg, cfg, nil, nil, false, nil)
	triples := []bulk.Triple{
		{Subject: plainSubject("alice"), Permission: "viewer", Object: obj},
		{Subject: plainSubject("bob"), Permission: "viewer", Object: obj},
	}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Eventual)
	require.NoError(t, err)

	for _, tr := range triples {
		r := results[tr]
		assert.True(t, r.TimedOut, "a zero soft deadline must expire before Phase 2 starts")
		assert.False(t, r.Allowed, "a timed-out entry is always denied, even one that would otherwise be granted")
	}
}

func TestCheckBulkConsistencyBoundedSkipsCaches(t *testing.T) {
	repo := newTestRepo(t)
	obj := ketoapi.Entity{Type: "file", ID: "a.txt"}
	mustInsert(t, repo, plainSubject("alice"), "viewer", obj)

	reg := namespace.NewRegistry()
	l1Cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	// Poison the L1 cache with a stale wrong answer; BOUNDED must not use it.
	l1Cache.Set(context.Background(), "user", "alice", "viewer", "file", "a.txt", false, l1.WithZone(zone))

	c := bulk.New(repo, reg, config.New(nil), l1Cache, nil, false, nil)
	triples := []bulk.Triple{{Subject: plainSubject("alice"), Permission: "viewer", Object: obj}}
	results, err := c.CheckBulk(context.Background(), triples, zone, bulk.Bounded)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed, "BOUNDED consistency must bypass the stale L1 entry and recompute")
}
