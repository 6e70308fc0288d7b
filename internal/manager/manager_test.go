package manager_test

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
	"github.com/nexus-rebac/rebac/internal/manager"
	"github.com/nexus-rebac/rebac/internal/namespace"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

const zoneA = "org-a"
const zoneB = "org-b"

func plainSubject(id string) ketoapi.Subject {
	return ketoapi.Subject{Entity: ketoapi.Entity{Type: "user", ID: id}}
}

// newTestRepo and newManager must share one *relationtuple.CrossZoneAllowlist
// instance: enforceZoneIsolation (repository.go) consults the Repository's
// own allowlist at write time, and Manager.RegisterSharedRelation mutates
// whatever allowlist Manager was built with. Two separate instances would
// let RegisterSharedRelation silently fail to affect write-time enforcement.
func newTestRepo(t *testing.T, allowlist *relationtuple.CrossZoneAllowlist) *relationtuple.Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range relationtuple.DDL["sqlite"] {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return relationtuple.NewRepository(db, relationtuple.SQLite, allowlist)
}

func newManager(t *testing.T, repo *relationtuple.Repository, l1Cache *l1.Cache, allowlist *relationtuple.CrossZoneAllowlist) *manager.Manager {
	t.Helper()
	reg := namespace.NewRegistry()
	return manager.New(repo, reg, config.New(nil), l1Cache, nil, allowlist, nil)
}

func TestManagerWriteThenCheckGrants(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	ok, err := m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("alice"), Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("bob"), Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerCheckCachesPositiveInL1(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	m := newManager(t, repo, cache, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	ok, err := m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("alice"), Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, hit := cache.Get(context.Background(), "user", "alice", "viewer", "file", "doc.txt", zoneA)
	assert.True(t, hit)
	assert.True(t, got)
}

func TestManagerDeleteInvalidatesL1AndRevokesAccess(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	m := newManager(t, repo, cache, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}
	subj := plainSubject("alice")

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: subj, Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	ok, err := m.Check(context.Background(), manager.CheckRequest{Subject: subj, Permission: "viewer", Object: obj, ZoneID: zoneA})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Delete(context.Background(), manager.DeleteRequest{
		Subject: subj, Relation: "viewer", Object: obj, ZoneID: zoneA,
	}))

	_, hit := cache.Get(context.Background(), "user", "alice", "viewer", "file", "doc.txt", zoneA)
	assert.False(t, hit, "delete must invalidate the cached positive")

	ok, err = m.Check(context.Background(), manager.CheckRequest{Subject: subj, Permission: "viewer", Object: obj, ZoneID: zoneA})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerWriteCrossZoneShareInvalidatesBothZones(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	m := newManager(t, repo, cache, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}
	subj := plainSubject("alice")

	// Poison a stale negative in both zones, as if checked before the share existed.
	cache.Set(context.Background(), "user", "alice", "shared-viewer", "file", "doc.txt", false, l1.WithZone(zoneA))
	cache.Set(context.Background(), "user", "alice", "shared-viewer", "file", "doc.txt", false, l1.WithZone(zoneB))

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: subj, Relation: "shared-viewer", Object: obj,
		ZoneID: zoneA, SubjectZoneID: zoneB, ObjectZoneID: zoneA,
	})
	require.NoError(t, err)

	_, hitA := cache.Get(context.Background(), "user", "alice", "shared-viewer", "file", "doc.txt", zoneA)
	_, hitB := cache.Get(context.Background(), "user", "alice", "shared-viewer", "file", "doc.txt", zoneB)
	assert.False(t, hitA, "object zone must be invalidated")
	assert.False(t, hitB, "subject's own zone must also be invalidated for a cross-zone share")
}

func TestManagerExpandReturnsGrantedSubjects(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	_, err = m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("bob"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	subs, err := m.Expand(context.Background(), "viewer", obj, zoneA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ketoapi.Entity{
		{Type: "user", ID: "alice"},
		{Type: "user", ID: "bob"},
	}, subs)
}

func TestManagerExplainReportsGrantingPath(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}
	subj := plainSubject("alice")

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: subj, Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	ok, node, err := m.Explain(context.Background(), manager.CheckRequest{
		Subject: subj, Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, node)
}

func TestManagerCheckBulkDelegatesToBulkChecker(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}
	subj := plainSubject("alice")

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: subj, Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	triples := []bulk.Triple{{Subject: subj, Permission: "viewer", Object: obj}}
	results, err := m.CheckBulk(context.Background(), triples, zoneA, bulk.Eventual)
	require.NoError(t, err)
	assert.True(t, results[triples[0]].Allowed)
}

func TestManagerWriteRejectsCrossZoneForNonSharedRelation(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "viewer", Object: obj,
		ZoneID: zoneA, SubjectZoneID: zoneB, ObjectZoneID: zoneA,
	})
	assert.Error(t, err, "plain relations may not cross zones")
}

func TestManagerRegisterSharedRelationAllowsCrossZoneWrite(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	m.RegisterSharedRelation("org-collaborator")
	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "org-collaborator", Object: obj,
		ZoneID: zoneA, SubjectZoneID: zoneB, ObjectZoneID: zoneA,
	})
	assert.NoError(t, err, "org-collaborator was explicitly registered as cross-zone allowed")
}

func TestManagerCacheStatsZeroValueWithoutL1(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	assert.Equal(t, l1.Stats{}, m.CacheStats())
	assert.Equal(t, bitmap.Stats{}, m.BitmapStats())
}
