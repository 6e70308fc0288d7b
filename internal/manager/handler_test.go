package manager_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/ory/herodot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rebac/rebac/internal/cache/l1"
	"github.com/nexus-rebac/rebac/internal/manager"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

func newTestHandler(t *testing.T, m *manager.Manager) http.Handler {
	t.Helper()
	router := httprouter.New()
	log := logrus.New()
	h := manager.NewHandler(m, relationtuple.NewMapper(zoneA), herodot.NewJSONWriter(log), log)
	h.RegisterRoutes(router)
	return router
}

func TestHandlerCreateRelationWritesThroughManager(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	router := newTestHandler(t, m)

	body, err := json.Marshal(ketoapi.RelationTuple{
		Subject:  plainSubject("alice"),
		Relation: "viewer",
		Object:   ketoapi.Entity{Type: "file", ID: "doc.txt"},
		ZoneID:   zoneA,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, manager.RouteBase, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	ok, err := m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("alice"), Permission: "viewer",
		Object: ketoapi.Entity{Type: "file", ID: "doc.txt"}, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandlerCreateRelationRejectsMalformedBody(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	router := newTestHandler(t, m)

	req := httptest.NewRequest(http.MethodPut, manager.RouteBase, bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDeleteRelationsExactMatchInvalidatesCache(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	l1Cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	m := newManager(t, repo, l1Cache, allowlist)
	router := newTestHandler(t, m)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}
	subj := plainSubject("alice")

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: subj, Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	ok, err := m.Check(context.Background(), manager.CheckRequest{
		Subject: subj, Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodDelete, manager.RouteBase+
		"?subject_type=user&subject_id=alice&relation=viewer&object_type=file&object_id=doc.txt&zone_id="+zoneA, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ok, err = m.Check(context.Background(), manager.CheckRequest{
		Subject: subj, Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandlerDeleteRelationsBulkQueryClearsCaches(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	l1Cache := l1.New(l1.Config{MaxSize: 100, BaseTTL: 0})
	m := newManager(t, repo, l1Cache, allowlist)
	router := newTestHandler(t, m)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("alice"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	_, err = m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("bob"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob"} {
		ok, err := m.Check(context.Background(), manager.CheckRequest{
			Subject: plainSubject(id), Permission: "viewer", Object: obj, ZoneID: zoneA,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	// No subject/relation given: a bulk query delete by object alone.
	req := httptest.NewRequest(http.MethodDelete, manager.RouteBase+
		"?object_type=file&object_id=doc.txt&zone_id="+zoneA, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, id := range []string{"alice", "bob"} {
		ok, err := m.Check(context.Background(), manager.CheckRequest{
			Subject: plainSubject(id), Permission: "viewer", Object: obj, ZoneID: zoneA,
		})
		require.NoError(t, err)
		assert.False(t, ok, "bulk delete should have removed %s's grant", id)
	}
}

func TestHandlerTransactRelationsAppliesInsertsThenDeletes(t *testing.T) {
	allowlist := relationtuple.NewCrossZoneAllowlist()
	repo := newTestRepo(t, allowlist)
	m := newManager(t, repo, nil, allowlist)
	router := newTestHandler(t, m)
	obj := ketoapi.Entity{Type: "file", ID: "doc.txt"}

	_, err := m.Write(context.Background(), manager.WriteRequest{
		Subject: plainSubject("bob"), Relation: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"inserts": []ketoapi.RelationTuple{{
			Subject: plainSubject("alice"), Relation: "viewer", Object: obj, ZoneID: zoneA,
		}},
		"deletes": []ketoapi.RelationTuple{{
			Subject: plainSubject("bob"), Relation: "viewer", Object: obj, ZoneID: zoneA,
		}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, manager.RouteBase+"/transact", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("alice"), Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.True(t, ok, "insert from the transact batch should have applied")

	ok, err = m.Check(context.Background(), manager.CheckRequest{
		Subject: plainSubject("bob"), Permission: "viewer", Object: obj, ZoneID: zoneA,
	})
	require.NoError(t, err)
	assert.False(t, ok, "delete from the transact batch should have applied")
}
