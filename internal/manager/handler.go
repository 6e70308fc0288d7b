package manager

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

// RouteBase is the admin HTTP path under which tuple-write routes are
// registered, mirroring dbtek-keto's write-service route base
// (_examples/dbtek-keto/internal/relationtuple/transact_server.go).
const RouteBase = "/admin/relation-tuples"

// Handler exposes the Permission Manager's write path over HTTP: single
// writes, single deletes, transactional batches, and bulk query-deletes.
// Single writes, single deletes and transactional batches go through
// Manager.Write/Manager.Delete, so their L1/bitmap invalidation always
// happens. A bulk query-delete goes through Manager.BulkDeleteWhere and
// then clears L1 only; bitmap positives for the deleted tuples remain.
type Handler struct {
	m      *Manager
	mapper *relationtuple.Mapper
	writer herodot.Writer
	logger *logrus.Logger
}

// NewHandler builds a Handler over m. mapper fills in a default zone for
// wire tuples that omit one; writer is the herodot response writer
// (typically herodot.NewJSONWriter(logger)).
func NewHandler(m *Manager, mapper *relationtuple.Mapper, writer herodot.Writer, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{m: m, mapper: mapper, writer: writer, logger: logger}
}

// RegisterRoutes wires the handler's routes onto r.
func (h *Handler) RegisterRoutes(r *httprouter.Router) {
	r.PUT(RouteBase, h.createRelation)
	r.DELETE(RouteBase, h.deleteRelations)
	r.POST(RouteBase+"/transact", h.transactRelations)
}

func (h *Handler) createRelation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	var wire ketoapi.RelationTuple
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
		return
	}

	it, err := h.mapper.FromWire(&wire)
	if err != nil {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
		return
	}

	h.logger.WithField("object", it.Object.String()).WithField("relation", it.Relation).Debug("writing relation tuple")

	tupleID, err := h.m.Write(ctx, WriteRequest{
		Subject: it.Subject, Relation: it.Relation, Object: it.Object,
		ZoneID: it.ZoneID, SubjectZoneID: it.SubjectZoneID, ObjectZoneID: it.ObjectZoneID,
		Conditions: it.Conditions, ExpiresAt: it.ExpiresAt,
	})
	if err != nil {
		h.logger.WithError(err).Error("failed to write relation tuple")
		h.writer.WriteError(w, r, err)
		return
	}
	it.TupleID = tupleID

	h.writer.WriteCreated(w, r, RouteBase, it.ToWire())
}

// deleteRelations removes the single tuple identified by the given query
// parameters through Manager.Delete, so its cache footprint is invalidated.
// When subject, relation or object is incomplete, it instead bulk-deletes
// every tuple matching the given filter (see below).
func (h *Handler) deleteRelations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	q := r.URL.Query()

	zoneID := q.Get("zone_id")
	if zoneID == "" {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithReason("zone_id is required")))
		return
	}

	subject := ketoapi.Subject{
		Entity:   ketoapi.Entity{Type: q.Get("subject_type"), ID: q.Get("subject_id")},
		Relation: q.Get("subject_relation"),
	}
	object := ketoapi.Entity{Type: q.Get("object_type"), ID: q.Get("object_id")}
	relation := q.Get("relation")

	if relation != "" && subject.Type != "" && subject.ID != "" && object.Type != "" && object.ID != "" {
		if err := h.m.Delete(ctx, DeleteRequest{
			Subject: subject, Relation: relation, Object: object, ZoneID: zoneID,
		}); err != nil {
			h.logger.WithError(err).Error("failed to delete relation tuple")
			h.writer.WriteError(w, r, errors.WithStack(herodot.ErrInternalServerError.WithError(err.Error())))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// A partial filter (missing subject/relation/object) is a bulk query
	// delete, which can touch tuples Manager.Delete's by-triple API can't
	// name ahead of time. Fall through to the repository's bulk delete and
	// clear L1 wholesale rather than leave an unbounded set of stale
	// entries behind; the bitmap cache has no equivalent bulk invalidation
	// (ClearCaches' own doc comment explains why) so its positives for any
	// deleted tuple remain until naturally evicted or individually
	// invalidated by a later targeted write/delete.
	n, err := h.m.BulkDeleteWhere(ctx, relationtuple.DeleteWhereQuery{
		SubjectType: subject.Type, SubjectID: subject.ID, SubjectRelation: subject.Relation,
		Relation: relation, ObjectType: object.Type, ObjectID: object.ID, ZoneID: zoneID,
	})
	if err != nil {
		h.logger.WithError(err).Error("failed to bulk delete relation tuples")
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrInternalServerError.WithError(err.Error())))
		return
	}
	h.m.ClearCaches()
	h.logger.WithField("count", n).Debug("bulk deleted relation tuples")
	w.WriteHeader(http.StatusNoContent)
}

type transactRequest struct {
	Inserts []ketoapi.RelationTuple `json:"inserts"`
	Deletes []ketoapi.RelationTuple `json:"deletes"`
}

// transactRelations applies a batch of inserts, each through Manager.Write,
// followed by deletes by exact match through Manager.Delete. Nexus does not
// offer cross-tuple atomicity beyond what each individual write's own
// transaction already gives (spec.md §4.1 Non-goals: no distributed
// multi-statement transactions).
func (h *Handler) transactRelations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	var req transactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
		return
	}

	for i := range req.Inserts {
		it, err := h.mapper.FromWire(&req.Inserts[i])
		if err != nil {
			h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
			return
		}
		if _, err := h.m.Write(ctx, WriteRequest{
			Subject: it.Subject, Relation: it.Relation, Object: it.Object,
			ZoneID: it.ZoneID, SubjectZoneID: it.SubjectZoneID, ObjectZoneID: it.ObjectZoneID,
			Conditions: it.Conditions, ExpiresAt: it.ExpiresAt,
		}); err != nil {
			h.writer.WriteError(w, r, err)
			return
		}
	}

	for i := range req.Deletes {
		it, err := h.mapper.FromWire(&req.Deletes[i])
		if err != nil {
			h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
			return
		}
		if err := h.m.Delete(ctx, DeleteRequest{
			Subject: it.Subject, Relation: it.Relation, Object: it.Object,
			ZoneID: it.ZoneID, SubjectZoneID: it.SubjectZoneID,
		}); err != nil {
			h.writer.WriteError(w, r, errors.WithStack(herodot.ErrInternalServerError.WithError(err.Error())))
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
