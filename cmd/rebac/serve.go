package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nexus-rebac/rebac/internal/manager"
	"github.com/nexus-rebac/rebac/internal/relationtuple"
	"github.com/nexus-rebac/rebac/ketoapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP admin and read surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		router := httprouter.New()
		writer := herodot.NewJSONWriter(a.log)

		manager.NewHandler(a.mgr, relationtuple.NewMapper(""), writer, a.log).RegisterRoutes(router)
		newReadHandler(a.mgr, writer).RegisterRoutes(router)

		a.log.WithField("addr", serveAddr).Info("starting rebac server")
		return http.ListenAndServe(serveAddr, router)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":4466", "address to listen on")
}

// readHandler exposes the read path (check/expand) over HTTP.
// dbtek-keto's own retrieved files only demonstrate the write-service
// surface (transact_server.go); this handler is Nexus's own addition for
// the read path, built in the same httprouter+herodot idiom.
type readHandler struct {
	mgr    *manager.Manager
	writer herodot.Writer
}

func newReadHandler(mgr *manager.Manager, writer herodot.Writer) *readHandler {
	return &readHandler{mgr: mgr, writer: writer}
}

func (h *readHandler) RegisterRoutes(r *httprouter.Router) {
	r.POST("/relation-tuples/check", h.check)
	r.GET("/relation-tuples/expand", h.expand)
}

type checkRequestBody struct {
	Subject    ketoapi.Subject  `json:"subject"`
	Permission string           `json:"permission"`
	Object     ketoapi.Entity   `json:"object"`
	ZoneID     string           `json:"zone_id"`
	Context    *ketoapi.Context `json:"context,omitempty"`
}

func (h *readHandler) check(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body checkRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithError(err.Error())))
		return
	}

	ok, err := h.mgr.Check(r.Context(), manager.CheckRequest{
		Subject: body.Subject, Permission: body.Permission, Object: body.Object,
		ZoneID: body.ZoneID, Context: body.Context,
	})
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.Write(w, r, map[string]bool{"allowed": ok})
}

func (h *readHandler) expand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	permission := q.Get("permission")
	objectType := q.Get("object_type")
	objectID := q.Get("object_id")
	zoneID := q.Get("zone_id")
	if permission == "" || objectType == "" || objectID == "" || zoneID == "" {
		h.writer.WriteError(w, r, errors.WithStack(herodot.ErrBadRequest.WithReason(
			"permission, object_type, object_id, and zone_id are required")))
		return
	}

	subjects, err := h.mgr.Expand(context.Background(), permission, ketoapi.Entity{Type: objectType, ID: objectID}, zoneID)
	if err != nil {
		h.writer.WriteError(w, r, err)
		return
	}
	h.writer.Write(w, r, map[string][]ketoapi.Entity{"subjects": subjects})
}
