// Package httpapi exposes the registry service over a JSON HTTP API. The
// caller identity arrives pre-resolved in request headers; authentication
// itself is handled upstream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vigiecore/internal/core"
	"vigiecore/pkg/domain"
)

// Identity headers supplied by the upstream gateway.
const (
	headerStructureID   = "X-Vigie-Structure"
	headerStructureName = "X-Vigie-Structure-Name"
	headerStructureKind = "X-Vigie-Structure-Kind"
	headerRoles         = "X-Vigie-Roles"
	// headerExpected carries the optimistic-concurrency token for content
	// edits, formatted as RFC 3339 with nanoseconds.
	headerExpected = "X-Vigie-Expected-Updated-At"
)

// Handler bundles the registry service behind HTTP endpoints.
type Handler struct {
	service *core.Service
}

// NewRouter builds the API router. metricsHandler, when non-nil, is mounted
// at /metrics (typically promhttp over the service's registry).
func NewRouter(service *core.Service, metricsHandler http.Handler) http.Handler {
	h := &Handler{service: service}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/records", h.handleList)
		api.Post("/records/{family}", h.handleCreate)
		api.Get("/records/{family}/{id}", h.handleGet)
		api.Put("/records/{family}/{id}", h.handleUpdate)
		api.Post("/records/{family}/{id}/publish", h.lifecycle(h.service.Publish))
		api.Post("/records/{family}/{id}/close", h.lifecycle(h.service.Close))
		api.Delete("/records/{family}/{id}", h.lifecycle(h.service.SoftDelete))
		api.Post("/records/{family}/{id}/undelete", h.lifecycle(h.service.Undelete))
		api.Put("/records/{family}/{id}/visibility", h.handleVisibility)
		api.Get("/records/{family}/{id}/links", h.handleLinks)
		api.Post("/links", h.handleLink)
		api.Delete("/links", h.handleUnlink)
	})

	return r
}

func actorFromRequest(r *http.Request) (domain.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerStructureID))
	if id == "" {
		return domain.Actor{}, errors.New("missing structure header")
	}
	kind := domain.StructureKind(strings.TrimSpace(r.Header.Get(headerStructureKind)))
	switch kind {
	case domain.KindLocalUnit, domain.KindRegionalDirectorate,
		domain.KindCentralDirectorate, domain.KindNationalLaboratory:
	default:
		return domain.Actor{}, errors.New("missing or unknown structure kind header")
	}
	actor := domain.Actor{Structure: domain.Structure{
		ID:   id,
		Name: strings.TrimSpace(r.Header.Get(headerStructureName)),
		Kind: kind,
	}}
	for _, role := range strings.Split(r.Header.Get(headerRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			actor.Roles = append(actor.Roles, domain.Role(role))
		}
	}
	return actor, nil
}

func refFromRequest(r *http.Request) (domain.RecordRef, error) {
	family := domain.Family(chi.URLParam(r, "family"))
	if !domain.KnownFamily(family) {
		return domain.RecordRef{}, errors.New("unknown record family")
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return domain.RecordRef{}, errors.New("missing record id")
	}
	return domain.RecordRef{Family: family, ID: id}, nil
}

func expectedFromRequest(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.Header.Get(headerExpected))
	if raw == "" {
		return time.Time{}, errors.New("missing " + headerExpected + " header")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New("malformed " + headerExpected + " header")
	}
	return t, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	req, err := listRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := h.service.List(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func listRequestFromQuery(r *http.Request) (core.ListRequest, error) {
	q := r.URL.Query()
	req := core.ListRequest{
		CreatorStructure: q.Get("creator"),
		Search:           q.Get("q"),
		OrderBy:          core.OrderField(q.Get("order_by")),
		Ascending:        q.Get("asc") == "true",
		IncludeDeleted:   q.Get("include_deleted") == "true",
	}
	for _, raw := range q["family"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				req.Families = append(req.Families, domain.Family(tag))
			}
		}
	}
	for _, raw := range q["status"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				req.Statuses = append(req.Statuses, domain.Status(tag))
			}
		}
	}
	for name, dst := range map[string]*int{"year": &req.Year, "page": &req.Page, "size": &req.Size} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return core.ListRequest{}, errors.New("malformed " + name + " parameter")
		}
		*dst = v
	}
	return req, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	family := domain.Family(chi.URLParam(r, "family"))
	if !domain.KnownFamily(family) {
		writeError(w, http.StatusBadRequest, errors.New("unknown record family"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var record domain.EventRecord
	switch family {
	case domain.FamilySimpleReport:
		var in domain.SimpleReport
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err = h.service.CreateSimpleReport(r.Context(), actor, in)
	case domain.FamilyInvestigation:
		var in domain.Investigation
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err = h.service.CreateInvestigation(r.Context(), actor, in)
	case domain.FamilyDetectionSheet:
		var in domain.DetectionSheet
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err = h.service.CreateDetectionSheet(r.Context(), actor, in)
	case domain.FamilyZoneSheet:
		var in domain.ZoneSheet
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err = h.service.CreateZoneSheet(r.Context(), actor, in)
	case domain.FamilyProductEvent:
		var in domain.ProductEvent
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err = h.service.CreateProductEvent(r.Context(), actor, in)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleUpdate applies a partial content edit: the JSON body is merged into
// the stored record, so absent fields keep their values.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	expected, err := expectedFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("malformed JSON body"))
		return
	}

	var record domain.EventRecord
	switch ref.Family {
	case domain.FamilySimpleReport:
		record, _, err = h.service.UpdateSimpleReport(r.Context(), actor, ref.ID, expected, func(rec *domain.SimpleReport) error {
			return json.Unmarshal(body, rec)
		})
	case domain.FamilyInvestigation:
		record, _, err = h.service.UpdateInvestigation(r.Context(), actor, ref.ID, expected, func(rec *domain.Investigation) error {
			return json.Unmarshal(body, rec)
		})
	case domain.FamilyDetectionSheet:
		record, _, err = h.service.UpdateDetectionSheet(r.Context(), actor, ref.ID, expected, func(rec *domain.DetectionSheet) error {
			return json.Unmarshal(body, rec)
		})
	case domain.FamilyZoneSheet:
		record, _, err = h.service.UpdateZoneSheet(r.Context(), actor, ref.ID, expected, func(rec *domain.ZoneSheet) error {
			return json.Unmarshal(body, rec)
		})
	case domain.FamilyProductEvent:
		record, _, err = h.service.UpdateProductEvent(r.Context(), actor, ref.ID, expected, func(rec *domain.ProductEvent) error {
			return json.Unmarshal(body, rec)
		})
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := h.service.Get(r.Context(), actor, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type lifecycleOp func(ctx context.Context, actor domain.Actor, ref domain.RecordRef) (domain.EventRecord, domain.Result, error)

func (h *Handler) lifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ref, err := refFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, _, err := op(r.Context(), actor, ref)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

type visibilityRequest struct {
	Visibility        string   `json:"visibility"`
	AllowedStructures []string `json:"allowed_structures"`
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, _, err := h.service.UpdateVisibility(r.Context(), actor, ref, domain.Visibility(req.Visibility), req.AllowedStructures)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	links, err := h.service.Links(r.Context(), actor, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

type linkRequest struct {
	A domain.RecordRef `json:"a"`
	B domain.RecordRef `json:"b"`
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	h.linkOp(w, r, h.service.Link, http.StatusCreated)
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	h.linkOp(w, r, h.service.Unlink, http.StatusOK)
}

func (h *Handler) linkOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor domain.Actor, a, b domain.RecordRef) (domain.Result, error), status int) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !domain.KnownFamily(req.A.Family) || !domain.KnownFamily(req.B.Family) {
		writeError(w, http.StatusBadRequest, errors.New("unknown record family"))
		return
	}
	if _, err := op(r.Context(), actor, req.A, req.B); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, map[string]string{"status": "ok"})
}

// writeDomainError maps typed domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound     domain.NotFoundError
		permission   domain.PermissionError
		invalidState domain.InvalidStateError
		precondition domain.PreconditionError
		conflict     domain.ConflictError
		violation    domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &permission):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &invalidState):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &precondition):
		writeError(w, http.StatusPreconditionFailed, err)
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"violations": violation.Result.Violations,
		})
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
