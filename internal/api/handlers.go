package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/pageservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *pageservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *pageservice.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// quoteETag renders a change token as a strong entity tag.
func quoteETag(token string) string {
	return `"` + token + `"`
}

// unquoteETag accepts a quoted, weak or bare entity tag.
func unquoteETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func intQuery(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages, newest first
//	@Tags			pages
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{object}	PageListResponse
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.svc.List(r.Context(), r.URL.Query().Get("tag"), intQuery(r, "limit"), intQuery(r, "offset"))
	if err != nil {
		h.writeError(w, "list pages", "", err)
		return
	}
	resp := PageListResponse{Pages: make([]PageListItem, 0, len(entries)), Total: total}
	for _, e := range entries {
		resp.Pages = append(resp.Pages, listItem(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPage handles GET /api/pages/{slug}.
//
//	@Summary		Get a single page
//	@Tags			pages
//	@Produce		json
//	@Param			slug			path		string	true	"Page slug"
//	@Param			If-None-Match	header		string	false	"Change token from a previous read"
//	@Success		200				{object}	PageDetail
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Router			/pages/{slug} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, err := h.svc.Get(r.Context(), slug)
	if err != nil {
		h.writeError(w, "get page", slug, err)
		return
	}
	etag := quoteETag(string(page.ETag))
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && unquoteETag(inm) == string(page.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// PutPage handles PUT /api/pages/{slug}.
//
//	@Summary		Create or replace a page with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			slug		path		string			true	"Page slug"
//	@Param			If-Match	header		string			false	"Change token of the revision being replaced"
//	@Param			body		body		PutPageRequest	true	"Page content"
//	@Success		200			{object}	PageDetail
//	@Success		201			{object}	PageDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/pages/{slug} [put]
func (h *Handler) PutPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	slug := chi.URLParam(r, "slug")

	var req PutPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	page, err := h.svc.Save(r.Context(), slug, req, unquoteETag(r.Header.Get("If-Match")))
	if err != nil {
		h.writeError(w, "save page", slug, err)
		return
	}
	w.Header().Set("ETag", quoteETag(string(page.ETag)))
	status := http.StatusOK
	if page.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, page)
}

// DeletePage handles DELETE /api/pages/{slug}.
//
//	@Summary		Delete a page
//	@Tags			pages
//	@Param			slug	path	string	true	"Page slug"
//	@Success		204		"Page deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/pages/{slug} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.svc.Delete(r.Context(), slug); err != nil {
		h.writeError(w, "delete page", slug, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Ranked search across pages
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Query: terms, \"phrases\", NOT term, tag:name"
//	@Param			limit	query		int		false	"Max results (default 50, max 200)"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.svc.Search(r.Context(), q, intQuery(r, "limit"))
	if err != nil {
		h.writeError(w, "search", "", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResults(results))
}

// Suggest handles GET /api/suggest.
//
//	@Summary		Type-ahead suggestions
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Prefix, at least two characters"
//	@Param			limit	query		int		false	"Max results (default 8, max 15)"
//	@Success		200		{object}	SearchResponse
//	@Router			/suggest [get]
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.Suggest(r.Context(), r.URL.Query().Get("q"), intQuery(r, "limit"))
	if err != nil {
		h.writeError(w, "suggest", "", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResults(results))
}

// StartRebuild handles POST /api/index/rebuild.
//
//	@Summary		Start a background index rebuild
//	@Tags			index
//	@Produce		json
//	@Success		202	{object}	index.Status
//	@Failure		409	{object}	index.Status
//	@Router			/index/rebuild [post]
func (h *Handler) StartRebuild(w http.ResponseWriter, r *http.Request) {
	started, st := h.svc.RebuildStart(r.Context())
	if !started {
		writeJSON(w, http.StatusConflict, st)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// RebuildStatus handles GET /api/index/status.
//
//	@Summary		Rebuild job progress
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	index.Status
//	@Router			/index/status [get]
func (h *Handler) RebuildStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RebuildStatus())
}

// CheckIndex handles GET /api/index/check.
//
//	@Summary		Index consistency report
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	pageservice.CheckReport
//	@Router			/index/check [get]
func (h *Handler) CheckIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Check(r.Context()))
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /health/ready. Queries are served by the live scan while
// the index is missing, so readiness only reports the index state.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Check(r.Context())
	st := h.svc.RebuildStatus()
	resp := HealthResponse{Status: "ok", Index: string(report.Reason), Rebuild: string(st.Phase)}
	if report.Reason != index.ReasonOK && st.Phase == index.PhaseError {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
