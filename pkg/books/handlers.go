package books

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Scopes required by the book endpoints. Read endpoints require
// ScopeRead; mutating endpoints require ScopeWrite.
const (
	ScopeRead  = "books:read"
	ScopeWrite = "books:write"
)

// maxBodySize caps request bodies at 1 MB.
const maxBodySize = 1 << 20

// AdmissionGate is the middleware factory the handlers mount in front of
// protected routes. Implemented by the admission package's Gate.
type AdmissionGate interface {
	Require(scopes ...string) func(http.Handler) http.Handler
}

// HealthChecker reports dependency health for the health endpoint.
// Implemented by the postgres client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the book API over HTTP.
type Handler struct {
	service *Service
	health  HealthChecker
	logger  *slog.Logger
}

// NewHandler creates a Handler. health may be nil, in which case the
// health endpoint only reports process liveness.
func NewHandler(service *Service, health HealthChecker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, health: health, logger: logger}
}

// Register mounts the API routes on the router. The v1 surface is the
// CRUD API; v2 changes the listing to title order. The health endpoint is
// unauthenticated.
func (h *Handler) Register(r *mux.Router, gate AdmissionGate) {
	read := gate.Require(ScopeRead)
	write := gate.Require(ScopeWrite)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	v1.Handle("/books", read(http.HandlerFunc(h.handleList))).Methods(http.MethodGet)
	v1.Handle("/books", write(http.HandlerFunc(h.handleCreate))).Methods(http.MethodPost)
	v1.Handle("/books/{id:[0-9]+}", read(http.HandlerFunc(h.handleGet))).Methods(http.MethodGet)
	v1.Handle("/books/{id:[0-9]+}", write(http.HandlerFunc(h.handleUpdate))).Methods(http.MethodPut)
	v1.Handle("/books/{id:[0-9]+}", write(http.HandlerFunc(h.handleDelete))).Methods(http.MethodDelete)

	v2 := r.PathPrefix("/api/v2").Subrouter()
	v2.Handle("/books", read(http.HandlerFunc(h.handleListSorted))).Methods(http.MethodGet)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "books: health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []Book{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListSorted(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListSorted(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []Book{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload CreateBook
	if !decodeBody(w, r, &payload) {
		return
	}
	b, err := h.service.Create(r.Context(), &payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var payload UpdateBook
	if !decodeBody(w, r, &payload) {
		return
	}
	b, err := h.service.Update(r.Context(), id, &payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errorBody is the JSON error envelope for domain errors past the gate.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a domain error onto its HTTP status. Client errors
// surface the structured message; server errors get a generic body and a
// log line with the cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.HTTPStatus(err)
	msg := "internal server error"

	if status < http.StatusInternalServerError {
		if e, ok := apierr.AsError(err); ok {
			msg = e.Message
		}
	} else {
		h.logger.ErrorContext(r.Context(), "books: request failed",
			"error", err,
			"code", apierr.GetCode(err),
			"path", r.URL.Path,
		)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body, rejecting unknown fields and
// oversized payloads. Writes the 400 itself and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

// bookID parses the path's id variable. The route pattern restricts it to
// digits, so failures here mean overflow.
func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid book id"})
		return 0, false
	}
	return id, true
}
