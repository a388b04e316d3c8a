package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
)

const (
	tenantHeader = "X-Tenant-ID"
	actorHeader  = "X-Actor"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondDomainError maps ledger sentinels onto HTTP status codes. Anything
// unrecognized is treated as an internal failure and kept vague on the wire.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoAnchor):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyCancelled), errors.Is(err, core.ErrDuplicateAnchor):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrDirectionMismatch),
		errors.Is(err, core.ErrUnknownCategory):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrTenantMismatch):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"request_id", r.Context().Value(requestIDKey),
			"path", r.URL.Path,
			"error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// tenantFrom extracts the tenant from the request header. Empty means the
// caller forgot it, which is always a 400.
func tenantFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(tenantHeader)
	if tenant == "" {
		respondError(w, http.StatusBadRequest, "missing "+tenantHeader+" header")
		return "", false
	}
	return tenant, true
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get(actorHeader); actor != "" {
		return actor
	}
	return "api"
}

// yearMonthFrom reads ?year= and ?month= with the current UTC month as the
// default.
func yearMonthFrom(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	now := time.Now().UTC()
	year, ok := intParam(w, r, "year", now.Year())
	if !ok {
		return 0, 0, false
	}
	month, ok := intParam(w, r, "month", int(now.Month()))
	if !ok {
		return 0, 0, false
	}
	if month < 1 || month > 12 {
		respondError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return 0, 0, false
	}
	return year, month, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
