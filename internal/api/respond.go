package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seantiz/flux/internal/manager"
	"github.com/seantiz/flux/internal/router"
	"github.com/seantiz/flux/internal/store"
	"github.com/seantiz/flux/internal/unit"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, unit.ErrNotFound),
		errors.Is(err, manager.ErrNotLoaded),
		errors.Is(err, router.ErrNoPool),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyLoaded),
		errors.Is(err, manager.ErrBusy),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, unit.ErrClassNotFound),
		errors.Is(err, unit.ErrBadSignature),
		errors.Is(err, unit.ErrIO),
		errors.Is(err, unit.ErrInvalidArtifact):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its mapped status. Internal errors are
// logged and reported generically.
func (s *Server) writeDomainError(w http.ResponseWriter, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "error", err)
		s.writeError(w, status, op+" failed")
		return
	}
	s.writeError(w, status, err.Error())
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// pageParams reads limit and offset, clamping them to sane values.
func pageParams(r *http.Request) (limit, offset int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	offset = parseIntQuery(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
