package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/flux/internal/model"
	"github.com/seantiz/flux/internal/store"
)

// submitInvocationRequest is the JSON body for POST /v1/tasks/{taskID}/invocations.
// An empty body calls the task without arguments.
type submitInvocationRequest struct {
	Args      json.RawMessage `json:"args"`
	TimeoutMS *int            `json:"timeout_ms"`
}

// listInvocationsResponse wraps the paginated list response.
type listInvocationsResponse struct {
	Invocations []*model.Invocation `json:"invocations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Server) handleSubmitInvocation(w http.ResponseWriter, r *http.Request) {
	var req submitInvocationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TimeoutMS != nil && *req.TimeoutMS <= 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must be positive")
		return
	}

	inv := &model.Invocation{
		ID:        model.NewID(),
		TaskID:    chi.URLParam(r, "taskID"),
		Status:    model.StatusPending,
		Args:      req.Args,
		TimeoutMS: req.TimeoutMS,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.engine.Submit(r.Context(), inv); err != nil {
		s.writeDomainError(w, "submit invocation", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, inv)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	invocations, total, err := s.store.ListInvocations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	if invocations == nil {
		invocations = []*model.Invocation{}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{
		Invocations: invocations,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}
