package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/strider/pkg/model"
)

// parseListOptions reads limit, offset and state from the query string.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var details []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			details = append(details, model.FieldError{Field: "limit", Message: "must be a positive integer"})
		} else {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details = append(details, model.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			opts.Offset = n
		}
	}
	if v := q.Get("state"); v != "" {
		state := model.RunState(strings.ToUpper(v))
		if !state.IsTerminal() && state != model.RunStateRunning {
			details = append(details, model.FieldError{Field: "state", Message: "unknown run state " + v})
		} else {
			opts.State = state
		}
	}

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, r, "list runs", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, model.NewPagination(total, opts))
}

// loadRun fetches the run named in the URL, writing a 404 when it does not
// exist. It returns nil whenever a response has already been written.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.respondInternal(w, r, "get run", err)
		return nil
	}
	if run == nil {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	respondOK(w, RequestIDFromContext(r.Context()), run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	if err := s.store.DeleteRun(r.Context(), run.ID); err != nil {
		s.respondInternal(w, r, "delete run", err)
		return
	}
	s.logger.Info("run deleted", "run_id", run.ID)
	respondOK(w, RequestIDFromContext(r.Context()), map[string]string{"id": run.ID, "status": "deleted"})
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	run := s.loadRun(w, r)
	if run == nil {
		return
	}

	ds, total, err := s.store.ListDispatches(r.Context(), run.ID, opts)
	if err != nil {
		s.respondInternal(w, r, "list dispatches", err)
		return
	}
	if ds == nil {
		ds = []model.Dispatch{}
	}
	respondList(w, reqID, ds, model.NewPagination(total, opts))
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	shares, err := s.store.Shares(r.Context(), run.ID)
	if err != nil {
		s.respondInternal(w, r, "shares", err)
		return
	}
	if shares == nil {
		shares = []model.Share{}
	}
	respondOK(w, RequestIDFromContext(r.Context()), shares)
}
