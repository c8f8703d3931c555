package server

import (
	"net/http"
	"strconv"

	"github.com/me/blaze/pkg/model"
)

type executionList struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.CodeConfig, Message: "execution store not configured"})
		return
	}

	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid limit", model.FieldError{Field: "limit", Message: err.Error()}))
			return
		}
		opts.Limit = n
	}
	opts.AppID = r.URL.Query().Get("app_id")
	opts.Clamp()

	execs, total, err := s.store.ListExecutions(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.CodeInternal, Message: err.Error()})
		return
	}
	if execs == nil {
		execs = []*model.Execution{}
	}
	respondOK(w, reqID, executionList{Executions: execs, Total: total})
}
