package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/task"
	"github.com/me/blaze/pkg/model"
)

type submitResponse struct {
	Task     model.TaskView `json:"task"`
	WaitTime model.WaitTime `json:"wait_time"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	appID := chi.URLParam(r, "appID")

	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	t := s.manager.Create()
	if len(req.Inputs) != t.NumInput() {
		s.manager.Release(t)
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError(fmt.Sprintf("expected %d inputs, got %d", t.NumInput(), len(req.Inputs)),
				model.FieldError{Field: "inputs", Message: "wrong number of partitions"}))
		return
	}

	for i, in := range req.Inputs {
		var b block.Block
		if in.PartitionID < 0 {
			b, _ = s.cache.GetOrCreate(appID, in.PartitionID)
		} else {
			b = block.New()
		}
		if err := t.AddInputBlock(in.PartitionID, b); err != nil {
			s.manager.Release(t)
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError(err.Error(),
					model.FieldError{Field: fmt.Sprintf("inputs[%d].partition_id", i), Message: err.Error()}))
			return
		}
	}

	s.manager.Enqueue(appID, t)
	best, worst := s.manager.GetWaitTime(t)

	s.logger.Debug("task submitted", "task_id", t.ID(), "app_id", appID, "inputs", t.NumInput())
	respondCreated(w, reqID, submitResponse{
		Task:     t.View(),
		WaitTime: model.NewWaitTime(best, worst),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	respondOK(w, reqID, t.View())
}

func (s *Server) handleWaitTime(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	best, worst := s.manager.GetWaitTime(t)
	respondOK(w, reqID, model.NewWaitTime(best, worst))
}

func (s *Server) handleDataReady(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}

	var msg model.DataMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	b, err := s.pool.Submit(r.Context(), t, &msg)
	if err != nil {
		s.logger.Warn("data ready rejected", "task_id", t.ID(), "partition_id", msg.PartitionID, "error", err)
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, blockView(msg.PartitionID, b, false))
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}

	// The failure is reported once; the task is gone afterwards.
	if t.Status() == model.TaskStatusFailed {
		s.manager.Release(t)
		respondErr(w, reqID, t.Err())
		return
	}

	b, hasMore := t.GetOutputBlock()
	out := model.OutputView{HasMore: hasMore}
	if b != nil {
		out.Block = blockView(int64(t.NumOutput()), b, true)
	}
	out.Status = t.Status()

	if out.Status == model.TaskStatusCommitted {
		s.manager.Release(t)
	}
	respondOK(w, reqID, out)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.manager.Snapshot())
}

func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid task id", model.FieldError{Field: "id", Message: "must be a positive integer, got " + strconv.Quote(raw)}))
		return nil, false
	}
	t, ok := s.manager.Lookup(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", raw))
		return nil, false
	}
	return t, true
}

func blockView(partitionID int64, b block.Block, withData bool) *model.BlockView {
	v := &model.BlockView{
		PartitionID: partitionID,
		Length:      b.Length(),
		NumItems:    b.NumItems(),
		Size:        b.Size(),
		Ready:       b.IsReady(),
	}
	if withData {
		v.Data = b.Data()
	}
	return v
}
