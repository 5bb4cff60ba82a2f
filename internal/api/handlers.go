// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ripflow/internal/fsutil"
	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"worker": s.worker.State(),
		"queue":  st.Pending,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status jobs.Status
	if v := q.Get("status"); v != "" {
		status = jobs.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), "unknown status filter")
			return
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := s.store.List(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	// Total is the full filtered count, not the page size, so clients can
	// page with limit/offset.
	total, err := s.store.Count(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "stats failed")
		return
	}
	resp := map[string]any{
		"pending":              st.Pending,
		"running":              st.Running,
		"completed":            st.Completed,
		"failed":               st.Failed,
		"cancelled":            st.Cancelled,
		"total_processed":      st.TotalProcessed,
		"avg_duration_seconds": st.AvgDurationSec,
	}
	if free, err := fsutil.FreeSpace(s.cfg.WorkPath); err == nil {
		resp["work_free_space_gb"] = float64(free) / (1024 * 1024 * 1024)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), "invalid job id")
		return
	}

	switch err := s.store.Requeue(r.Context(), id, s.cfg.MaxRetryCount); {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such job")
	case errors.Is(err, store.ErrJobRunning):
		writeError(w, http.StatusConflict, "conflict", "job is running")
	case errors.Is(err, store.ErrNotRetryable):
		writeError(w, http.StatusConflict, string(jobs.KindRetryExhausted), "job is not retryable")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "retry failed")
	default:
		s.worker.Notify()
		job, gerr := s.store.Get(r.Context(), id)
		if gerr != nil {
			writeError(w, http.StatusInternalServerError, "internal", "retry succeeded but read back failed")
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Int64(log.FieldJobID, id).Int("retry_count", job.RetryCount).Msg("job requeued")
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	}
}

// handleDelete removes a job. A PENDING job is cancelled in place so the
// record survives for operators; terminal jobs are deleted outright;
// RUNNING is protected.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(jobs.KindMalformed), "invalid job id")
		return
	}

	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}

	if job.Status == jobs.StatusPending {
		err = s.store.Cancel(r.Context(), id)
	} else {
		err = s.store.Delete(r.Context(), id)
	}
	switch {
	case errors.Is(err, store.ErrJobRunning):
		writeError(w, http.StatusConflict, "conflict", "job is running")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such job")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "delete failed")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Int64(log.FieldJobID, id).Str(log.FieldState, string(job.Status)).Msg("job removed")
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}
