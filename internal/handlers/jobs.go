package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/models"
)

// JobHandler exposes the job lifecycle to the UI.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// reasonRequest is the body of pause and cancel.
type reasonRequest struct {
	Reason string `json:"reason"`
}

// ListJobs handles GET /api/jobs?day=2024-05-06&status=BUSY&unsynced=true
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter lifecycle.ListFilter
	if day := q.Get("day"); day != "" {
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			writeFailure(w, http.StatusBadRequest)
			return
		}
		filter.Day = parsed
	}
	if status := models.JobStatus(q.Get("status")); status != "" {
		if !status.IsValid() {
			writeFailure(w, http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	unsynced, ok := optionalBool(w, q.Get("unsynced"))
	if !ok {
		return
	}
	filter.OnlyUnsynced = unsynced != nil && *unsynced

	views, err := h.jobs.List(r.Context(), session, filter)
	writeResult(w, views, err)
}

// CreateJob handles POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	var req lifecycle.NewJob
	if !decode(w, r, &req) {
		return
	}
	view, err := h.jobs.CreateJob(r.Context(), session, req)
	if err != nil {
		writeFailure(w, statusFor(err))
		return
	}
	writeOK(w, http.StatusCreated, view)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	id, ok := idVar(w, r)
	if !ok {
		return
	}
	view, err := h.jobs.Get(r.Context(), session, id)
	writeResult(w, view, err)
}

// ActiveJob handles GET /api/jobs/active. Data is null when no job is in motion.
func (h *JobHandler) ActiveJob(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	view, err := h.jobs.ActiveJob(r.Context(), session)
	if err != nil {
		writeFailure(w, statusFor(err))
		return
	}
	if view == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": nil})
		return
	}
	writeOK(w, http.StatusOK, view)
}

// transition runs a lifecycle operation that takes the session and job id.
func (h *JobHandler) transition(op func(r *http.Request, session models.Session, id int64) (*lifecycle.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionOf(w, r)
		if !ok {
			return
		}
		id, ok := idVar(w, r)
		if !ok {
			return
		}
		view, err := op(r, session, id)
		writeResult(w, view, err)
	}
}

// Start handles POST /api/jobs/{id}/start
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Start(r.Context(), s, id)
	})(w, r)
}

// EnRoute handles POST /api/jobs/{id}/en-route
func (h *JobHandler) EnRoute(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.EnRoute(r.Context(), s, id)
	})(w, r)
}

// Resume handles POST /api/jobs/{id}/resume
func (h *JobHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Resume(r.Context(), s, id)
	})(w, r)
}

// MarkSynced handles POST /api/jobs/{id}/synced
func (h *JobHandler) MarkSynced(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.MarkSynced(r.Context(), s, id)
	})(w, r)
}

// Pause handles POST /api/jobs/{id}/pause
func (h *JobHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Pause(r.Context(), s, id, req.Reason)
	})(w, r)
}

// Cancel handles POST /api/jobs/{id}/cancel
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Cancel(r.Context(), s, id, req.Reason)
	})(w, r)
}

// Complete handles POST /api/jobs/{id}/complete
func (h *JobHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CompleteRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Complete(r.Context(), s, id, req)
	})(w, r)
}

// Sign handles POST /api/jobs/{id}/sign
func (h *JobHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.SignRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(func(r *http.Request, s models.Session, id int64) (*lifecycle.View, error) {
		return h.jobs.Sign(r.Context(), s, id, req)
	})(w, r)
}
