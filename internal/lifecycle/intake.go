package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/eventlog"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// NewJob is a job handed to the device at intake.
type NewJob struct {
	ID              int64            `json:"id,omitempty"`
	JobNumber       string           `json:"job_number"`
	Customer        models.Customer  `json:"customer"`
	Kind            models.JobKind   `json:"kind"`
	Priority        models.Priority  `json:"priority"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	ScheduledAt     time.Time        `json:"scheduled_at"`
	DurationMinutes int              `json:"duration_minutes"`
	Site            models.Location  `json:"site"`
	InitialStatus   models.JobStatus `json:"initial_status,omitempty"`
}

func (n NewJob) validate() error {
	if strings.TrimSpace(n.JobNumber) == "" {
		return errors.New("job number is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("title is required")
	}
	if !models.IsValidJobKind(n.Kind) {
		return fmt.Errorf("unknown job kind %q", n.Kind)
	}
	if n.DurationMinutes < 0 {
		return errors.New("duration cannot be negative")
	}
	if n.InitialStatus != "" && !n.InitialStatus.IsQueued() {
		return fmt.Errorf("jobs cannot be created as %s", n.InitialStatus)
	}
	return nil
}

// CreateJob stores a new job for the session's technician. Its history starts
// with a single queued event.
func (e *Engine) CreateJob(ctx context.Context, session models.Session, req NewJob) (*View, error) {
	t := transition{op: "create", jobID: req.ID}
	if !session.Valid() {
		return nil, e.reject(t, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}
	if err := req.validate(); err != nil {
		return nil, e.reject(t, fmt.Errorf("%w: %v", outcome.ErrInvalidArgument, err))
	}

	initial := req.InitialStatus
	if initial == "" {
		initial = models.DefaultJobStatus
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	now := e.now()
	job := &models.Job{
		ID:              req.ID,
		JobNumber:       strings.TrimSpace(req.JobNumber),
		TechnicianID:    session.TechnicianID,
		Customer:        req.Customer,
		Kind:            req.Kind,
		Priority:        priority,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Site:            req.Site,
		History:         eventlog.Append(nil, string(initial), now, "", session.Actor()),
		NeedsSync:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.InsertJob(ctx, job); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			err = fmt.Errorf("%w: job %s already exists", outcome.ErrInvalidArgument, job.JobNumber)
		}
		return nil, e.reject(t, outcome.Wrap(err))
	}

	metrics.Transitions.WithLabelValues(string(initial)).Inc()
	e.log.WithFields(log.Fields{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
		"status":     initial,
	}).Info("Job created")
	return NewView(job), nil
}

// MarkSynced clears the sync flag after the job was uploaded. It is not a
// status transition and appends nothing to the history.
func (e *Engine) MarkSynced(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	t := transition{op: "mark_synced", jobID: jobID}
	if !session.Valid() {
		return nil, e.reject(t, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}

	var saved *models.Job
	err := db.RetryOnConflict(ctx, e.maxRetries, func() error {
		job, err := e.loadOwned(ctx, e.store, session, jobID)
		if err != nil {
			return err
		}
		now := e.now()
		job.NeedsSync = false
		job.SyncedAt = &now
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return err
		}
		saved = job
		return nil
	})
	if err != nil {
		return nil, e.reject(t, outcome.Wrap(err))
	}
	return NewView(saved), nil
}
