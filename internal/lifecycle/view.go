package lifecycle

import (
	"context"
	"time"

	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// View is the read model handed to the UI: the job plus its derived status.
type View struct {
	models.Job
	Status   models.JobStatus `json:"status"`
	Stage    models.JobStatus `json:"stage"`
	InMotion bool             `json:"in_motion"`
	Terminal bool             `json:"terminal"`
}

// NewView derives the read model of a job snapshot.
func NewView(job *models.Job) *View {
	status := job.Status()
	return &View{
		Job:      *job,
		Status:   status,
		Stage:    status.Stage(),
		InMotion: status.InMotion(),
		Terminal: status.IsTerminal(),
	}
}

// Get returns one of the technician's jobs.
func (e *Engine) Get(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	job, err := e.loadOwned(ctx, e.store, session, jobID)
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	return NewView(job), nil
}

// ListFilter narrows a job listing.
type ListFilter struct {
	// Day restricts the listing to jobs scheduled on that calendar day.
	Day          time.Time
	Status       models.JobStatus
	OnlyUnsynced bool
}

// List returns the technician's jobs ordered by schedule.
func (e *Engine) List(ctx context.Context, session models.Session, filter ListFilter) ([]View, error) {
	q := db.JobFilter{TechnicianID: session.TechnicianID, OnlyUnsynced: filter.OnlyUnsynced}
	if !filter.Day.IsZero() {
		y, m, d := filter.Day.Date()
		q.ScheduledFrom = time.Date(y, m, d, 0, 0, 0, 0, filter.Day.Location())
		q.ScheduledTo = q.ScheduledFrom.AddDate(0, 0, 1)
	}
	jobs, err := e.store.FindJobs(ctx, q)
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	views := make([]View, 0, len(jobs))
	for i := range jobs {
		v := NewView(&jobs[i])
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		views = append(views, *v)
	}
	return views, nil
}

// ActiveJob returns the technician's job in motion, or nil when there is none.
func (e *Engine) ActiveJob(ctx context.Context, session models.Session) (*View, error) {
	jobs, err := e.store.FindJobs(ctx, db.JobFilter{TechnicianID: session.TechnicianID})
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	for i := range jobs {
		if jobs[i].Status().InMotion() {
			return NewView(&jobs[i]), nil
		}
	}
	return nil, nil
}
