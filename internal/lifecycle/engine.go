// Package lifecycle runs job status transitions for a technician.
//
// A job's status is whatever its last history event says. Every transition
// reads the job and the technician's other jobs, checks the transition and the
// single-active-job rule, appends one event and writes the job back, all in
// one store transaction. Transitions for the same technician are additionally
// serialized in-process, and the versioned job write catches writers that
// bypass the engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/eventlog"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// Releaser returns the custody held against a job. It runs inside the
// caller's transaction.
type Releaser interface {
	ReleaseForJob(ctx context.Context, tx db.Store, jobID int64, actor, note string) (int, error)
}

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Logger             log.FieldLogger
	Now                func() time.Time
	MaxConflictRetries int
	Releaser           Releaser
	Publisher          Publisher
}

// Engine validates and performs job transitions.
type Engine struct {
	store      db.Store
	releaser   Releaser
	publisher  Publisher
	log        log.FieldLogger
	now        func() time.Time
	maxRetries int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine on top of store.
func New(store db.Store, opts Options) *Engine {
	e := &Engine{
		store:      store,
		releaser:   opts.Releaser,
		publisher:  opts.Publisher,
		log:        opts.Logger,
		now:        opts.Now,
		maxRetries: opts.MaxConflictRetries,
		locks:      map[string]*sync.Mutex{},
	}
	if e.log == nil {
		e.log = log.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.maxRetries == 0 {
		e.maxRetries = db.DefaultConflictRetries
	}
	if e.publisher == nil {
		e.publisher = NopPublisher{}
	}
	return e
}

// lockTechnician serializes guarded operations for one technician.
func (e *Engine) lockTechnician(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// transition describes one guarded status change.
type transition struct {
	op     string
	jobID  int64
	reason string
	// next computes the target status from the current one.
	next func(current models.JobStatus) (models.JobStatus, error)
	// edit mutates job fields alongside the appended event.
	edit func(job *models.Job) error
	// within runs extra writes in the same transaction, after the event is appended.
	within func(ctx context.Context, tx db.Store, job *models.Job) error
}

func (e *Engine) apply(ctx context.Context, session models.Session, t transition) (*View, error) {
	started := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues(t.op).Observe(time.Since(started).Seconds())
	}()

	if !session.Valid() {
		return nil, e.reject(t, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}

	saved, from, to, err := e.commit(ctx, session, t)
	if err != nil {
		return nil, e.reject(t, outcome.Wrap(err))
	}

	metrics.Transitions.WithLabelValues(string(to)).Inc()
	e.log.WithFields(log.Fields{
		"operation": t.op,
		"job_id":    saved.ID,
		"from":      from,
		"to":        to,
		"actor":     session.Actor(),
	}).Info("Job transition applied")

	e.publish(ctx, Transition{
		JobID:        saved.ID,
		JobNumber:    saved.JobNumber,
		TechnicianID: saved.TechnicianID,
		From:         from,
		To:           to,
		Reason:       t.reason,
		Actor:        session.Actor(),
		At:           saved.UpdatedAt,
	})
	return NewView(saved), nil
}

// commit runs the guarded read-check-write under the technician lock. The lock
// is released before the caller publishes.
func (e *Engine) commit(ctx context.Context, session models.Session, t transition) (saved *models.Job, from, to models.JobStatus, err error) {
	unlock := e.lockTechnician(session.TechnicianID)
	defer unlock()

	err = db.RetryOnConflict(ctx, e.maxRetries, func() error {
		return e.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			job, err := e.loadOwned(ctx, tx, session, t.jobID)
			if err != nil {
				return err
			}

			from = job.Status()
			to, err = t.next(from)
			if err != nil {
				return err
			}
			if to.InMotion() {
				if err := e.checkSingleActive(ctx, tx, job); err != nil {
					return err
				}
			}

			now := e.now()
			if from == models.StatusPaused && to != models.StatusPaused {
				job.PausedDuration += pausedFor(job.History, now)
			}
			job.History = eventlog.Append(job.History, string(to), now, t.reason, session.Actor())
			job.NeedsSync = true
			job.UpdatedAt = now
			if t.edit != nil {
				if err := t.edit(job); err != nil {
					return err
				}
			}
			if t.within != nil {
				if err := t.within(ctx, tx, job); err != nil {
					return err
				}
			}
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
			saved = job
			return nil
		})
	})
	return saved, from, to, err
}

// loadOwned reads a job that belongs to the session's technician. Jobs of
// other technicians are reported as missing.
func (e *Engine) loadOwned(ctx context.Context, tx db.Store, session models.Session, id int64) (*models.Job, error) {
	job, err := tx.FindJobByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %d", outcome.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if job.TechnicianID != session.TechnicianID {
		return nil, fmt.Errorf("%w: job %d", outcome.ErrNotFound, id)
	}
	return job, nil
}

// checkSingleActive fails if any other job of the technician is in motion.
func (e *Engine) checkSingleActive(ctx context.Context, tx db.Store, job *models.Job) error {
	jobs, err := tx.FindJobs(ctx, db.JobFilter{TechnicianID: job.TechnicianID})
	if err != nil {
		return err
	}
	for i := range jobs {
		other := &jobs[i]
		if other.ID == job.ID {
			continue
		}
		if status := other.Status(); status.InMotion() {
			return fmt.Errorf("%w: job %d is %s", outcome.ErrInvariantViolation, other.ID, status)
		}
	}
	return nil
}

// pausedFor is the time since the most recent PAUSED event.
func pausedFor(history eventlog.Log, now time.Time) time.Duration {
	ev, ok := history.LastOf(string(models.StatusPaused))
	if !ok {
		return 0
	}
	d := now.Sub(ev.At())
	if d < 0 {
		return 0
	}
	return d
}

func (e *Engine) reject(t transition, err error) error {
	kind := outcome.Of(err)
	metrics.Rejections.WithLabelValues(t.op, kind.String()).Inc()

	entry := e.log.WithFields(log.Fields{
		"operation": t.op,
		"job_id":    t.jobID,
		"reason":    err.Error(),
	})
	if kind == outcome.StoreFailure {
		entry.Error("Job transition failed")
	} else {
		entry.Info("Job transition rejected")
	}
	return err
}

func (e *Engine) publish(ctx context.Context, tr Transition) {
	if err := e.publisher.Publish(ctx, tr); err != nil {
		e.log.WithFields(log.Fields{
			"job_id": tr.JobID,
			"status": tr.To,
			"error":  err,
		}).Warn("Failed to publish job transition")
	}
}
