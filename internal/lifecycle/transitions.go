package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

func invalid(op string, current models.JobStatus) error {
	return fmt.Errorf("%w: cannot %s a job that is %s", outcome.ErrInvalidTransition, op, current)
}

// Start advances a job one step: a queued job goes EN_ROUTE and a job that
// is EN_ROUTE or PAUSED goes BUSY.
func (e *Engine) Start(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	return e.apply(ctx, session, transition{
		op:    "start",
		jobID: jobID,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			switch {
			case current.IsQueued():
				return models.StatusEnRoute, nil
			case current == models.StatusEnRoute, current == models.StatusPaused:
				return models.StatusBusy, nil
			default:
				return "", invalid("start", current)
			}
		},
	})
}

// EnRoute dispatches a PENDING, AWAITING or PAUSED job. AVAILABLE jobs go
// through Start.
func (e *Engine) EnRoute(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	return e.apply(ctx, session, transition{
		op:    "en_route",
		jobID: jobID,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			switch current {
			case models.StatusPending, models.StatusAwaiting, models.StatusPaused:
				return models.StatusEnRoute, nil
			}
			return "", invalid("dispatch", current)
		},
	})
}

// Pause parks a job that is being worked.
func (e *Engine) Pause(ctx context.Context, session models.Session, jobID int64, reason string) (*View, error) {
	return e.apply(ctx, session, transition{
		op:     "pause",
		jobID:  jobID,
		reason: reason,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			if current.Stage() == models.StatusBusy {
				return models.StatusPaused, nil
			}
			return "", invalid("pause", current)
		},
	})
}

// Resume returns a paused job to BUSY.
func (e *Engine) Resume(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	return e.apply(ctx, session, transition{
		op:    "resume",
		jobID: jobID,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			if current == models.StatusPaused {
				return models.StatusBusy, nil
			}
			return "", invalid("resume", current)
		},
	})
}

// Cancel ends a job that has not finished. Assets checked out against it are returned.
func (e *Engine) Cancel(ctx context.Context, session models.Session, jobID int64, reason string) (*View, error) {
	return e.apply(ctx, session, transition{
		op:     "cancel",
		jobID:  jobID,
		reason: reason,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			if current.IsTerminal() {
				return "", invalid("cancel", current)
			}
			return models.StatusCancelled, nil
		},
		within: e.release(session, "Auto-returned on cancellation of job #%d"),
	})
}

// CompleteRequest carries the work narrative recorded on completion.
type CompleteRequest struct {
	WorkSummary      string `json:"work_summary"`
	FollowUp         string `json:"follow_up,omitempty"`
	FollowUpRequired bool   `json:"follow_up_required,omitempty"`
}

// Complete finishes an active job, records the work narrative and returns
// every asset still checked out against the job in the same transaction.
func (e *Engine) Complete(ctx context.Context, session models.Session, jobID int64, req CompleteRequest) (*View, error) {
	summary := strings.TrimSpace(req.WorkSummary)
	return e.apply(ctx, session, transition{
		op:    "complete",
		jobID: jobID,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			if !current.IsActive() {
				return "", invalid("complete", current)
			}
			if summary == "" {
				return "", fmt.Errorf("%w: work summary is required", outcome.ErrInvalidArgument)
			}
			return models.StatusCompleted, nil
		},
		edit: func(job *models.Job) error {
			job.WorkSummary = summary
			job.FollowUp = strings.TrimSpace(req.FollowUp)
			job.FollowUpRequired = req.FollowUpRequired || job.FollowUp != ""
			return nil
		},
		within: e.release(session, "Auto-returned on completion of job #%d"),
	})
}

// SignRequest identifies the customer signature captured on site.
type SignRequest struct {
	SignedBy     string `json:"signed_by"`
	SignatureURI string `json:"signature_uri"`
}

// Sign records the customer signature on a BUSY job. The job stays in motion.
func (e *Engine) Sign(ctx context.Context, session models.Session, jobID int64, req SignRequest) (*View, error) {
	signer := strings.TrimSpace(req.SignedBy)
	return e.apply(ctx, session, transition{
		op:    "sign",
		jobID: jobID,
		next: func(current models.JobStatus) (models.JobStatus, error) {
			if current != models.StatusBusy {
				return "", invalid("sign", current)
			}
			if signer == "" || strings.TrimSpace(req.SignatureURI) == "" {
				return "", fmt.Errorf("%w: signer and signature are required", outcome.ErrInvalidArgument)
			}
			return models.StatusSigned, nil
		},
		edit: func(job *models.Job) error {
			job.SignedBy = signer
			job.SignatureURI = strings.TrimSpace(req.SignatureURI)
			return nil
		},
	})
}

func (e *Engine) release(session models.Session, noteFormat string) func(ctx context.Context, tx db.Store, job *models.Job) error {
	return func(ctx context.Context, tx db.Store, job *models.Job) error {
		if e.releaser == nil {
			return requireNoCustody(ctx, tx, job.ID)
		}
		n, err := e.releaser.ReleaseForJob(ctx, tx, job.ID, session.Actor(), fmt.Sprintf(noteFormat, job.ID))
		if err != nil {
			return fmt.Errorf("release custody for job %d: %w", job.ID, err)
		}
		if n > 0 {
			e.log.WithField("job_id", job.ID).WithField("checkouts", n).Info("Released custody held by job")
		}
		return nil
	}
}

// requireNoCustody stands in for a releaser: a job cannot finish while assets
// are still checked out against it.
func requireNoCustody(ctx context.Context, tx db.Store, jobID int64) error {
	open, err := tx.FindCheckouts(ctx, db.CheckoutFilter{JobID: &jobID, OpenOnly: true})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: job %d still holds %d checked out assets", outcome.ErrInvariantViolation, jobID, len(open))
	}
	return nil
}
