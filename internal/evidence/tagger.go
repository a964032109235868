// Package evidence manages the categorised attachment lists of a job.
//
// Every operation reads the job, rewrites whole category lists and writes the
// job back with one versioned update. Retag inserts into the destination list
// before deleting from the source, and both lists are part of the same write,
// so a reference is never lost and never left in two categories.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// Options configure a Tagger. Zero values select defaults.
type Options struct {
	Logger             log.FieldLogger
	Now                func() time.Time
	MaxConflictRetries int
}

// Tagger edits evidence attachments.
type Tagger struct {
	store      db.Store
	log        log.FieldLogger
	now        func() time.Time
	maxRetries int
}

// New creates a tagger on top of store.
func New(store db.Store, opts Options) *Tagger {
	t := &Tagger{
		store:      store,
		log:        opts.Logger,
		now:        opts.Now,
		maxRetries: opts.MaxConflictRetries,
	}
	if t.log == nil {
		t.log = log.StandardLogger()
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.maxRetries == 0 {
		t.maxRetries = db.DefaultConflictRetries
	}
	return t
}

// View lists a job's attachments by category.
type View struct {
	JobID  int64                 `json:"job_id"`
	Before models.AttachmentList `json:"before"`
	During models.AttachmentList `json:"during"`
	After  models.AttachmentList `json:"after"`
}

func newView(job *models.Job) *View {
	return &View{
		JobID:  job.ID,
		Before: nonNil(job.BeforeEvidence),
		During: nonNil(job.DuringEvidence),
		After:  nonNil(job.AfterEvidence),
	}
}

func nonNil(l models.AttachmentList) models.AttachmentList {
	if l == nil {
		return models.AttachmentList{}
	}
	return l
}

// categoryOf returns the category holding uri, if any.
func categoryOf(job *models.Job, uri string) (models.EvidenceCategory, bool) {
	for _, c := range models.EvidenceCategories {
		if job.Evidence(c).Contains(uri) {
			return c, true
		}
	}
	return "", false
}

// edit applies fn to the job and stores it. fn reports whether it changed anything.
func (t *Tagger) edit(ctx context.Context, session models.Session, op string, jobID int64, fn func(job *models.Job) (bool, error)) (*View, error) {
	if !session.Valid() {
		return nil, t.reject(op, jobID, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}

	var saved *models.Job
	err := db.RetryOnConflict(ctx, t.maxRetries, func() error {
		job, err := t.store.FindJobByID(ctx, jobID)
		if errors.Is(err, db.ErrNotFound) || (err == nil && job.TechnicianID != session.TechnicianID) {
			return fmt.Errorf("%w: job %d", outcome.ErrNotFound, jobID)
		}
		if err != nil {
			return err
		}
		changed, err := fn(job)
		if err != nil {
			return err
		}
		if changed {
			job.NeedsSync = true
			job.UpdatedAt = t.now()
			if err := t.store.UpdateJob(ctx, job); err != nil {
				return err
			}
		}
		saved = job
		return nil
	})
	if err != nil {
		return nil, t.reject(op, jobID, outcome.Wrap(err))
	}
	return newView(saved), nil
}

func checkCategory(c models.EvidenceCategory) error {
	if !models.IsValidEvidenceCategory(c) {
		return fmt.Errorf("%w: unknown evidence category %q", outcome.ErrInvalidArgument, c)
	}
	return nil
}

func checkURI(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return fmt.Errorf("%w: attachment reference is required", outcome.ErrInvalidArgument)
	}
	return nil
}

// Add appends an attachment to a category. Adding a reference that is
// already in the category changes nothing; a reference filed under another
// category must be retagged instead.
func (t *Tagger) Add(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri, note string) (*View, error) {
	return t.edit(ctx, session, "evidence_add", jobID, func(job *models.Job) (bool, error) {
		if err := checkCategory(category); err != nil {
			return false, err
		}
		if err := checkURI(uri); err != nil {
			return false, err
		}
		if current, ok := categoryOf(job, uri); ok {
			if current == category {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s is filed under %s", outcome.ErrInvariantViolation, uri, current)
		}
		job.SetEvidence(category, job.Evidence(category).With(models.Attachment{URI: uri, Notes: note}))
		return true, nil
	})
}

// Remove deletes an attachment from a category. Removing an absent reference changes nothing.
func (t *Tagger) Remove(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri string) (*View, error) {
	return t.edit(ctx, session, "evidence_remove", jobID, func(job *models.Job) (bool, error) {
		if err := checkCategory(category); err != nil {
			return false, err
		}
		list := job.Evidence(category)
		if !list.Contains(uri) {
			return false, nil
		}
		job.SetEvidence(category, list.Without(uri))
		return true, nil
	})
}

// Retag moves an attachment, with its note, from one category to another.
// Repeating a retag that already happened changes nothing.
func (t *Tagger) Retag(ctx context.Context, session models.Session, jobID int64, uri string, from, to models.EvidenceCategory) (*View, error) {
	return t.edit(ctx, session, "evidence_retag", jobID, func(job *models.Job) (bool, error) {
		if err := checkCategory(from); err != nil {
			return false, err
		}
		if err := checkCategory(to); err != nil {
			return false, err
		}
		source := job.Evidence(from)
		i := source.Index(uri)
		if i < 0 {
			if job.Evidence(to).Contains(uri) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s is not in %s", outcome.ErrNotFound, uri, from)
		}
		if from == to {
			return false, nil
		}
		moved := source[i]
		job.SetEvidence(to, job.Evidence(to).With(moved))
		job.SetEvidence(from, source.Without(uri))
		return true, nil
	})
}

// Annotate replaces the note of an attachment.
func (t *Tagger) Annotate(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri, note string) (*View, error) {
	return t.edit(ctx, session, "evidence_annotate", jobID, func(job *models.Job) (bool, error) {
		if err := checkCategory(category); err != nil {
			return false, err
		}
		list := job.Evidence(category)
		i := list.Index(uri)
		if i < 0 {
			return false, fmt.Errorf("%w: %s is not in %s", outcome.ErrNotFound, uri, category)
		}
		if list[i].Notes == note {
			return false, nil
		}
		job.SetEvidence(category, list.With(models.Attachment{URI: uri, Notes: note}))
		return true, nil
	})
}

// Get returns a job's attachments.
func (t *Tagger) Get(ctx context.Context, session models.Session, jobID int64) (*View, error) {
	return t.edit(ctx, session, "evidence_get", jobID, func(*models.Job) (bool, error) {
		return false, nil
	})
}

func (t *Tagger) reject(op string, jobID int64, err error) error {
	kind := outcome.Of(err)
	metrics.Rejections.WithLabelValues(op, kind.String()).Inc()
	entry := t.log.WithFields(log.Fields{
		"operation": op,
		"job_id":    jobID,
		"reason":    err.Error(),
	})
	if kind == outcome.StoreFailure {
		entry.Error("Evidence operation failed")
	} else {
		entry.Info("Evidence operation rejected")
	}
	return err
}
