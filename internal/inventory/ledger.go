// Package inventory keeps the consumable stock ledger.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// Options configure a Ledger. Zero values select defaults.
type Options struct {
	Logger             log.FieldLogger
	Now                func() time.Time
	MaxConflictRetries int
}

// Ledger draws consumables against jobs and restores them.
type Ledger struct {
	store      db.Store
	log        log.FieldLogger
	now        func() time.Time
	maxRetries int
}

// New creates a ledger on top of store.
func New(store db.Store, opts Options) *Ledger {
	l := &Ledger{
		store:      store,
		log:        opts.Logger,
		now:        opts.Now,
		maxRetries: opts.MaxConflictRetries,
	}
	if l.log == nil {
		l.log = log.StandardLogger()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.maxRetries == 0 {
		l.maxRetries = db.DefaultConflictRetries
	}
	return l
}

// ConsumableView is a consumable with its low-stock flag computed at read time.
type ConsumableView struct {
	models.Consumable
	LowStock bool `json:"low_stock"`
}

// NewConsumableView derives the read model of a consumable snapshot.
func NewConsumableView(c *models.Consumable) *ConsumableView {
	return &ConsumableView{Consumable: *c, LowStock: c.LowStock()}
}

// DrawResult is the outcome of a successful draw.
type DrawResult struct {
	Consumable ConsumableView `json:"consumable"`
	Usage      models.Usage   `json:"usage"`
}

func validQuantity(q float64) error {
	if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 {
		return fmt.Errorf("%w: quantity must be positive", outcome.ErrInvalidArgument)
	}
	return nil
}

// Draw takes quantity units of a consumable for a job. Stock never goes
// negative: a draw larger than the current stock fails and changes nothing.
func (l *Ledger) Draw(ctx context.Context, session models.Session, jobID int64, code string, quantity float64) (*DrawResult, error) {
	const op = "draw"
	if !session.Valid() {
		return nil, l.reject(op, code, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}
	if err := validQuantity(quantity); err != nil {
		return nil, l.reject(op, code, err)
	}

	var result DrawResult
	err := db.RetryOnConflict(ctx, l.maxRetries, func() error {
		return l.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			job, err := loadJob(ctx, tx, session, jobID)
			if err != nil {
				return err
			}
			current, err := tx.FindConsumableByCode(ctx, code)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("%w: consumable %s", outcome.ErrNotFound, code)
			}
			if err != nil {
				return err
			}
			if quantity > current.CurrentStock {
				return fmt.Errorf("%w: %s has %g %s, %g requested", outcome.ErrInvariantViolation, code, current.CurrentStock, current.Unit, quantity)
			}

			now := l.now()
			updated, err := tx.AdjustStock(ctx, code, -quantity, now)
			if errors.Is(err, db.ErrGuardFailed) {
				return fmt.Errorf("%w: %s stock would go negative", outcome.ErrInvariantViolation, code)
			}
			if err != nil {
				return err
			}

			usage := models.Usage{
				JobID:          job.ID,
				ConsumableCode: code,
				Quantity:       quantity,
				Unit:           updated.Unit,
				TechnicianID:   session.TechnicianID,
				UsedAt:         now,
			}
			if err := tx.InsertUsage(ctx, &usage); err != nil {
				return err
			}

			job.UsageSummary = job.UsageSummary.Add(code, quantity)
			job.NeedsSync = true
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}

			result = DrawResult{Consumable: *NewConsumableView(updated), Usage: usage}
			return nil
		})
	})
	if err != nil {
		return nil, l.reject(op, code, outcome.Wrap(err))
	}

	metrics.StockDrawn.WithLabelValues(code).Add(quantity)
	entry := l.log.WithFields(log.Fields{
		"consumable": code,
		"job_id":     jobID,
		"quantity":   quantity,
		"remaining":  result.Consumable.CurrentStock,
	})
	if result.Consumable.LowStock {
		entry.Warn("Consumable drawn, stock is low")
	} else {
		entry.Info("Consumable drawn")
	}
	return &result, nil
}

// Restore puts quantity units back into stock, reversing an erroneous draw.
// When jobID is set the job's usage summary is reduced to match.
func (l *Ledger) Restore(ctx context.Context, session models.Session, code string, quantity float64, jobID *int64) (*ConsumableView, error) {
	const op = "restore"
	if !session.Valid() {
		return nil, l.reject(op, code, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}
	if err := validQuantity(quantity); err != nil {
		return nil, l.reject(op, code, err)
	}

	var result *ConsumableView
	err := db.RetryOnConflict(ctx, l.maxRetries, func() error {
		return l.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			now := l.now()
			if jobID != nil {
				job, err := loadJob(ctx, tx, session, *jobID)
				if err != nil {
					return err
				}
				job.UsageSummary = job.UsageSummary.Add(code, -quantity)
				job.NeedsSync = true
				job.UpdatedAt = now
				if err := tx.UpdateJob(ctx, job); err != nil {
					return err
				}
			}
			updated, err := tx.AdjustStock(ctx, code, quantity, now)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("%w: consumable %s", outcome.ErrNotFound, code)
			}
			if err != nil {
				return err
			}
			result = NewConsumableView(updated)
			return nil
		})
	})
	if err != nil {
		return nil, l.reject(op, code, outcome.Wrap(err))
	}

	l.log.WithFields(log.Fields{
		"consumable": code,
		"quantity":   quantity,
		"stock":      result.CurrentStock,
	}).Info("Consumable restored")
	return result, nil
}

func loadJob(ctx context.Context, tx db.Store, session models.Session, jobID int64) (*models.Job, error) {
	job, err := tx.FindJobByID(ctx, jobID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && job.TechnicianID != session.TechnicianID) {
		return nil, fmt.Errorf("%w: job %d", outcome.ErrNotFound, jobID)
	}
	return job, err
}

func (l *Ledger) reject(op, code string, err error) error {
	kind := outcome.Of(err)
	metrics.Rejections.WithLabelValues(op, kind.String()).Inc()
	entry := l.log.WithFields(log.Fields{
		"operation":  op,
		"consumable": code,
		"reason":     err.Error(),
	})
	if kind == outcome.StoreFailure {
		entry.Error("Inventory operation failed")
	} else {
		entry.Info("Inventory operation rejected")
	}
	return err
}
