// Package custody coordinates exclusive checkout of fixed assets.
package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/eventlog"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// Options configure a Coordinator. Zero values select defaults.
type Options struct {
	Logger             log.FieldLogger
	Now                func() time.Time
	MaxConflictRetries int
}

// Coordinator owns the checkout and return of fixed assets.
//
// Checkout and Return hold mu for their whole transaction. ReleaseForJob runs
// inside a transaction owned by the lifecycle engine and must not take mu or
// touch the store outside tx: the engine holds the store's writer slot.
type Coordinator struct {
	store      db.Store
	log        log.FieldLogger
	now        func() time.Time
	maxRetries int
	mu         sync.Mutex
}

// New creates a coordinator on top of store.
func New(store db.Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:      store,
		log:        opts.Logger,
		now:        opts.Now,
		maxRetries: opts.MaxConflictRetries,
	}
	if c.log == nil {
		c.log = log.StandardLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.maxRetries == 0 {
		c.maxRetries = db.DefaultConflictRetries
	}
	return c
}

// CheckoutRequest describes a checkout. Holder defaults to the session technician.
type CheckoutRequest struct {
	AssetCode string           `json:"asset_code"`
	Holder    string           `json:"holder,omitempty"`
	Reason    string           `json:"reason"`
	JobID     *int64           `json:"job_id,omitempty"`
	Condition models.Condition `json:"condition"`
	Notes     string           `json:"notes,omitempty"`
}

// Checkout hands an available asset to a holder.
func (c *Coordinator) Checkout(ctx context.Context, session models.Session, req CheckoutRequest) (*models.Checkout, error) {
	const op = "checkout"
	holder := strings.TrimSpace(req.Holder)
	if holder == "" {
		holder = session.TechnicianID
	}
	switch {
	case !session.Valid():
		return nil, c.reject(op, req.AssetCode, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	case strings.TrimSpace(req.AssetCode) == "":
		return nil, c.reject(op, req.AssetCode, fmt.Errorf("%w: asset code is required", outcome.ErrInvalidArgument))
	case !models.IsValidCondition(req.Condition):
		return nil, c.reject(op, req.AssetCode, fmt.Errorf("%w: unknown condition %q", outcome.ErrInvalidArgument, req.Condition))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var created *models.Checkout
	err := db.RetryOnConflict(ctx, c.maxRetries, func() error {
		return c.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			asset, err := tx.FindAssetByCode(ctx, req.AssetCode)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("%w: asset %s", outcome.ErrNotFound, req.AssetCode)
			}
			if err != nil {
				return err
			}
			if asset.CustodyOpen() || !asset.Available {
				return fmt.Errorf("%w: asset %s is already checked out", outcome.ErrInvariantViolation, asset.Code)
			}
			open, err := tx.FindCheckouts(ctx, db.CheckoutFilter{AssetCode: asset.Code, OpenOnly: true})
			if err != nil {
				return err
			}
			if len(open) > 0 {
				return fmt.Errorf("%w: asset %s has open checkout %d", outcome.ErrInvariantViolation, asset.Code, open[0].ID)
			}

			if req.JobID != nil {
				if err := c.touchJob(ctx, tx, session, *req.JobID); err != nil {
					return err
				}
			}

			now := c.now()
			checkout := &models.Checkout{
				AssetCode:    asset.Code,
				Holder:       holder,
				JobID:        req.JobID,
				Reason:       req.Reason,
				Notes:        req.Notes,
				ConditionOut: req.Condition,
				CheckedOutAt: now,
			}
			if err := tx.InsertCheckout(ctx, checkout); err != nil {
				return err
			}

			asset.Available = false
			asset.Holder = &holder
			asset.History = eventlog.Append(asset.History, string(models.AssetCheckedOut), now, req.Reason, session.Actor())
			asset.UpdatedAt = now
			if err := tx.UpdateAsset(ctx, asset); err != nil {
				return err
			}
			created = checkout
			return nil
		})
	})
	if err != nil {
		return nil, c.reject(op, req.AssetCode, outcome.Wrap(err))
	}

	c.log.WithFields(log.Fields{
		"asset":       created.AssetCode,
		"checkout_id": created.ID,
		"holder":      created.Holder,
		"job_id":      created.JobID,
	}).Info("Asset checked out")
	c.refreshGauge(ctx)
	return created, nil
}

// touchJob marks a linked job as changed. The versioned write orders the
// checkout against a concurrent completion of the same job.
func (c *Coordinator) touchJob(ctx context.Context, tx db.Store, session models.Session, jobID int64) error {
	job, err := tx.FindJobByID(ctx, jobID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && job.TechnicianID != session.TechnicianID) {
		return fmt.Errorf("%w: job %d", outcome.ErrNotFound, jobID)
	}
	if err != nil {
		return err
	}
	if status := job.Status(); status.IsTerminal() {
		return fmt.Errorf("%w: job %d is %s", outcome.ErrInvalidTransition, jobID, status)
	}
	job.NeedsSync = true
	job.UpdatedAt = c.now()
	return tx.UpdateJob(ctx, job)
}

// Return closes an open checkout and makes the asset available again.
func (c *Coordinator) Return(ctx context.Context, session models.Session, checkoutID int64, condition models.Condition, notes string) (*models.Checkout, error) {
	const op = "return"
	target := fmt.Sprintf("checkout:%d", checkoutID)
	if !session.Valid() {
		return nil, c.reject(op, target, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}
	if !models.IsValidCondition(condition) {
		return nil, c.reject(op, target, fmt.Errorf("%w: unknown condition %q", outcome.ErrInvalidArgument, condition))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var closed *models.Checkout
	err := db.RetryOnConflict(ctx, c.maxRetries, func() error {
		return c.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			var err error
			closed, err = c.returnWithin(ctx, tx, checkoutID, condition, notes, session.Actor())
			return err
		})
	})
	if err != nil {
		return nil, c.reject(op, target, outcome.Wrap(err))
	}

	c.log.WithFields(log.Fields{
		"asset":       closed.AssetCode,
		"checkout_id": closed.ID,
		"condition":   closed.ConditionIn,
	}).Info("Asset returned")
	c.refreshGauge(ctx)
	return closed, nil
}

func (c *Coordinator) returnWithin(ctx context.Context, tx db.Store, checkoutID int64, condition models.Condition, notes, actor string) (*models.Checkout, error) {
	now := c.now()
	closed, err := tx.CloseCheckout(ctx, checkoutID, now, condition, notes)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("%w: checkout %d", outcome.ErrNotFound, checkoutID)
	case errors.Is(err, db.ErrGuardFailed):
		return nil, fmt.Errorf("%w: checkout %d is already closed", outcome.ErrInvalidTransition, checkoutID)
	case err != nil:
		return nil, err
	}

	asset, err := tx.FindAssetByCode(ctx, closed.AssetCode)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: asset %s", outcome.ErrNotFound, closed.AssetCode)
	}
	if err != nil {
		return nil, err
	}
	asset.Available = true
	asset.Holder = nil
	asset.History = eventlog.Append(asset.History, string(models.AssetCheckedIn), now, notes, actor)
	asset.UpdatedAt = now
	if condition == models.ConditionDamaged {
		asset.NextMaintenance = &now
	}
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return closed, nil
}

// ReleaseForJob returns every open checkout referencing the job inside tx,
// keeping the condition recorded at checkout. A second call finds nothing to
// release and returns zero.
func (c *Coordinator) ReleaseForJob(ctx context.Context, tx db.Store, jobID int64, actor, note string) (int, error) {
	open, err := tx.FindCheckouts(ctx, db.CheckoutFilter{JobID: &jobID, OpenOnly: true})
	if err != nil {
		return 0, err
	}
	for _, co := range open {
		condition := co.ConditionOut
		if !models.IsValidCondition(condition) {
			condition = models.ConditionGood
		}
		if _, err := c.returnWithin(ctx, tx, co.ID, condition, note, actor); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// AutoReleaseForJob returns every open checkout referencing the job in its own transaction.
func (c *Coordinator) AutoReleaseForJob(ctx context.Context, session models.Session, jobID int64) (int, error) {
	const op = "auto_release"
	target := fmt.Sprintf("job:%d", jobID)
	if !session.Valid() {
		return 0, c.reject(op, target, fmt.Errorf("%w: no technician session", outcome.ErrInvalidArgument))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var released int
	err := db.RetryOnConflict(ctx, c.maxRetries, func() error {
		return c.store.Transact(ctx, func(ctx context.Context, tx db.Store) error {
			var err error
			released, err = c.ReleaseForJob(ctx, tx, jobID, session.Actor(), fmt.Sprintf("Auto-returned on completion of job #%d", jobID))
			return err
		})
	})
	if err != nil {
		return 0, c.reject(op, target, outcome.Wrap(err))
	}
	c.refreshGauge(ctx)
	return released, nil
}

func (c *Coordinator) refreshGauge(ctx context.Context) {
	open, err := c.store.FindCheckouts(ctx, db.CheckoutFilter{OpenOnly: true})
	if err != nil {
		c.log.WithError(err).Warn("Failed to count open checkouts")
		return
	}
	metrics.OpenCheckouts.Set(float64(len(open)))
}

func (c *Coordinator) reject(op, target string, err error) error {
	kind := outcome.Of(err)
	metrics.Rejections.WithLabelValues(op, kind.String()).Inc()
	entry := c.log.WithFields(log.Fields{
		"operation": op,
		"target":    target,
		"reason":    err.Error(),
	})
	if kind == outcome.StoreFailure {
		entry.Error("Custody operation failed")
	} else {
		entry.Info("Custody operation rejected")
	}
	return err
}
