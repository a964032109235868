package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fieldops/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned by versioned updates when the stored version moved on.
	ErrConflict = errors.New("record was modified concurrently")
	// ErrGuardFailed is returned by guarded updates whose precondition no longer holds.
	ErrGuardFailed = errors.New("update guard not satisfied")
)

// JobFilter selects jobs. Zero fields do not filter.
type JobFilter struct {
	TechnicianID  string
	ScheduledFrom time.Time
	ScheduledTo   time.Time
	OnlyUnsynced  bool
}

// JobCollection defines the interface for job data operations.
type JobCollection interface {
	// InsertJob assigns the next job id when job.ID is zero.
	InsertJob(ctx context.Context, job *models.Job) error
	FindJobByID(ctx context.Context, id int64) (*models.Job, error)
	FindJobByNumber(ctx context.Context, number string) (*models.Job, error)
	FindJobs(ctx context.Context, filter JobFilter) ([]models.Job, error)
	// UpdateJob replaces the stored job if the stored version equals job.Version,
	// then increments job.Version. A mismatch returns ErrConflict.
	UpdateJob(ctx context.Context, job *models.Job) error
}

// TechnicianCollection defines the interface for technician data operations.
type TechnicianCollection interface {
	InsertTechnician(ctx context.Context, technician *models.Technician) error
	FindTechnicianByID(ctx context.Context, id string) (*models.Technician, error)
	FindTechnicianByUsername(ctx context.Context, username string) (*models.Technician, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// AssetFilter selects assets. Zero fields do not filter.
type AssetFilter struct {
	Category  models.AssetCategory
	Available *bool
	Holder    string
}

// AssetCollection defines the interface for fixed asset data operations.
type AssetCollection interface {
	InsertAsset(ctx context.Context, asset *models.Asset) error
	FindAssetByCode(ctx context.Context, code string) (*models.Asset, error)
	FindAssets(ctx context.Context, filter AssetFilter) ([]models.Asset, error)
	// UpdateAsset follows the same version rule as UpdateJob.
	UpdateAsset(ctx context.Context, asset *models.Asset) error
}

// CheckoutFilter selects checkouts. Zero fields do not filter.
type CheckoutFilter struct {
	AssetCode string
	Holder    string
	JobID     *int64
	OpenOnly  bool
}

// CheckoutCollection defines the interface for custody record operations.
type CheckoutCollection interface {
	// InsertCheckout assigns the next checkout id to checkout.ID.
	InsertCheckout(ctx context.Context, checkout *models.Checkout) error
	FindCheckoutByID(ctx context.Context, id int64) (*models.Checkout, error)
	FindCheckouts(ctx context.Context, filter CheckoutFilter) ([]models.Checkout, error)
	// CloseCheckout records the return only if the checkout is still open;
	// otherwise it returns ErrGuardFailed.
	CloseCheckout(ctx context.Context, id int64, at time.Time, condition models.Condition, notes string) (*models.Checkout, error)
}

// ConsumableFilter selects consumables. Zero fields do not filter.
type ConsumableFilter struct {
	Category string
}

// ConsumableCollection defines the interface for consumable stock operations.
type ConsumableCollection interface {
	InsertConsumable(ctx context.Context, consumable *models.Consumable) error
	FindConsumableByCode(ctx context.Context, code string) (*models.Consumable, error)
	FindConsumables(ctx context.Context, filter ConsumableFilter) ([]models.Consumable, error)
	// AdjustStock adds delta to the current stock in one guarded write. If the
	// result would be negative nothing changes and ErrGuardFailed is returned.
	AdjustStock(ctx context.Context, code string, delta float64, at time.Time) (*models.Consumable, error)
}

// UsageFilter selects usage records. Zero fields do not filter.
type UsageFilter struct {
	JobID          *int64
	ConsumableCode string
}

// UsageCollection defines the interface for usage ledger operations.
type UsageCollection interface {
	// InsertUsage assigns the next usage id to usage.ID.
	InsertUsage(ctx context.Context, usage *models.Usage) error
	FindUsages(ctx context.Context, filter UsageFilter) ([]models.Usage, error)
}

// Store is the persistent store the engine runs against.
type Store interface {
	JobCollection
	TechnicianCollection
	AssetCollection
	CheckoutCollection
	ConsumableCollection
	UsageCollection

	// Transact runs fn against a transactional view of the store. Writes made
	// through tx become visible only if fn returns nil. Calling Transact on a
	// transactional view runs fn in the enclosing transaction.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Close(ctx context.Context) error
}
