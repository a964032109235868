package handlers

import (
	"context"

	"github.com/ukydev/fieldops/internal/custody"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/evidence"
	"github.com/ukydev/fieldops/internal/inventory"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/models"
)

// JobService is implemented by *lifecycle.Engine.
type JobService interface {
	CreateJob(ctx context.Context, session models.Session, req lifecycle.NewJob) (*lifecycle.View, error)
	Get(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error)
	List(ctx context.Context, session models.Session, filter lifecycle.ListFilter) ([]lifecycle.View, error)
	ActiveJob(ctx context.Context, session models.Session) (*lifecycle.View, error)
	Start(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error)
	EnRoute(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error)
	Pause(ctx context.Context, session models.Session, jobID int64, reason string) (*lifecycle.View, error)
	Resume(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error)
	Cancel(ctx context.Context, session models.Session, jobID int64, reason string) (*lifecycle.View, error)
	Complete(ctx context.Context, session models.Session, jobID int64, req lifecycle.CompleteRequest) (*lifecycle.View, error)
	Sign(ctx context.Context, session models.Session, jobID int64, req lifecycle.SignRequest) (*lifecycle.View, error)
	MarkSynced(ctx context.Context, session models.Session, jobID int64) (*lifecycle.View, error)
}

// CustodyService is implemented by *custody.Coordinator.
type CustodyService interface {
	Checkout(ctx context.Context, session models.Session, req custody.CheckoutRequest) (*models.Checkout, error)
	Return(ctx context.Context, session models.Session, checkoutID int64, condition models.Condition, notes string) (*models.Checkout, error)
	Asset(ctx context.Context, code string) (*custody.AssetView, error)
	Assets(ctx context.Context, filter db.AssetFilter) ([]custody.AssetView, error)
	CheckoutByID(ctx context.Context, id int64) (*models.Checkout, error)
	Checkouts(ctx context.Context, filter db.CheckoutFilter) ([]models.Checkout, error)
}

// InventoryService is implemented by *inventory.Ledger.
type InventoryService interface {
	Draw(ctx context.Context, session models.Session, jobID int64, code string, quantity float64) (*inventory.DrawResult, error)
	Restore(ctx context.Context, session models.Session, code string, quantity float64, jobID *int64) (*inventory.ConsumableView, error)
	Consumable(ctx context.Context, code string) (*inventory.ConsumableView, error)
	Consumables(ctx context.Context, filter db.ConsumableFilter) ([]inventory.ConsumableView, error)
	LowStock(ctx context.Context) ([]inventory.ConsumableView, error)
	Usages(ctx context.Context, filter db.UsageFilter) ([]models.Usage, error)
}

// EvidenceService is implemented by *evidence.Tagger.
type EvidenceService interface {
	Add(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri, note string) (*evidence.View, error)
	Remove(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri string) (*evidence.View, error)
	Retag(ctx context.Context, session models.Session, jobID int64, uri string, from, to models.EvidenceCategory) (*evidence.View, error)
	Annotate(ctx context.Context, session models.Session, jobID int64, category models.EvidenceCategory, uri, note string) (*evidence.View, error)
	Get(ctx context.Context, session models.Session, jobID int64) (*evidence.View, error)
}

var (
	_ JobService       = (*lifecycle.Engine)(nil)
	_ CustodyService   = (*custody.Coordinator)(nil)
	_ InventoryService = (*inventory.Ledger)(nil)
	_ EvidenceService  = (*evidence.Tagger)(nil)
)
