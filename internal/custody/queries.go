package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// AssetView is an asset with its derived custody state.
type AssetView struct {
	models.Asset
	CheckedOut     bool             `json:"checked_out"`
	MaintenanceDue bool             `json:"maintenance_due"`
	OpenCheckout   *models.Checkout `json:"open_checkout,omitempty"`
}

func (c *Coordinator) view(ctx context.Context, asset *models.Asset) (*AssetView, error) {
	v := &AssetView{
		Asset:          *asset,
		CheckedOut:     asset.CustodyOpen(),
		MaintenanceDue: asset.MaintenanceDue(c.now()),
	}
	if v.CheckedOut {
		open, err := c.store.FindCheckouts(ctx, db.CheckoutFilter{AssetCode: asset.Code, OpenOnly: true})
		if err != nil {
			return nil, err
		}
		if len(open) > 0 {
			v.OpenCheckout = &open[0]
		}
	}
	return v, nil
}

// Asset returns one asset.
func (c *Coordinator) Asset(ctx context.Context, code string) (*AssetView, error) {
	asset, err := c.store.FindAssetByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: asset %s", outcome.ErrNotFound, code)
	}
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	v, err := c.view(ctx, asset)
	return v, outcome.Wrap(err)
}

// Assets lists assets matching filter, ordered by code.
func (c *Coordinator) Assets(ctx context.Context, filter db.AssetFilter) ([]AssetView, error) {
	assets, err := c.store.FindAssets(ctx, filter)
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	out := make([]AssetView, 0, len(assets))
	for i := range assets {
		v, err := c.view(ctx, &assets[i])
		if err != nil {
			return nil, outcome.Wrap(err)
		}
		out = append(out, *v)
	}
	return out, nil
}

// CheckoutByID returns one custody record.
func (c *Coordinator) CheckoutByID(ctx context.Context, id int64) (*models.Checkout, error) {
	co, err := c.store.FindCheckoutByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: checkout %d", outcome.ErrNotFound, id)
	}
	return co, outcome.Wrap(err)
}

// Checkouts lists custody records matching filter.
func (c *Coordinator) Checkouts(ctx context.Context, filter db.CheckoutFilter) ([]models.Checkout, error) {
	out, err := c.store.FindCheckouts(ctx, filter)
	return out, outcome.Wrap(err)
}
