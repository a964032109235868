package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// Consumable returns one consumable with its current low-stock flag.
func (l *Ledger) Consumable(ctx context.Context, code string) (*ConsumableView, error) {
	c, err := l.store.FindConsumableByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: consumable %s", outcome.ErrNotFound, code)
	}
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	return NewConsumableView(c), nil
}

// Consumables lists consumables ordered by code.
func (l *Ledger) Consumables(ctx context.Context, filter db.ConsumableFilter) ([]ConsumableView, error) {
	items, err := l.store.FindConsumables(ctx, filter)
	if err != nil {
		return nil, outcome.Wrap(err)
	}
	out := make([]ConsumableView, 0, len(items))
	for i := range items {
		out = append(out, *NewConsumableView(&items[i]))
	}
	return out, nil
}

// LowStock lists consumables at or below their minimum stock.
func (l *Ledger) LowStock(ctx context.Context) ([]ConsumableView, error) {
	all, err := l.Consumables(ctx, db.ConsumableFilter{})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.LowStock {
			out = append(out, c)
		}
	}
	return out, nil
}

// Usages lists draw records matching filter.
func (l *Ledger) Usages(ctx context.Context, filter db.UsageFilter) ([]models.Usage, error) {
	out, err := l.store.FindUsages(ctx, filter)
	return out, outcome.Wrap(err)
}
