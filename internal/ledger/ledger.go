// Package ledger owns the per-(warehouse, material) quantity rows of each
// branch partition.
package ledger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/store"
)

type Ledger struct {
	router *partition.Router
	retry  RetryPolicy
	log    zerolog.Logger
}

func New(router *partition.Router, policy RetryPolicy, logger zerolog.Logger) *Ledger {
	return &Ledger{
		router: router,
		retry:  policy.normalized(),
		log:    logger.With().Str("component", "ledger").Logger(),
	}
}

// GetQuantity returns 0 for a row that does not exist yet.
func (l *Ledger) GetQuantity(ctx context.Context, branch, warehouseID, materialID string) (int64, error) {
	st, _, err := l.router.Branch(branch)
	if err != nil {
		return 0, err
	}
	return quantity(ctx, st, warehouseID, materialID)
}

func (l *Ledger) CheckSufficient(ctx context.Context, branch, warehouseID, materialID string, required int64) (bool, error) {
	available, err := l.GetQuantity(ctx, branch, warehouseID, materialID)
	if err != nil {
		return false, err
	}
	return available >= required, nil
}

// Adjust applies delta to one row by compare-and-swap on its version. A
// missing row is created with quantity delta. Negative deltas are checked
// against the quantity read in the same attempt.
func (l *Ledger) Adjust(ctx context.Context, branch, warehouseID, materialID string, delta int64) (domain.InventoryRow, error) {
	st, code, err := l.router.Branch(branch)
	if err != nil {
		return domain.InventoryRow{}, err
	}

	var result domain.InventoryRow
	err = l.retry.Do(ctx, "ledger.adjust", func(ctx context.Context) error {
		next := domain.InventoryRow{WarehouseID: warehouseID, MaterialID: materialID}
		var expected int64

		current, err := st.GetInventory(ctx, warehouseID, materialID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			next = *current
			expected = current.Version
		}

		if delta < 0 && next.Quantity+delta < 0 {
			return &store.InsufficientStockError{
				WarehouseID: warehouseID,
				MaterialID:  materialID,
				Requested:   -delta,
				Available:   next.Quantity,
			}
		}
		next.Quantity += delta

		swapped, err := st.SwapInventory(ctx, next, expected)
		if err != nil {
			return err
		}
		result = *swapped
		return nil
	})
	if err != nil {
		l.log.Debug().Err(err).
			Str("branch", code).
			Str("warehouse_id", warehouseID).
			Str("material_id", materialID).
			Int64("delta", delta).
			Msg("adjust failed")
		return domain.InventoryRow{}, err
	}
	return result, nil
}

func quantity(ctx context.Context, st store.BranchStore, warehouseID, materialID string) (int64, error) {
	row, err := st.GetInventory(ctx, warehouseID, materialID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Quantity, nil
}
