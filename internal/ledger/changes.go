package ledger

import (
	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

// Consume takes qty out of stock. The store re-checks it at write time.
func Consume(warehouseID, materialID string, qty int64) store.LedgerChange {
	return store.LedgerChange{WarehouseID: warehouseID, MaterialID: materialID, Delta: -qty, Guarded: true}
}

// Restore gives back stock a consuming line had taken.
func Restore(warehouseID, materialID string, qty int64) store.LedgerChange {
	return store.LedgerChange{WarehouseID: warehouseID, MaterialID: materialID, Delta: qty}
}

func Receive(warehouseID, materialID string, qty int64) store.LedgerChange {
	return store.LedgerChange{WarehouseID: warehouseID, MaterialID: materialID, Delta: qty}
}

// Unreceive reverses a receipt. It is never guarded, so the row may go
// negative when the received stock was already consumed.
func Unreceive(warehouseID, materialID string, qty int64) store.LedgerChange {
	return store.LedgerChange{WarehouseID: warehouseID, MaterialID: materialID, Delta: -qty}
}

// Change is the ledger side of editing a line from oldQty to newQty.
func Change(kind domain.DetailKind, warehouseID, materialID string, oldQty, newQty int64) store.LedgerChange {
	diff := newQty - oldQty
	if kind.ConsumesStock() {
		if diff > 0 {
			return Consume(warehouseID, materialID, diff)
		}
		return Restore(warehouseID, materialID, -diff)
	}
	if diff >= 0 {
		return Receive(warehouseID, materialID, diff)
	}
	return Unreceive(warehouseID, materialID, -diff)
}

// ForInsert is the ledger side of creating a line of kind.
func ForInsert(kind domain.DetailKind, warehouseID, materialID string, qty int64) store.LedgerChange {
	if kind.ConsumesStock() {
		return Consume(warehouseID, materialID, qty)
	}
	return Receive(warehouseID, materialID, qty)
}

// ForDelete reverses the line's original quantity.
func ForDelete(kind domain.DetailKind, warehouseID, materialID string, qty int64) store.LedgerChange {
	if kind.ConsumesStock() {
		return Restore(warehouseID, materialID, qty)
	}
	return Unreceive(warehouseID, materialID, qty)
}
