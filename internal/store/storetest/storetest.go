// Package storetest holds behaviour tests every store backend must pass.
// Backends call RunBranchStore and RunReferenceStore from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

// Factory returns an empty store. Cleanup is the factory's job.
type (
	BranchFactory    func(t *testing.T) store.BranchStore
	ReferenceFactory func(t *testing.T) store.ReferenceStore
)

func RunBranchStore(t *testing.T, newStore BranchFactory) {
	t.Run("OrderUniqueness", func(t *testing.T) { testOrderUniqueness(t, newStore(t)) })
	t.Run("ReceiptTypesAreSeparate", func(t *testing.T) { testReceiptTypes(t, newStore(t)) })
	t.Run("InsertDetailDecrements", func(t *testing.T) { testInsertDetailDecrements(t, newStore(t)) })
	t.Run("GuardedChangeRejected", func(t *testing.T) { testGuardedChangeRejected(t, newStore(t)) })
	t.Run("DuplicateDetailLeavesLedger", func(t *testing.T) { testDuplicateDetail(t, newStore(t)) })
	t.Run("UpdateAndDeleteCheckVersion", func(t *testing.T) { testVersionChecks(t, newStore(t)) })
	t.Run("UnguardedChangeMayGoNegative", func(t *testing.T) { testUnguarded(t, newStore(t)) })
	t.Run("SwapInventory", func(t *testing.T) { testSwapInventory(t, newStore(t)) })
	t.Run("ConcurrentGuardedInserts", func(t *testing.T) { testConcurrentGuarded(t, newStore(t)) })
}

func RunReferenceStore(t *testing.T, newStore ReferenceFactory) {
	t.Run("InsertSaveDelete", func(t *testing.T) { testReferenceLifecycle(t, newStore(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
}

func seed(t *testing.T, s store.BranchStore, warehouseID, materialID string, qty int64) {
	t.Helper()
	_, err := s.SwapInventory(context.Background(), domain.InventoryRow{
		WarehouseID: warehouseID,
		MaterialID:  materialID,
		Quantity:    qty,
	}, 0)
	require.NoError(t, err)
}

func quantity(t *testing.T, s store.BranchStore, warehouseID, materialID string) int64 {
	t.Helper()
	row, err := s.GetInventory(context.Background(), warehouseID, materialID)
	if errors.Is(err, store.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return row.Quantity
}

func line(kind domain.DetailKind, parent, material string, qty int64) domain.DetailLine {
	return domain.DetailLine{
		Kind:       kind,
		ParentID:   parent,
		MaterialID: material,
		Quantity:   qty,
		UnitPrice:  decimal.RequireFromString("12.50"),
	}
}

func testOrderUniqueness(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	order := domain.OrderHeader{
		OrderID:     "DH001",
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Supplier:    "Supplier A",
		EmployeeID:  "NV01",
		WarehouseID: "K1",
	}
	created, err := s.InsertOrder(ctx, order)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.InsertOrder(ctx, order)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	got, err := s.GetOrder(ctx, "DH001")
	require.NoError(t, err)
	assert.Equal(t, "K1", got.WarehouseID)

	_, err = s.GetOrder(ctx, "DH404")
	assert.ErrorIs(t, err, store.ErrNotFound)

	orders, err := s.ListOrders(ctx, domain.HeaderFilter{WarehouseID: "K2"})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func testReceiptTypes(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	header := domain.ReceiptHeader{
		Type:        domain.ReceiptInbound,
		ReceiptID:   "P001",
		Date:        time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		Counterpart: "DH001",
		EmployeeID:  "NV01",
		WarehouseID: "K1",
	}
	_, err := s.InsertReceipt(ctx, header)
	require.NoError(t, err)

	header.Type = domain.ReceiptOutbound
	header.Counterpart = "Customer B"
	_, err = s.InsertReceipt(ctx, header)
	require.NoError(t, err, "same id under another receipt type is a different key")

	_, err = s.InsertReceipt(ctx, header)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	inbound, err := s.ListReceipts(ctx, domain.ReceiptInbound, domain.HeaderFilter{})
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, "DH001", inbound[0].Counterpart)

	got, err := s.GetReceipt(ctx, domain.ReceiptOutbound, "P001")
	require.NoError(t, err)
	assert.Equal(t, "Customer B", got.Counterpart)
}

func testInsertDetailDecrements(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	seed(t, s, "K1", "VT01", 10)

	applied, err := s.ApplyDetail(ctx, store.DetailMutation{
		Op:     store.DetailInsert,
		Line:   line(domain.DetailOrder, "DH001", "VT01", 4),
		Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -4, Guarded: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.Line.Version)
	assert.Equal(t, int64(6), applied.Inventory.Quantity)
	assert.Equal(t, int64(6), quantity(t, s, "K1", "VT01"))

	got, err := s.GetDetail(ctx, domain.DetailOrder, domain.DetailKey{ParentID: "DH001", MaterialID: "VT01"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Quantity)
	assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("12.5")))

	_, err = s.GetDetail(ctx, domain.DetailInbound, domain.DetailKey{ParentID: "DH001", MaterialID: "VT01"})
	assert.ErrorIs(t, err, store.ErrNotFound, "detail kinds live in separate collections")
}

func testGuardedChangeRejected(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	seed(t, s, "K1", "VT01", 3)

	_, err := s.ApplyDetail(ctx, store.DetailMutation{
		Op:     store.DetailInsert,
		Line:   line(domain.DetailOutbound, "X001", "VT01", 5),
		Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -5, Guarded: true},
	})
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Requested)
	assert.Equal(t, int64(3), insufficient.Available)

	assert.Equal(t, int64(3), quantity(t, s, "K1", "VT01"))
	_, err = s.GetDetail(ctx, domain.DetailOutbound, domain.DetailKey{ParentID: "X001", MaterialID: "VT01"})
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected unit must not leave a detail behind")
}

func testDuplicateDetail(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	mutation := store.DetailMutation{
		Op:     store.DetailInsert,
		Line:   line(domain.DetailInbound, "P001", "VT01", 7),
		Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: 7},
	}
	_, err := s.ApplyDetail(ctx, mutation)
	require.NoError(t, err)
	assert.Equal(t, int64(7), quantity(t, s, "K1", "VT01"))

	_, err = s.ApplyDetail(ctx, mutation)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
	assert.Equal(t, int64(7), quantity(t, s, "K1", "VT01"))
}

func testVersionChecks(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	seed(t, s, "K1", "VT01", 10)
	applied, err := s.ApplyDetail(ctx, store.DetailMutation{
		Op:     store.DetailInsert,
		Line:   line(domain.DetailOrder, "DH001", "VT01", 2),
		Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -2, Guarded: true},
	})
	require.NoError(t, err)

	edited := applied.Line
	edited.Quantity = 5
	_, err = s.ApplyDetail(ctx, store.DetailMutation{
		Op:              store.DetailUpdate,
		Line:            edited,
		ExpectedVersion: applied.Line.Version + 1,
		Ledger:          store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -3, Guarded: true},
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Equal(t, int64(8), quantity(t, s, "K1", "VT01"))

	updated, err := s.ApplyDetail(ctx, store.DetailMutation{
		Op:              store.DetailUpdate,
		Line:            edited,
		ExpectedVersion: applied.Line.Version,
		Ledger:          store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -3, Guarded: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Line.Version)
	assert.Equal(t, int64(5), updated.Inventory.Quantity)

	_, err = s.ApplyDetail(ctx, store.DetailMutation{
		Op:              store.DetailDelete,
		Line:            updated.Line,
		ExpectedVersion: updated.Line.Version,
		Ledger:          store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), quantity(t, s, "K1", "VT01"))

	_, err = s.ApplyDetail(ctx, store.DetailMutation{
		Op:              store.DetailDelete,
		Line:            updated.Line,
		ExpectedVersion: updated.Line.Version,
		Ledger:          store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: 5},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int64(10), quantity(t, s, "K1", "VT01"))
}

func testUnguarded(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	seed(t, s, "K1", "VT01", 1)
	applied, err := s.ApplyDetail(ctx, store.DetailMutation{
		Op:     store.DetailInsert,
		Line:   line(domain.DetailInbound, "P001", "VT01", 3),
		Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -3},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), applied.Inventory.Quantity)
}

func testSwapInventory(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	row := domain.InventoryRow{WarehouseID: "K1", MaterialID: "VT09", Quantity: 4}

	created, err := s.SwapInventory(ctx, row, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = s.SwapInventory(ctx, row, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict, "version 0 means the row must not exist")

	row.Quantity = 9
	_, err = s.SwapInventory(ctx, row, 7)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	swapped, err := s.SwapInventory(ctx, row, created.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(9), swapped.Quantity)
	assert.Equal(t, int64(2), swapped.Version)

	rows, err := s.ListInventory(ctx, domain.InventoryFilter{WarehouseID: "K1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "VT09", rows[0].MaterialID)
}

func testConcurrentGuarded(t *testing.T, s store.BranchStore) {
	ctx := context.Background()
	seed(t, s, "K1", "VT01", 5)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			parent := "DH" + string(rune('A'+i))
			_, err := s.ApplyDetail(ctx, store.DetailMutation{
				Op:     store.DetailInsert,
				Line:   line(domain.DetailOrder, parent, "VT01", 1),
				Ledger: store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -1, Guarded: true},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) && !errors.Is(err, store.ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, 5)
	assert.Equal(t, int64(5-succeeded), quantity(t, s, "K1", "VT01"))
	assert.GreaterOrEqual(t, quantity(t, s, "K1", "VT01"), int64(0))
}

func testReferenceLifecycle(t *testing.T, s store.ReferenceStore) {
	ctx := context.Background()
	warehouse := domain.Warehouse{ID: "K1", Name: "Kho 1", Address: "Q1", Branch: "CN1"}

	_, err := s.InsertWarehouse(ctx, warehouse)
	require.NoError(t, err)
	_, err = s.InsertWarehouse(ctx, warehouse)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	warehouse.Name = "Kho chinh"
	saved, err := s.SaveWarehouse(ctx, warehouse)
	require.NoError(t, err)
	assert.Equal(t, "Kho chinh", saved.Name)

	_, err = s.SaveWarehouse(ctx, domain.Warehouse{ID: "K2", Name: "Kho 2", Branch: "CN2"})
	require.NoError(t, err)

	cn1, err := s.ListWarehouses(ctx, domain.ReferenceFilter{Branch: "CN1"})
	require.NoError(t, err)
	require.Len(t, cn1, 1)
	assert.Equal(t, "Kho chinh", cn1[0].Name)

	employee := domain.Employee{
		ID:        "NV01",
		LastName:  "Nguyen",
		FirstName: "An",
		Salary:    decimal.NewFromInt(1500),
		Branch:    "CN1",
	}
	_, err = s.InsertEmployee(ctx, employee)
	require.NoError(t, err)
	got, err := s.GetEmployee(ctx, "NV01")
	require.NoError(t, err)
	assert.True(t, got.Salary.Equal(decimal.NewFromInt(1500)))

	employee.Salary = decimal.NewFromInt(-1)
	_, err = s.SaveEmployee(ctx, employee)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	_, err = s.InsertMaterial(ctx, domain.Material{ID: "VT01", Name: "Xi mang", Unit: "bao"})
	require.NoError(t, err)
	materials, err := s.ListMaterials(ctx)
	require.NoError(t, err)
	assert.Len(t, materials, 1)

	require.NoError(t, s.DeleteMaterial(ctx, "VT01"))
	assert.ErrorIs(t, s.DeleteMaterial(ctx, "VT01"), store.ErrNotFound)
	_, err = s.GetMaterial(ctx, "VT01")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAccounts(t *testing.T, s store.ReferenceStore) {
	ctx := context.Background()
	account := domain.Account{Username: "an.nguyen", PasswordHash: "$2a$10$hash", Role: domain.RoleBranch, Branch: "CN1"}
	require.NoError(t, s.CreateAccount(ctx, account))
	assert.ErrorIs(t, s.CreateAccount(ctx, account), store.ErrDuplicateKey)

	got, err := s.GetAccount(ctx, "an.nguyen")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBranch, got.Role)

	account.Username = "boss"
	account.Role = "Admin"
	assert.ErrorIs(t, s.CreateAccount(ctx, account), store.ErrInvalidRecord)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
