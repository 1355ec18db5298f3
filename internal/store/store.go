package store

import (
	"context"

	"branchstock/backend/internal/domain"
)

// ReferenceStore holds the shared, branch-agnostic collections.
type ReferenceStore interface {
	InsertEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	SaveEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	ListEmployees(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Employee, error)
	DeleteEmployee(ctx context.Context, id string) error

	InsertWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error)
	SaveWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Warehouse, error)
	DeleteWarehouse(ctx context.Context, id string) error

	InsertMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	SaveMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	GetMaterial(ctx context.Context, id string) (*domain.Material, error)
	ListMaterials(ctx context.Context) ([]domain.Material, error)
	DeleteMaterial(ctx context.Context, id string) error

	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, username string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	Ping(ctx context.Context) error
	Close() error
}

// BranchStore holds one branch's transactional collections.
type BranchStore interface {
	InsertOrder(ctx context.Context, order domain.OrderHeader) (*domain.OrderHeader, error)
	GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error)
	ListOrders(ctx context.Context, filter domain.HeaderFilter) ([]domain.OrderHeader, error)

	InsertReceipt(ctx context.Context, receipt domain.ReceiptHeader) (*domain.ReceiptHeader, error)
	GetReceipt(ctx context.Context, typ domain.ReceiptType, receiptID string) (*domain.ReceiptHeader, error)
	ListReceipts(ctx context.Context, typ domain.ReceiptType, filter domain.HeaderFilter) ([]domain.ReceiptHeader, error)

	GetDetail(ctx context.Context, kind domain.DetailKind, key domain.DetailKey) (*domain.DetailLine, error)
	// ListDetails returns every line of the kind when parentID is empty.
	ListDetails(ctx context.Context, kind domain.DetailKind, parentID string) ([]domain.DetailLine, error)

	GetInventory(ctx context.Context, warehouseID string, materialID string) (*domain.InventoryRow, error)
	ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRow, error)

	// SwapInventory writes row.Quantity if the stored version still equals
	// expectedVersion. expectedVersion 0 means the row must not exist yet.
	// A stale version yields ErrVersionConflict.
	SwapInventory(ctx context.Context, row domain.InventoryRow, expectedVersion int64) (*domain.InventoryRow, error)

	// ApplyDetail writes one detail mutation and its ledger change as a single
	// atomic unit. Either both persist or neither does.
	ApplyDetail(ctx context.Context, mutation DetailMutation) (*AppliedDetail, error)

	Ping(ctx context.Context) error
	Close() error
}

type DetailOp int

const (
	DetailInsert DetailOp = iota + 1
	DetailUpdate
	DetailDelete
)

func (op DetailOp) String() string {
	switch op {
	case DetailInsert:
		return "insert"
	case DetailUpdate:
		return "update"
	case DetailDelete:
		return "delete"
	}
	return "unknown"
}

// LedgerChange is the inventory side of an atomic unit.
type LedgerChange struct {
	WarehouseID string
	MaterialID  string
	Delta       int64
	// Guarded changes fail with InsufficientStockError unless the quantity
	// visible at write time covers -Delta. Only consuming changes are guarded.
	Guarded bool
}

// Required is the quantity a guarded change needs on hand.
func (c LedgerChange) Required() int64 {
	if c.Delta >= 0 {
		return 0
	}
	return -c.Delta
}

type DetailMutation struct {
	Op   DetailOp
	Line domain.DetailLine
	// ExpectedVersion guards update and delete against concurrent writers.
	ExpectedVersion int64
	Ledger          LedgerChange
}

type AppliedDetail struct {
	// Line is the stored line after the write; zero for deletes.
	Line      domain.DetailLine
	Inventory domain.InventoryRow
}
