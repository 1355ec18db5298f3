package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// BranchStore is one branch partition backed by its own database.
type BranchStore struct {
	db     *sql.DB
	schema *schema.Manager
}

func NewBranch(db *sql.DB) *BranchStore {
	return &BranchStore{db: db, schema: schema.Default()}
}

var _ store.BranchStore = (*BranchStore)(nil)

func (s *BranchStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BranchStore) Close() error {
	return s.db.Close()
}

const orderColumns = `order_id, order_date, supplier, employee_id, warehouse_id, created_at`

func scanOrder(row rowScanner) (domain.OrderHeader, error) {
	var o domain.OrderHeader
	err := row.Scan(&o.OrderID, &o.Date, &o.Supplier, &o.EmployeeID, &o.WarehouseID, &o.CreatedAt)
	return o, err
}

func (s *BranchStore) InsertOrder(ctx context.Context, order domain.OrderHeader) (*domain.OrderHeader, error) {
	if err := s.schema.Validate(order); err != nil {
		return nil, err
	}
	out, err := scanOrder(s.db.QueryRowContext(ctx, `
		INSERT INTO orders (order_id, order_date, supplier, employee_id, warehouse_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+orderColumns,
		order.OrderID, order.Date, order.Supplier, order.EmployeeID, order.WarehouseID,
	))
	if isUniqueViolation(err) {
		return nil, schema.MustLookup(schema.Orders).Duplicate(order.OrderID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error) {
	out, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.Orders).NotFound(orderID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) ListOrders(ctx context.Context, filter domain.HeaderFilter) ([]domain.OrderHeader, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text = '' OR warehouse_id = $1)
		  AND ($2::text = '' OR employee_id = $2)
		ORDER BY order_id
	`, filter.WarehouseID, filter.EmployeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OrderHeader, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const receiptColumns = `type, receipt_id, receipt_date, counterpart, employee_id, warehouse_id, created_at`

func scanReceipt(row rowScanner) (domain.ReceiptHeader, error) {
	var (
		r   domain.ReceiptHeader
		typ string
	)
	if err := row.Scan(&typ, &r.ReceiptID, &r.Date, &r.Counterpart, &r.EmployeeID, &r.WarehouseID, &r.CreatedAt); err != nil {
		return domain.ReceiptHeader{}, err
	}
	r.Type = domain.ReceiptType(typ)
	return r, nil
}

func (s *BranchStore) InsertReceipt(ctx context.Context, receipt domain.ReceiptHeader) (*domain.ReceiptHeader, error) {
	if err := s.schema.Validate(receipt); err != nil {
		return nil, err
	}
	out, err := scanReceipt(s.db.QueryRowContext(ctx, `
		INSERT INTO receipts (type, receipt_id, receipt_date, counterpart, employee_id, warehouse_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+receiptColumns,
		string(receipt.Type), receipt.ReceiptID, receipt.Date, receipt.Counterpart, receipt.EmployeeID, receipt.WarehouseID,
	))
	if isUniqueViolation(err) {
		return nil, schema.MustLookup(schema.ReceiptCollection(receipt.Type)).Duplicate(receipt.ReceiptID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) GetReceipt(ctx context.Context, typ domain.ReceiptType, receiptID string) (*domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	out, err := scanReceipt(s.db.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE type = $1 AND receipt_id = $2
	`, string(typ), receiptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.ReceiptCollection(typ)).NotFound(receiptID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) ListReceipts(ctx context.Context, typ domain.ReceiptType, filter domain.HeaderFilter) ([]domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE type = $1
		  AND ($2::text = '' OR warehouse_id = $2)
		  AND ($3::text = '' OR employee_id = $3)
		ORDER BY receipt_id
	`, string(typ), filter.WarehouseID, filter.EmployeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ReceiptHeader, 0, 32)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const detailColumns = `kind, parent_id, material_id, quantity, unit_price, version, created_at, updated_at`

func scanDetail(row rowScanner) (domain.DetailLine, error) {
	var (
		d    domain.DetailLine
		kind string
	)
	if err := row.Scan(&kind, &d.ParentID, &d.MaterialID, &d.Quantity, &d.UnitPrice, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.DetailLine{}, err
	}
	d.Kind = domain.DetailKind(kind)
	return d, nil
}

func (s *BranchStore) GetDetail(ctx context.Context, kind domain.DetailKind, key domain.DetailKey) (*domain.DetailLine, error) {
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	out, err := getDetail(ctx, s.db, kind, key)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDetail(ctx context.Context, q querier, kind domain.DetailKind, key domain.DetailKey) (domain.DetailLine, error) {
	out, err := scanDetail(q.QueryRowContext(ctx, `
		SELECT `+detailColumns+`
		FROM details
		WHERE kind = $1 AND parent_id = $2 AND material_id = $3
	`, string(kind), key.ParentID, key.MaterialID))
	if errors.Is(err, sql.ErrNoRows) {
		c, k, keyErr := schema.DetailKey(kind, key)
		if keyErr != nil {
			return domain.DetailLine{}, keyErr
		}
		return domain.DetailLine{}, c.NotFound(k)
	}
	return out, err
}

func (s *BranchStore) ListDetails(ctx context.Context, kind domain.DetailKind, parentID string) ([]domain.DetailLine, error) {
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+detailColumns+`
		FROM details
		WHERE kind = $1 AND ($2::text = '' OR parent_id = $2)
		ORDER BY parent_id, material_id
	`, string(kind), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DetailLine, 0, 32)
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const inventoryColumns = `warehouse_id, material_id, quantity, version, updated_at`

func scanInventory(row rowScanner) (domain.InventoryRow, error) {
	var r domain.InventoryRow
	err := row.Scan(&r.WarehouseID, &r.MaterialID, &r.Quantity, &r.Version, &r.UpdatedAt)
	return r, err
}

func (s *BranchStore) GetInventory(ctx context.Context, warehouseID string, materialID string) (*domain.InventoryRow, error) {
	out, err := scanInventory(s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE warehouse_id = $1 AND material_id = $2
	`, warehouseID, materialID))
	if errors.Is(err, sql.ErrNoRows) {
		key, keyErr := schema.InventoryKey(warehouseID, materialID)
		if keyErr != nil {
			return nil, keyErr
		}
		return nil, schema.MustLookup(schema.Inventory).NotFound(key)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE ($1::text = '' OR warehouse_id = $1)
		  AND ($2::text = '' OR material_id = $2)
		ORDER BY warehouse_id, material_id
	`, filter.WarehouseID, filter.MaterialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryRow, 0, 64)
	for rows.Next() {
		r, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *BranchStore) SwapInventory(ctx context.Context, row domain.InventoryRow, expectedVersion int64) (*domain.InventoryRow, error) {
	if err := s.schema.Validate(row); err != nil {
		return nil, err
	}

	var (
		out domain.InventoryRow
		err error
	)
	if expectedVersion == 0 {
		out, err = scanInventory(s.db.QueryRowContext(ctx, `
			INSERT INTO inventory (warehouse_id, material_id, quantity, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (warehouse_id, material_id) DO NOTHING
			RETURNING `+inventoryColumns,
			row.WarehouseID, row.MaterialID, row.Quantity,
		))
	} else {
		out, err = scanInventory(s.db.QueryRowContext(ctx, `
			UPDATE inventory
			SET quantity = $3, version = version + 1, updated_at = now()
			WHERE warehouse_id = $1 AND material_id = $2 AND version = $4
			RETURNING `+inventoryColumns,
			row.WarehouseID, row.MaterialID, row.Quantity, expectedVersion,
		))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyDetail writes the detail row first and the inventory row second so
// concurrent units always take row locks in the same order.
func (s *BranchStore) ApplyDetail(ctx context.Context, m store.DetailMutation) (*store.AppliedDetail, error) {
	if !m.Line.Kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", m.Line.Kind)
	}
	if m.Op != store.DetailDelete {
		if err := s.schema.Validate(m.Line); err != nil {
			return nil, err
		}
	}
	c, detailKey, err := schema.DetailKey(m.Line.Kind, m.Line.Key())
	if err != nil {
		return nil, err
	}
	if _, err := schema.InventoryKey(m.Ledger.WarehouseID, m.Ledger.MaterialID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	applied := &store.AppliedDetail{}
	line := m.Line
	switch m.Op {
	case store.DetailInsert:
		applied.Line, err = scanDetail(tx.QueryRowContext(ctx, `
			INSERT INTO details (kind, parent_id, material_id, quantity, unit_price, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, now(), now())
			RETURNING `+detailColumns,
			string(line.Kind), line.ParentID, line.MaterialID, line.Quantity, line.UnitPrice,
		))
		if isUniqueViolation(err) {
			return nil, c.Duplicate(detailKey)
		}
		if err != nil {
			return nil, err
		}
	case store.DetailUpdate:
		applied.Line, err = scanDetail(tx.QueryRowContext(ctx, `
			UPDATE details
			SET quantity = $4, unit_price = $5, version = version + 1, updated_at = now()
			WHERE kind = $1 AND parent_id = $2 AND material_id = $3 AND version = $6
			RETURNING `+detailColumns,
			string(line.Kind), line.ParentID, line.MaterialID, line.Quantity, line.UnitPrice, m.ExpectedVersion,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingOrStale(ctx, tx, line)
		}
		if err != nil {
			return nil, err
		}
	case store.DetailDelete:
		res, err := tx.ExecContext(ctx, `
			DELETE FROM details
			WHERE kind = $1 AND parent_id = $2 AND material_id = $3 AND version = $4
		`, string(line.Kind), line.ParentID, line.MaterialID, m.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, missingOrStale(ctx, tx, line)
		}
	default:
		return nil, fmt.Errorf("postgres: unsupported detail op %d", m.Op)
	}

	applied.Inventory, err = applyLedger(ctx, tx, m.Ledger)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return applied, nil
}

// missingOrStale tells a deleted row apart from one another writer bumped.
func missingOrStale(ctx context.Context, tx *sql.Tx, line domain.DetailLine) error {
	_, err := getDetail(ctx, tx, line.Kind, line.Key())
	if err != nil {
		return err
	}
	return store.ErrVersionConflict
}

func applyLedger(ctx context.Context, tx *sql.Tx, change store.LedgerChange) (domain.InventoryRow, error) {
	switch {
	case change.Delta == 0:
		row, err := scanInventory(tx.QueryRowContext(ctx, `
			SELECT `+inventoryColumns+`
			FROM inventory
			WHERE warehouse_id = $1 AND material_id = $2
		`, change.WarehouseID, change.MaterialID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRow{WarehouseID: change.WarehouseID, MaterialID: change.MaterialID}, nil
		}
		return row, err

	case change.Guarded && change.Delta < 0:
		row, err := scanInventory(tx.QueryRowContext(ctx, `
			UPDATE inventory
			SET quantity = quantity + $3, version = version + 1, updated_at = now()
			WHERE warehouse_id = $1 AND material_id = $2 AND quantity + $3 >= 0
			RETURNING `+inventoryColumns,
			change.WarehouseID, change.MaterialID, change.Delta,
		))
		if !errors.Is(err, sql.ErrNoRows) {
			return row, err
		}
		var available int64
		err = tx.QueryRowContext(ctx, `
			SELECT quantity FROM inventory WHERE warehouse_id = $1 AND material_id = $2
		`, change.WarehouseID, change.MaterialID).Scan(&available)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRow{}, err
		}
		return domain.InventoryRow{}, &store.InsufficientStockError{
			WarehouseID: change.WarehouseID,
			MaterialID:  change.MaterialID,
			Requested:   change.Required(),
			Available:   available,
		}

	default:
		return scanInventory(tx.QueryRowContext(ctx, `
			INSERT INTO inventory (warehouse_id, material_id, quantity, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (warehouse_id, material_id)
			DO UPDATE SET
				quantity = inventory.quantity + EXCLUDED.quantity,
				version = inventory.version + 1,
				updated_at = now()
			RETURNING `+inventoryColumns,
			change.WarehouseID, change.MaterialID, change.Delta,
		))
	}
}
