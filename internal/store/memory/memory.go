package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// BranchStore keeps one branch partition in process memory. A single lock per
// partition makes every ApplyDetail unit atomic with respect to all others.
type BranchStore struct {
	mu        sync.RWMutex
	orders    map[string]domain.OrderHeader
	receipts  map[domain.ReceiptType]map[string]domain.ReceiptHeader
	details   map[domain.DetailKind]map[string]domain.DetailLine
	inventory map[string]domain.InventoryRow
	schema    *schema.Manager
	now       func() time.Time
}

func NewBranch() *BranchStore {
	return &BranchStore{
		orders: make(map[string]domain.OrderHeader),
		receipts: map[domain.ReceiptType]map[string]domain.ReceiptHeader{
			domain.ReceiptInbound:  {},
			domain.ReceiptOutbound: {},
		},
		details: map[domain.DetailKind]map[string]domain.DetailLine{
			domain.DetailOrder:    {},
			domain.DetailInbound:  {},
			domain.DetailOutbound: {},
		},
		inventory: make(map[string]domain.InventoryRow),
		schema:    schema.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ store.BranchStore = (*BranchStore)(nil)

func (s *BranchStore) InsertOrder(ctx context.Context, order domain.OrderHeader) (*domain.OrderHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(order); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Orders)
	key, err := c.Key(order.OrderID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[key]; exists {
		return nil, c.Duplicate(key)
	}
	order.CreatedAt = s.now()
	s.orders[key] = order
	return &order, nil
}

func (s *BranchStore) GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Orders)
	key, err := c.Key(orderID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &order, nil
}

func (s *BranchStore) ListOrders(ctx context.Context, filter domain.HeaderFilter) ([]domain.OrderHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OrderHeader, 0, len(s.orders))
	for _, key := range sortedKeys(s.orders) {
		order := s.orders[key]
		if !matchHeader(filter, order.WarehouseID, order.EmployeeID) {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (s *BranchStore) InsertReceipt(ctx context.Context, receipt domain.ReceiptHeader) (*domain.ReceiptHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(receipt); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.ReceiptCollection(receipt.Type))
	key, err := c.Key(receipt.ReceiptID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.receipts[receipt.Type]
	if _, exists := rows[key]; exists {
		return nil, c.Duplicate(key)
	}
	receipt.CreatedAt = s.now()
	rows[key] = receipt
	return &receipt, nil
}

func (s *BranchStore) GetReceipt(ctx context.Context, typ domain.ReceiptType, receiptID string) (*domain.ReceiptHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	c := schema.MustLookup(schema.ReceiptCollection(typ))
	key, err := c.Key(receiptID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	receipt, ok := s.receipts[typ][key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &receipt, nil
}

func (s *BranchStore) ListReceipts(ctx context.Context, typ domain.ReceiptType, filter domain.HeaderFilter) ([]domain.ReceiptHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.receipts[typ]
	out := make([]domain.ReceiptHeader, 0, len(rows))
	for _, key := range sortedKeys(rows) {
		receipt := rows[key]
		if !matchHeader(filter, receipt.WarehouseID, receipt.EmployeeID) {
			continue
		}
		out = append(out, receipt)
	}
	return out, nil
}

func (s *BranchStore) GetDetail(ctx context.Context, kind domain.DetailKind, key domain.DetailKey) (*domain.DetailLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	c, k, err := schema.DetailKey(kind, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	line, ok := s.details[kind][k]
	if !ok {
		return nil, c.NotFound(k)
	}
	return &line, nil
}

func (s *BranchStore) ListDetails(ctx context.Context, kind domain.DetailKind, parentID string) ([]domain.DetailLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.details[kind]
	out := make([]domain.DetailLine, 0)
	for _, key := range sortedKeys(rows) {
		line := rows[key]
		if parentID != "" && line.ParentID != parentID {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func (s *BranchStore) GetInventory(ctx context.Context, warehouseID string, materialID string) (*domain.InventoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := schema.InventoryKey(warehouseID, materialID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.inventory[key]
	if !ok {
		return nil, schema.MustLookup(schema.Inventory).NotFound(key)
	}
	return &row, nil
}

func (s *BranchStore) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryRow, 0, len(s.inventory))
	for _, key := range sortedKeys(s.inventory) {
		row := s.inventory[key]
		if filter.WarehouseID != "" && row.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.MaterialID != "" && row.MaterialID != filter.MaterialID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *BranchStore) SwapInventory(ctx context.Context, row domain.InventoryRow, expectedVersion int64) (*domain.InventoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(row); err != nil {
		return nil, err
	}
	key, err := schema.InventoryKey(row.WarehouseID, row.MaterialID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.inventory[key]
	switch {
	case expectedVersion == 0 && exists:
		return nil, store.ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return nil, store.ErrVersionConflict
	}

	row.Version = expectedVersion + 1
	row.UpdatedAt = s.now()
	s.inventory[key] = row
	return &row, nil
}

func (s *BranchStore) ApplyDetail(ctx context.Context, m store.DetailMutation) (*store.AppliedDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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
	invKey, err := schema.InventoryKey(m.Ledger.WarehouseID, m.Ledger.MaterialID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.details[m.Line.Kind]
	existing, exists := lines[detailKey]
	switch m.Op {
	case store.DetailInsert:
		if exists {
			return nil, c.Duplicate(detailKey)
		}
	case store.DetailUpdate, store.DetailDelete:
		if !exists {
			return nil, c.NotFound(detailKey)
		}
		if existing.Version != m.ExpectedVersion {
			return nil, store.ErrVersionConflict
		}
	default:
		return nil, fmt.Errorf("memory: unsupported detail op %d", m.Op)
	}

	row, rowExists := s.inventory[invKey]
	if !rowExists {
		row = domain.InventoryRow{WarehouseID: m.Ledger.WarehouseID, MaterialID: m.Ledger.MaterialID}
	}
	if m.Ledger.Guarded && row.Quantity+m.Ledger.Delta < 0 {
		return nil, &store.InsufficientStockError{
			WarehouseID: m.Ledger.WarehouseID,
			MaterialID:  m.Ledger.MaterialID,
			Requested:   m.Ledger.Required(),
			Available:   row.Quantity,
		}
	}

	// Both checks passed; nothing below can fail.
	now := s.now()
	applied := &store.AppliedDetail{}
	switch m.Op {
	case store.DetailInsert:
		line := m.Line
		line.Version = 1
		line.CreatedAt = now
		line.UpdatedAt = now
		lines[detailKey] = line
		applied.Line = line
	case store.DetailUpdate:
		line := m.Line
		line.Version = existing.Version + 1
		line.CreatedAt = existing.CreatedAt
		line.UpdatedAt = now
		lines[detailKey] = line
		applied.Line = line
	case store.DetailDelete:
		delete(lines, detailKey)
	}

	if m.Ledger.Delta != 0 {
		row.Quantity += m.Ledger.Delta
		row.Version++
		row.UpdatedAt = now
		s.inventory[invKey] = row
	}
	applied.Inventory = row
	return applied, nil
}

func (s *BranchStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *BranchStore) Close() error {
	return nil
}

func matchHeader(filter domain.HeaderFilter, warehouseID string, employeeID string) bool {
	if filter.WarehouseID != "" && filter.WarehouseID != warehouseID {
		return false
	}
	if filter.EmployeeID != "" && filter.EmployeeID != employeeID {
		return false
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
