package service

import (
	"context"
	"time"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

func (s *Service) GetDetail(ctx context.Context, branch string, kind domain.DetailKind, key domain.DetailKey) (domain.DetailLine, error) {
	if !kind.Valid() {
		return domain.DetailLine{}, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	st, _, err := s.branchStore(branch, kind.EntityKind())
	if err != nil {
		return domain.DetailLine{}, err
	}
	line, err := st.GetDetail(ctx, kind, normalizeKey(key))
	if err != nil {
		return domain.DetailLine{}, err
	}
	return *line, nil
}

// ListDetails lists the lines of one header, or every line of kind when
// parentID is empty.
func (s *Service) ListDetails(ctx context.Context, branch string, kind domain.DetailKind, parentID string) ([]domain.DetailLine, error) {
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	st, _, err := s.branchStore(branch, kind.EntityKind())
	if err != nil {
		return nil, err
	}
	return st.ListDetails(ctx, kind, domain.NormalizeID(parentID))
}

func (s *Service) GetQuantity(ctx context.Context, branch string, warehouseID string, materialID string) (int64, error) {
	return s.ledger.GetQuantity(ctx, branch, domain.NormalizeID(warehouseID), domain.NormalizeID(materialID))
}

func (s *Service) ListInventory(ctx context.Context, branch string, filter domain.InventoryFilter) ([]domain.InventoryRow, error) {
	st, _, err := s.branchStore(branch, domain.KindInventory)
	if err != nil {
		return nil, err
	}
	filter.WarehouseID = domain.NormalizeID(filter.WarehouseID)
	filter.MaterialID = domain.NormalizeID(filter.MaterialID)
	return st.ListInventory(ctx, filter)
}

// ReceiveStock books an opening balance straight onto the ledger. It is the
// only ledger write that does not go through a detail line.
func (s *Service) ReceiveStock(ctx context.Context, branch string, warehouseID string, materialID string, qty int64) (_ domain.InventoryRow, err error) {
	warehouseID = domain.NormalizeID(warehouseID)
	materialID = domain.NormalizeID(materialID)
	op := s.begin(ctx, "receive_stock", branch)
	defer func() {
		s.finish(op, err, detailFields(domain.DetailKey{MaterialID: materialID}, &warehouseID))
	}()

	if qty <= 0 {
		return domain.InventoryRow{}, store.NewInvalidRecord("received quantity must be positive, got %d", qty)
	}
	_, code, err := s.branchStore(branch, domain.KindInventory)
	if err != nil {
		return domain.InventoryRow{}, err
	}
	wh, err := s.warehouse(ctx, warehouseID)
	if err != nil {
		return domain.InventoryRow{}, err
	}
	if wh.Branch != code {
		return domain.InventoryRow{}, store.NewInvalidRecord("warehouse %s belongs to branch %s, not %s", wh.ID, wh.Branch, code)
	}
	if _, err := s.material(ctx, materialID); err != nil {
		return domain.InventoryRow{}, err
	}
	return s.ledger.Adjust(ctx, code, warehouseID, materialID, qty)
}

// Snapshot copies one branch partition for reporting. Collections are read
// one after another, so the copy is not a single point-in-time view.
func (s *Service) Snapshot(ctx context.Context, branch string) (domain.BranchSnapshot, error) {
	st, code, err := s.branchStore(branch, domain.KindInventory)
	if err != nil {
		return domain.BranchSnapshot{}, err
	}

	snap := domain.BranchSnapshot{Branch: code, TakenAt: time.Now().UTC()}
	if snap.Orders, err = st.ListOrders(ctx, domain.HeaderFilter{}); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.InboundReceipts, err = st.ListReceipts(ctx, domain.ReceiptInbound, domain.HeaderFilter{}); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.OutboundReceipts, err = st.ListReceipts(ctx, domain.ReceiptOutbound, domain.HeaderFilter{}); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.OrderDetails, err = st.ListDetails(ctx, domain.DetailOrder, ""); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.InboundDetails, err = st.ListDetails(ctx, domain.DetailInbound, ""); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.OutboundDetails, err = st.ListDetails(ctx, domain.DetailOutbound, ""); err != nil {
		return domain.BranchSnapshot{}, err
	}
	if snap.Inventory, err = st.ListInventory(ctx, domain.InventoryFilter{}); err != nil {
		return domain.BranchSnapshot{}, err
	}
	return snap, nil
}
