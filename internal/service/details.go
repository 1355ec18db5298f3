package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/ledger"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// DetailResult is a committed detail unit. Line is the removed line for deletes.
type DetailResult struct {
	Line      domain.DetailLine   `json:"line"`
	Inventory domain.InventoryRow `json:"inventory"`
}

func (s *Service) CreateOrderDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.createDetail(ctx, "create_order_detail", domain.DetailOrder, branch, in)
}

func (s *Service) EditOrderDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.editDetail(ctx, "edit_order_detail", domain.DetailOrder, branch, in)
}

func (s *Service) DeleteOrderDetail(ctx context.Context, branch string, key domain.DetailKey) (DetailResult, error) {
	return s.deleteDetail(ctx, "delete_order_detail", domain.DetailOrder, branch, key)
}

func (s *Service) CreateInboundDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.createDetail(ctx, "create_inbound_detail", domain.DetailInbound, branch, in)
}

func (s *Service) EditInboundDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.editDetail(ctx, "edit_inbound_detail", domain.DetailInbound, branch, in)
}

func (s *Service) DeleteInboundDetail(ctx context.Context, branch string, key domain.DetailKey) (DetailResult, error) {
	return s.deleteDetail(ctx, "delete_inbound_detail", domain.DetailInbound, branch, key)
}

func (s *Service) CreateOutboundDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.createDetail(ctx, "create_outbound_detail", domain.DetailOutbound, branch, in)
}

func (s *Service) EditOutboundDetail(ctx context.Context, branch string, in domain.DetailInput) (DetailResult, error) {
	return s.editDetail(ctx, "edit_outbound_detail", domain.DetailOutbound, branch, in)
}

func (s *Service) DeleteOutboundDetail(ctx context.Context, branch string, key domain.DetailKey) (DetailResult, error) {
	return s.deleteDetail(ctx, "delete_outbound_detail", domain.DetailOutbound, branch, key)
}

func normalizeInput(in domain.DetailInput) domain.DetailInput {
	in.ParentID = domain.NormalizeID(in.ParentID)
	in.MaterialID = domain.NormalizeID(in.MaterialID)
	return in
}

func normalizeKey(key domain.DetailKey) domain.DetailKey {
	key.ParentID = domain.NormalizeID(key.ParentID)
	key.MaterialID = domain.NormalizeID(key.MaterialID)
	return key
}

func detailFields(key domain.DetailKey, warehouseID *string) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		e.Str("parent_id", key.ParentID).Str("material_id", key.MaterialID)
		if *warehouseID != "" {
			e.Str("warehouse_id", *warehouseID)
		}
	}
}

// parentWarehouse returns the warehouse of the header owning lines of kind.
// The ledger is always keyed by it, never by anything on the line.
func parentWarehouse(ctx context.Context, st store.BranchStore, kind domain.DetailKind, parentID string) (string, error) {
	switch kind {
	case domain.DetailOrder:
		order, err := st.GetOrder(ctx, parentID)
		if err != nil {
			return "", err
		}
		return order.WarehouseID, nil
	case domain.DetailInbound:
		receipt, err := st.GetReceipt(ctx, domain.ReceiptInbound, parentID)
		if err != nil {
			return "", err
		}
		return receipt.WarehouseID, nil
	case domain.DetailOutbound:
		receipt, err := st.GetReceipt(ctx, domain.ReceiptOutbound, parentID)
		if err != nil {
			return "", err
		}
		return receipt.WarehouseID, nil
	}
	return "", store.NewInvalidRecord("unknown detail kind %q", kind)
}

func (s *Service) createDetail(ctx context.Context, name string, kind domain.DetailKind, branch string, in domain.DetailInput) (result DetailResult, err error) {
	in = normalizeInput(in)
	var warehouseID string
	op := s.begin(ctx, name, branch)
	defer func() { s.finish(op, err, detailFields(in.Key(), &warehouseID)) }()

	line := domain.DetailLine{
		Kind:       kind,
		ParentID:   in.ParentID,
		MaterialID: in.MaterialID,
		Quantity:   in.Quantity,
		UnitPrice:  in.UnitPrice,
	}
	if err := s.schema.Validate(line); err != nil {
		return DetailResult{}, err
	}

	st, _, err := s.branchStore(branch, kind.EntityKind())
	if err != nil {
		return DetailResult{}, err
	}
	warehouseID, err = parentWarehouse(ctx, st, kind, in.ParentID)
	if err != nil {
		return DetailResult{}, err
	}
	if _, err := s.material(ctx, in.MaterialID); err != nil {
		return DetailResult{}, err
	}

	// A lost race on the ledger row is replayed; the duplicate and
	// sufficiency checks run again on every attempt.
	err = s.retry.Do(ctx, name, func(ctx context.Context) error {
		_, err := st.GetDetail(ctx, kind, in.Key())
		switch {
		case err == nil:
			c, k, _ := schema.DetailKey(kind, in.Key())
			return c.Duplicate(k)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		change := ledger.ForInsert(kind, warehouseID, in.MaterialID, in.Quantity)
		if change.Guarded {
			if err := s.precheck(ctx, branch, change); err != nil {
				return err
			}
		}

		applied, err := st.ApplyDetail(ctx, store.DetailMutation{
			Op:     store.DetailInsert,
			Line:   line,
			Ledger: change,
		})
		if err != nil {
			return err
		}
		result = DetailResult{Line: applied.Line, Inventory: applied.Inventory}
		return nil
	})
	if err != nil {
		return DetailResult{}, err
	}
	return result, nil
}

// precheck fails fast on a guarded change the current ledger cannot cover.
// The store re-checks the same condition at write time.
func (s *Service) precheck(ctx context.Context, branch string, change store.LedgerChange) error {
	available, err := s.ledger.GetQuantity(ctx, branch, change.WarehouseID, change.MaterialID)
	if err != nil {
		return err
	}
	if change.Required() > available {
		return &store.InsufficientStockError{
			WarehouseID: change.WarehouseID,
			MaterialID:  change.MaterialID,
			Requested:   change.Required(),
			Available:   available,
		}
	}
	return nil
}

func (s *Service) editDetail(ctx context.Context, name string, kind domain.DetailKind, branch string, in domain.DetailInput) (result DetailResult, err error) {
	in = normalizeInput(in)
	var warehouseID string
	op := s.begin(ctx, name, branch)
	defer func() { s.finish(op, err, detailFields(in.Key(), &warehouseID)) }()

	st, _, err := s.branchStore(branch, kind.EntityKind())
	if err != nil {
		return DetailResult{}, err
	}
	if _, _, err := schema.DetailKey(kind, in.Key()); err != nil {
		return DetailResult{}, err
	}

	err = s.retry.Do(ctx, name, func(ctx context.Context) error {
		existing, err := st.GetDetail(ctx, kind, in.Key())
		if err != nil {
			return err
		}
		if warehouseID == "" {
			if warehouseID, err = parentWarehouse(ctx, st, kind, in.ParentID); err != nil {
				return err
			}
		}

		updated := *existing
		updated.Quantity = in.Quantity
		updated.UnitPrice = in.UnitPrice
		if err := s.schema.Validate(updated); err != nil {
			return err
		}

		change := ledger.Change(kind, warehouseID, in.MaterialID, existing.Quantity, in.Quantity)
		if change.Guarded {
			if err := s.precheck(ctx, branch, change); err != nil {
				return err
			}
		}

		applied, err := st.ApplyDetail(ctx, store.DetailMutation{
			Op:              store.DetailUpdate,
			Line:            updated,
			ExpectedVersion: existing.Version,
			Ledger:          change,
		})
		if err != nil {
			return err
		}
		result = DetailResult{Line: applied.Line, Inventory: applied.Inventory}
		return nil
	})
	if err != nil {
		return DetailResult{}, err
	}
	return result, nil
}

func (s *Service) deleteDetail(ctx context.Context, name string, kind domain.DetailKind, branch string, key domain.DetailKey) (result DetailResult, err error) {
	key = normalizeKey(key)
	var warehouseID string
	op := s.begin(ctx, name, branch)
	defer func() { s.finish(op, err, detailFields(key, &warehouseID)) }()

	st, _, err := s.branchStore(branch, kind.EntityKind())
	if err != nil {
		return DetailResult{}, err
	}
	if _, _, err := schema.DetailKey(kind, key); err != nil {
		return DetailResult{}, err
	}

	err = s.retry.Do(ctx, name, func(ctx context.Context) error {
		existing, err := st.GetDetail(ctx, kind, key)
		if err != nil {
			return err
		}
		if warehouseID == "" {
			if warehouseID, err = parentWarehouse(ctx, st, kind, key.ParentID); err != nil {
				return err
			}
		}

		applied, err := st.ApplyDetail(ctx, store.DetailMutation{
			Op:              store.DetailDelete,
			Line:            *existing,
			ExpectedVersion: existing.Version,
			Ledger:          ledger.ForDelete(kind, warehouseID, key.MaterialID, existing.Quantity),
		})
		if err != nil {
			return err
		}
		result = DetailResult{Line: *existing, Inventory: applied.Inventory}
		return nil
	})
	if err != nil {
		return DetailResult{}, err
	}
	return result, nil
}
