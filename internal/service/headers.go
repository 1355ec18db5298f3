package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// CreateOrder inserts an order header. Headers carry no ledger effect.
func (s *Service) CreateOrder(ctx context.Context, branch string, order domain.OrderHeader) (_ domain.OrderHeader, err error) {
	order.OrderID = domain.NormalizeID(order.OrderID)
	order.EmployeeID = domain.NormalizeID(order.EmployeeID)
	order.WarehouseID = domain.NormalizeID(order.WarehouseID)
	order.Supplier = strings.TrimSpace(order.Supplier)

	op := s.begin(ctx, "create_order", branch)
	defer func() { s.finish(op, err, headerFields(order.OrderID, order.WarehouseID)) }()

	st, code, err := s.branchStore(branch, domain.KindOrder)
	if err != nil {
		return domain.OrderHeader{}, err
	}
	if err := s.schema.Validate(order); err != nil {
		return domain.OrderHeader{}, err
	}
	if err := s.checkStaff(ctx, code, order.EmployeeID, order.WarehouseID); err != nil {
		return domain.OrderHeader{}, err
	}

	_, err = st.GetOrder(ctx, order.OrderID)
	switch {
	case err == nil:
		return domain.OrderHeader{}, schema.MustLookup(schema.Orders).Duplicate(order.OrderID)
	case !errors.Is(err, store.ErrNotFound):
		return domain.OrderHeader{}, err
	}

	created, err := st.InsertOrder(ctx, order)
	if err != nil {
		return domain.OrderHeader{}, err
	}
	return *created, nil
}

// CreateInboundReceipt records goods received against an existing order of
// the same branch. Counterpart is the order id.
func (s *Service) CreateInboundReceipt(ctx context.Context, branch string, receipt domain.ReceiptHeader) (domain.ReceiptHeader, error) {
	receipt.Type = domain.ReceiptInbound
	receipt.Counterpart = domain.NormalizeID(receipt.Counterpart)
	return s.createReceipt(ctx, "create_inbound_receipt", branch, receipt)
}

// CreateOutboundReceipt records goods issued to a customer named by Counterpart.
func (s *Service) CreateOutboundReceipt(ctx context.Context, branch string, receipt domain.ReceiptHeader) (domain.ReceiptHeader, error) {
	receipt.Type = domain.ReceiptOutbound
	receipt.Counterpart = strings.TrimSpace(receipt.Counterpart)
	return s.createReceipt(ctx, "create_outbound_receipt", branch, receipt)
}

func (s *Service) createReceipt(ctx context.Context, name string, branch string, receipt domain.ReceiptHeader) (_ domain.ReceiptHeader, err error) {
	receipt.ReceiptID = domain.NormalizeID(receipt.ReceiptID)
	receipt.EmployeeID = domain.NormalizeID(receipt.EmployeeID)
	receipt.WarehouseID = domain.NormalizeID(receipt.WarehouseID)

	op := s.begin(ctx, name, branch)
	defer func() { s.finish(op, err, headerFields(receipt.ReceiptID, receipt.WarehouseID)) }()

	st, code, err := s.branchStore(branch, receipt.Type.Kind())
	if err != nil {
		return domain.ReceiptHeader{}, err
	}
	if err := s.schema.Validate(receipt); err != nil {
		return domain.ReceiptHeader{}, err
	}
	if err := s.checkStaff(ctx, code, receipt.EmployeeID, receipt.WarehouseID); err != nil {
		return domain.ReceiptHeader{}, err
	}
	if receipt.Type == domain.ReceiptInbound {
		if _, err := st.GetOrder(ctx, receipt.Counterpart); err != nil {
			return domain.ReceiptHeader{}, err
		}
	}

	_, err = st.GetReceipt(ctx, receipt.Type, receipt.ReceiptID)
	switch {
	case err == nil:
		return domain.ReceiptHeader{}, schema.MustLookup(schema.ReceiptCollection(receipt.Type)).Duplicate(receipt.ReceiptID)
	case !errors.Is(err, store.ErrNotFound):
		return domain.ReceiptHeader{}, err
	}

	created, err := st.InsertReceipt(ctx, receipt)
	if err != nil {
		return domain.ReceiptHeader{}, err
	}
	return *created, nil
}

// checkStaff requires the employee and the warehouse to exist in the shared
// partition and to belong to branch.
func (s *Service) checkStaff(ctx context.Context, branch string, employeeID string, warehouseID string) error {
	emp, err := s.employee(ctx, employeeID)
	if err != nil {
		return err
	}
	if emp.Branch != branch {
		return store.NewInvalidRecord("employee %s belongs to branch %s, not %s", emp.ID, emp.Branch, branch)
	}
	wh, err := s.warehouse(ctx, warehouseID)
	if err != nil {
		return err
	}
	if wh.Branch != branch {
		return store.NewInvalidRecord("warehouse %s belongs to branch %s, not %s", wh.ID, wh.Branch, branch)
	}
	return nil
}

func headerFields(id string, warehouseID string) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		e.Str("header_id", id).Str("warehouse_id", warehouseID)
	}
}

func (s *Service) GetOrder(ctx context.Context, branch string, orderID string) (domain.OrderHeader, error) {
	st, _, err := s.branchStore(branch, domain.KindOrder)
	if err != nil {
		return domain.OrderHeader{}, err
	}
	order, err := st.GetOrder(ctx, domain.NormalizeID(orderID))
	if err != nil {
		return domain.OrderHeader{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, branch string, filter domain.HeaderFilter) ([]domain.OrderHeader, error) {
	st, _, err := s.branchStore(branch, domain.KindOrder)
	if err != nil {
		return nil, err
	}
	return st.ListOrders(ctx, normalizeHeaderFilter(filter))
}

func (s *Service) GetReceipt(ctx context.Context, branch string, typ domain.ReceiptType, receiptID string) (domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return domain.ReceiptHeader{}, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	st, _, err := s.branchStore(branch, typ.Kind())
	if err != nil {
		return domain.ReceiptHeader{}, err
	}
	receipt, err := st.GetReceipt(ctx, typ, domain.NormalizeID(receiptID))
	if err != nil {
		return domain.ReceiptHeader{}, err
	}
	return *receipt, nil
}

func (s *Service) ListReceipts(ctx context.Context, branch string, typ domain.ReceiptType, filter domain.HeaderFilter) ([]domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	st, _, err := s.branchStore(branch, typ.Kind())
	if err != nil {
		return nil, err
	}
	return st.ListReceipts(ctx, typ, normalizeHeaderFilter(filter))
}

func normalizeHeaderFilter(filter domain.HeaderFilter) domain.HeaderFilter {
	filter.WarehouseID = domain.NormalizeID(filter.WarehouseID)
	filter.EmployeeID = domain.NormalizeID(filter.EmployeeID)
	return filter
}
