package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

func TestCatalogDeclaresEveryCollection(t *testing.T) {
	want := map[Collection]int{
		Employees: 1, Warehouses: 1, Materials: 1, Accounts: 1,
		Orders: 1, InboundReceipts: 1, OutboundReceipts: 1,
		OrderDetails: 2, InboundDetails: 2, OutboundDetails: 2, Inventory: 2,
	}
	catalog := Catalog()
	if len(catalog) != len(want) {
		t.Fatalf("expected %d constraints, got %d", len(want), len(catalog))
	}
	for _, c := range catalog {
		if len(c.Fields) != want[c.Collection] {
			t.Fatalf("%s: expected %d key fields, got %v", c.Collection, want[c.Collection], c.Fields)
		}
	}
}

func TestKeyRejectsMissingParts(t *testing.T) {
	c := MustLookup(OrderDetails)
	if _, err := c.Key("DH001"); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected short key to be rejected, got %v", err)
	}
	if _, err := c.Key("DH001", ""); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected empty part to be rejected, got %v", err)
	}

	a, _ := c.Key("DH0", "01VT")
	b, _ := c.Key("DH001", "VT")
	if a == b {
		t.Fatalf("compound keys must not collide on concatenation")
	}
	if got := DisplayKey(b); got != "DH001/VT" {
		t.Fatalf("unexpected display key %q", got)
	}
}

func TestDuplicateAndNotFoundErrors(t *testing.T) {
	c, key, err := DetailKey(domain.DetailInbound, domain.DetailKey{ParentID: "P001", MaterialID: "VT01"})
	if err != nil {
		t.Fatalf("detail key: %v", err)
	}
	var dup *store.DuplicateKeyError
	if !errors.As(c.Duplicate(key), &dup) || dup.Collection != "inbound_details" || dup.Key != "P001/VT01" {
		t.Fatalf("unexpected duplicate error %v", c.Duplicate(key))
	}
	if !errors.Is(c.NotFound(key), store.ErrNotFound) {
		t.Fatalf("expected not found sentinel")
	}
}

func TestValidate(t *testing.T) {
	m := NewManager()
	valid := domain.DetailLine{
		Kind:       domain.DetailOrder,
		ParentID:   "DH001",
		MaterialID: "VT01",
		Quantity:   3,
		UnitPrice:  decimal.NewFromInt(10),
	}
	if err := m.Validate(valid); err != nil {
		t.Fatalf("expected valid line, got %v", err)
	}

	tests := []struct {
		name   string
		record any
		field  string
	}{
		{"zero quantity", func() domain.DetailLine { l := valid; l.Quantity = 0; return l }(), "Quantity"},
		{"negative price", func() domain.DetailLine { l := valid; l.UnitPrice = decimal.NewFromInt(-1); return l }(), "UnitPrice"},
		{"unknown kind", func() domain.DetailLine { l := valid; l.Kind = "transfer"; return l }(), "Kind"},
		{"order without date", domain.OrderHeader{OrderID: "DH1", Supplier: "S", EmployeeID: "NV", WarehouseID: "K"}, "Date"},
		{"account role", domain.Account{Username: "u", PasswordHash: "h", Role: "Root"}, "Role"},
		{"receipt type", domain.ReceiptHeader{Type: "transfer", ReceiptID: "P1", Date: time.Now(), Counterpart: "x", EmployeeID: "NV", WarehouseID: "K"}, "Type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Validate(tc.record)
			if !errors.Is(err, store.ErrInvalidRecord) {
				t.Fatalf("expected invalid record, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected %s in %q", tc.field, err.Error())
			}
		})
	}
}
