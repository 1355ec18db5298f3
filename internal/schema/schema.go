// Package schema declares the uniqueness constraints of every collection and
// validates records before they reach a store.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

type Collection string

const (
	Employees        Collection = "employees"
	Warehouses       Collection = "warehouses"
	Materials        Collection = "materials"
	Accounts         Collection = "accounts"
	Orders           Collection = "orders"
	InboundReceipts  Collection = "inbound_receipts"
	OutboundReceipts Collection = "outbound_receipts"
	OrderDetails     Collection = "order_details"
	InboundDetails   Collection = "inbound_details"
	OutboundDetails  Collection = "outbound_details"
	Inventory        Collection = "inventory"
)

// keySeparator never appears in normalised identifiers.
const keySeparator = "\x1f"

// Constraint is the unique key declared for one collection.
type Constraint struct {
	Collection Collection
	Kind       domain.EntityKind
	Fields     []string
}

var catalog = []Constraint{
	{Collection: Employees, Kind: domain.KindEmployee, Fields: []string{"id"}},
	{Collection: Warehouses, Kind: domain.KindWarehouse, Fields: []string{"id"}},
	{Collection: Materials, Kind: domain.KindMaterial, Fields: []string{"id"}},
	{Collection: Accounts, Kind: domain.KindAccount, Fields: []string{"username"}},
	{Collection: Orders, Kind: domain.KindOrder, Fields: []string{"order_id"}},
	{Collection: InboundReceipts, Kind: domain.KindInboundReceipt, Fields: []string{"receipt_id"}},
	{Collection: OutboundReceipts, Kind: domain.KindOutboundReceipt, Fields: []string{"receipt_id"}},
	{Collection: OrderDetails, Kind: domain.KindOrderDetail, Fields: []string{"parent_id", "material_id"}},
	{Collection: InboundDetails, Kind: domain.KindInboundDetail, Fields: []string{"parent_id", "material_id"}},
	{Collection: OutboundDetails, Kind: domain.KindOutboundDetail, Fields: []string{"parent_id", "material_id"}},
	{Collection: Inventory, Kind: domain.KindInventory, Fields: []string{"warehouse_id", "material_id"}},
}

var byCollection = func() map[Collection]Constraint {
	m := make(map[Collection]Constraint, len(catalog))
	for _, c := range catalog {
		m[c.Collection] = c
	}
	return m
}()

// Catalog returns a copy of every declared constraint.
func Catalog() []Constraint {
	out := make([]Constraint, len(catalog))
	copy(out, catalog)
	return out
}

func Lookup(collection Collection) (Constraint, bool) {
	c, ok := byCollection[collection]
	return c, ok
}

func MustLookup(collection Collection) Constraint {
	c, ok := byCollection[collection]
	if !ok {
		panic(fmt.Sprintf("schema: undeclared collection %q", collection))
	}
	return c
}

// Key builds the unique key from values given in Fields order.
func (c Constraint) Key(values ...string) (string, error) {
	if len(values) != len(c.Fields) {
		return "", store.NewInvalidRecord("%s key needs %d parts, got %d", c.Collection, len(c.Fields), len(values))
	}
	for i, v := range values {
		if v == "" {
			return "", store.NewInvalidRecord("%s key part %s is empty", c.Collection, c.Fields[i])
		}
	}
	return strings.Join(values, keySeparator), nil
}

// Prefix is shared by every key whose leading fields equal values.
func (c Constraint) Prefix(values ...string) string {
	return strings.Join(values, keySeparator) + keySeparator
}

// DisplayKey renders a key for error messages.
func DisplayKey(key string) string {
	return strings.ReplaceAll(key, keySeparator, "/")
}

func (c Constraint) Duplicate(key string) error {
	return store.NewDuplicateKey(string(c.Collection), DisplayKey(key))
}

func (c Constraint) NotFound(key string) error {
	return store.NewNotFound(string(c.Collection), DisplayKey(key))
}

func DetailCollection(kind domain.DetailKind) Collection {
	switch kind {
	case domain.DetailOrder:
		return OrderDetails
	case domain.DetailInbound:
		return InboundDetails
	default:
		return OutboundDetails
	}
}

func ReceiptCollection(typ domain.ReceiptType) Collection {
	if typ == domain.ReceiptInbound {
		return InboundReceipts
	}
	return OutboundReceipts
}

func DetailKey(kind domain.DetailKind, key domain.DetailKey) (Constraint, string, error) {
	c := MustLookup(DetailCollection(kind))
	k, err := c.Key(key.ParentID, key.MaterialID)
	return c, k, err
}

func InventoryKey(warehouseID string, materialID string) (string, error) {
	return MustLookup(Inventory).Key(warehouseID, materialID)
}

// Manager validates records against their struct tags and the rules the tags
// cannot express (non-negative money fields).
type Manager struct {
	validate *validator.Validate
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

func NewManager() *Manager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		line := sl.Current().Interface().(domain.DetailLine)
		if line.UnitPrice.IsNegative() {
			sl.ReportError(line.UnitPrice, "UnitPrice", "UnitPrice", "gte", "0")
		}
	}, domain.DetailLine{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		emp := sl.Current().Interface().(domain.Employee)
		if emp.Salary.IsNegative() {
			sl.ReportError(emp.Salary, "Salary", "Salary", "gte", "0")
		}
	}, domain.Employee{})
	return &Manager{validate: v}
}

// Default is the process-wide manager used by the store backends.
func Default() *Manager {
	defaultOnce.Do(func() { defaultManager = NewManager() })
	return defaultManager
}

// Validate returns an error wrapping store.ErrInvalidRecord when record
// breaks a declared rule.
func (m *Manager) Validate(record any) error {
	err := m.validate.Struct(record)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return store.NewInvalidRecord("%T: %s", record, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
}
