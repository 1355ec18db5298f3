package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCompany Role = "Company"
	RoleBranch  Role = "Branch"
	RoleUser    Role = "User"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCompany, RoleBranch, RoleUser:
		return true
	}
	return false
}

// BranchScoped reports whether principals of this role act on a single branch.
func (r Role) BranchScoped() bool {
	return r == RoleBranch || r == RoleUser
}

// Principal is the resolved identity claim handed to the core by the identity provider.
type Principal struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Branch   string `json:"branch,omitempty"`
}

type EntityKind string

const (
	KindEmployee        EntityKind = "employee"
	KindWarehouse       EntityKind = "warehouse"
	KindMaterial        EntityKind = "material"
	KindAccount         EntityKind = "account"
	KindOrder           EntityKind = "order"
	KindInboundReceipt  EntityKind = "inbound_receipt"
	KindOutboundReceipt EntityKind = "outbound_receipt"
	KindOrderDetail     EntityKind = "order_detail"
	KindInboundDetail   EntityKind = "inbound_detail"
	KindOutboundDetail  EntityKind = "outbound_detail"
	KindInventory       EntityKind = "inventory"
)

// IsReference reports whether the kind lives in the shared reference partition.
func (k EntityKind) IsReference() bool {
	switch k {
	case KindEmployee, KindWarehouse, KindMaterial, KindAccount:
		return true
	}
	return false
}

func (k EntityKind) IsTransactional() bool {
	switch k {
	case KindOrder, KindInboundReceipt, KindOutboundReceipt,
		KindOrderDetail, KindInboundDetail, KindOutboundDetail, KindInventory:
		return true
	}
	return false
}

type Employee struct {
	ID        string          `json:"id" validate:"required,max=32"`
	LastName  string          `json:"last_name" validate:"required,max=64"`
	FirstName string          `json:"first_name" validate:"required,max=64"`
	Address   string          `json:"address" validate:"max=255"`
	BirthDate time.Time       `json:"birth_date"`
	Salary    decimal.Decimal `json:"salary"`
	Branch    string          `json:"branch" validate:"required,max=16"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Warehouse struct {
	ID        string    `json:"id" validate:"required,max=32"`
	Name      string    `json:"name" validate:"required,max=128"`
	Address   string    `json:"address" validate:"max=255"`
	Branch    string    `json:"branch" validate:"required,max=16"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Material struct {
	ID        string    `json:"id" validate:"required,max=32"`
	Name      string    `json:"name" validate:"required,max=128"`
	Unit      string    `json:"unit" validate:"required,max=32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Account struct {
	Username     string    `json:"username" validate:"required,max=64"`
	PasswordHash string    `json:"-" validate:"required"`
	Role         Role      `json:"role" validate:"required,oneof=Company Branch User"`
	Branch       string    `json:"branch,omitempty" validate:"max=16"`
	CreatedAt    time.Time `json:"created_at"`
}

type OrderHeader struct {
	OrderID     string    `json:"order_id" validate:"required,max=32"`
	Date        time.Time `json:"date" validate:"required"`
	Supplier    string    `json:"supplier" validate:"required,max=128"`
	EmployeeID  string    `json:"employee_id" validate:"required"`
	WarehouseID string    `json:"warehouse_id" validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReceiptType string

const (
	ReceiptInbound  ReceiptType = "inbound"
	ReceiptOutbound ReceiptType = "outbound"
)

func (t ReceiptType) Valid() bool {
	return t == ReceiptInbound || t == ReceiptOutbound
}

func (t ReceiptType) Kind() EntityKind {
	if t == ReceiptInbound {
		return KindInboundReceipt
	}
	return KindOutboundReceipt
}

// ReceiptHeader covers both receipt types. Counterpart holds the order id
// for inbound receipts and the customer name for outbound receipts.
type ReceiptHeader struct {
	Type        ReceiptType `json:"type" validate:"required,oneof=inbound outbound"`
	ReceiptID   string      `json:"receipt_id" validate:"required,max=32"`
	Date        time.Time   `json:"date" validate:"required"`
	Counterpart string      `json:"counterpart" validate:"required,max=128"`
	EmployeeID  string      `json:"employee_id" validate:"required"`
	WarehouseID string      `json:"warehouse_id" validate:"required"`
	CreatedAt   time.Time   `json:"created_at"`
}

type DetailKind string

const (
	DetailOrder    DetailKind = "order"
	DetailInbound  DetailKind = "inbound"
	DetailOutbound DetailKind = "outbound"
)

func (k DetailKind) Valid() bool {
	switch k {
	case DetailOrder, DetailInbound, DetailOutbound:
		return true
	}
	return false
}

// ConsumesStock reports whether creating a line of this kind takes stock out of the ledger.
func (k DetailKind) ConsumesStock() bool {
	return k == DetailOrder || k == DetailOutbound
}

func (k DetailKind) EntityKind() EntityKind {
	switch k {
	case DetailOrder:
		return KindOrderDetail
	case DetailInbound:
		return KindInboundDetail
	default:
		return KindOutboundDetail
	}
}

// ParentKind is the header kind that owns lines of this kind.
func (k DetailKind) ParentKind() EntityKind {
	switch k {
	case DetailOrder:
		return KindOrder
	case DetailInbound:
		return KindInboundReceipt
	default:
		return KindOutboundReceipt
	}
}

type DetailLine struct {
	Kind       DetailKind      `json:"kind" validate:"required,oneof=order inbound outbound"`
	ParentID   string          `json:"parent_id" validate:"required,max=32"`
	MaterialID string          `json:"material_id" validate:"required,max=32"`
	Quantity   int64           `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (d DetailLine) Key() DetailKey {
	return DetailKey{ParentID: d.ParentID, MaterialID: d.MaterialID}
}

type DetailKey struct {
	ParentID   string `json:"parent_id"`
	MaterialID string `json:"material_id"`
}

// DetailInput is the caller-facing payload for create and edit operations.
type DetailInput struct {
	ParentID   string          `json:"parent_id"`
	MaterialID string          `json:"material_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func (in DetailInput) Key() DetailKey {
	return DetailKey{ParentID: in.ParentID, MaterialID: in.MaterialID}
}

type InventoryRow struct {
	WarehouseID string    `json:"warehouse_id" validate:"required"`
	MaterialID  string    `json:"material_id" validate:"required"`
	Quantity    int64     `json:"quantity"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ReferenceFilter struct {
	Branch string
}

type HeaderFilter struct {
	WarehouseID string
	EmployeeID  string
}

type InventoryFilter struct {
	WarehouseID string
	MaterialID  string
}

// BranchSnapshot is a read-only copy of one branch partition handed to reporting.
type BranchSnapshot struct {
	Branch           string          `json:"branch"`
	TakenAt          time.Time       `json:"taken_at"`
	Orders           []OrderHeader   `json:"orders"`
	InboundReceipts  []ReceiptHeader `json:"inbound_receipts"`
	OutboundReceipts []ReceiptHeader `json:"outbound_receipts"`
	OrderDetails     []DetailLine    `json:"order_details"`
	InboundDetails   []DetailLine    `json:"inbound_details"`
	OutboundDetails  []DetailLine    `json:"outbound_details"`
	Inventory        []InventoryRow  `json:"inventory"`
}

// NormalizeID trims and upper-cases codes (branch, ids) the way users type them.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
