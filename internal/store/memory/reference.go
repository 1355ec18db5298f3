package memory

import (
	"context"
	"sync"
	"time"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// ReferenceStore is the shared partition: employees, warehouses, materials
// and accounts. Writes are last-writer-wins except inserts, which enforce
// the declared unique keys.
type ReferenceStore struct {
	mu         sync.RWMutex
	employees  map[string]domain.Employee
	warehouses map[string]domain.Warehouse
	materials  map[string]domain.Material
	accounts   map[string]domain.Account
	schema     *schema.Manager
	now        func() time.Time
}

func NewReference() *ReferenceStore {
	return &ReferenceStore{
		employees:  make(map[string]domain.Employee),
		warehouses: make(map[string]domain.Warehouse),
		materials:  make(map[string]domain.Material),
		accounts:   make(map[string]domain.Account),
		schema:     schema.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ store.ReferenceStore = (*ReferenceStore)(nil)

func (s *ReferenceStore) InsertEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	return s.putEmployee(ctx, employee, true)
}

func (s *ReferenceStore) SaveEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	return s.putEmployee(ctx, employee, false)
}

func (s *ReferenceStore) putEmployee(ctx context.Context, employee domain.Employee, insertOnly bool) (*domain.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(employee); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Employees)
	key, err := c.Key(employee.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	employee.CreatedAt, employee.UpdatedAt = now, now
	if current, exists := s.employees[key]; exists {
		if insertOnly {
			return nil, c.Duplicate(key)
		}
		employee.CreatedAt = current.CreatedAt
	}
	s.employees[key] = employee
	return &employee, nil
}

func (s *ReferenceStore) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Employees)
	key, err := c.Key(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	employee, ok := s.employees[key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &employee, nil
}

func (s *ReferenceStore) ListEmployees(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Employee, 0, len(s.employees))
	for _, key := range sortedKeys(s.employees) {
		employee := s.employees[key]
		if filter.Branch != "" && employee.Branch != filter.Branch {
			continue
		}
		out = append(out, employee)
	}
	return out, nil
}

func (s *ReferenceStore) DeleteEmployee(ctx context.Context, id string) error {
	return deleteRow(ctx, &s.mu, s.employees, schema.Employees, id)
}

func (s *ReferenceStore) InsertWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	return s.putWarehouse(ctx, warehouse, true)
}

func (s *ReferenceStore) SaveWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	return s.putWarehouse(ctx, warehouse, false)
}

func (s *ReferenceStore) putWarehouse(ctx context.Context, warehouse domain.Warehouse, insertOnly bool) (*domain.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(warehouse); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Warehouses)
	key, err := c.Key(warehouse.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	warehouse.CreatedAt, warehouse.UpdatedAt = now, now
	if current, exists := s.warehouses[key]; exists {
		if insertOnly {
			return nil, c.Duplicate(key)
		}
		warehouse.CreatedAt = current.CreatedAt
	}
	s.warehouses[key] = warehouse
	return &warehouse, nil
}

func (s *ReferenceStore) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Warehouses)
	key, err := c.Key(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	warehouse, ok := s.warehouses[key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &warehouse, nil
}

func (s *ReferenceStore) ListWarehouses(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, key := range sortedKeys(s.warehouses) {
		warehouse := s.warehouses[key]
		if filter.Branch != "" && warehouse.Branch != filter.Branch {
			continue
		}
		out = append(out, warehouse)
	}
	return out, nil
}

func (s *ReferenceStore) DeleteWarehouse(ctx context.Context, id string) error {
	return deleteRow(ctx, &s.mu, s.warehouses, schema.Warehouses, id)
}

func (s *ReferenceStore) InsertMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	return s.putMaterial(ctx, material, true)
}

func (s *ReferenceStore) SaveMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	return s.putMaterial(ctx, material, false)
}

func (s *ReferenceStore) putMaterial(ctx context.Context, material domain.Material, insertOnly bool) (*domain.Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(material); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Materials)
	key, err := c.Key(material.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	material.CreatedAt, material.UpdatedAt = now, now
	if current, exists := s.materials[key]; exists {
		if insertOnly {
			return nil, c.Duplicate(key)
		}
		material.CreatedAt = current.CreatedAt
	}
	s.materials[key] = material
	return &material, nil
}

func (s *ReferenceStore) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Materials)
	key, err := c.Key(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	material, ok := s.materials[key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &material, nil
}

func (s *ReferenceStore) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Material, 0, len(s.materials))
	for _, key := range sortedKeys(s.materials) {
		out = append(out, s.materials[key])
	}
	return out, nil
}

func (s *ReferenceStore) DeleteMaterial(ctx context.Context, id string) error {
	return deleteRow(ctx, &s.mu, s.materials, schema.Materials, id)
}

func (s *ReferenceStore) CreateAccount(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.schema.Validate(account); err != nil {
		return err
	}
	c := schema.MustLookup(schema.Accounts)
	key, err := c.Key(account.Username)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[key]; exists {
		return c.Duplicate(key)
	}
	account.CreatedAt = s.now()
	s.accounts[key] = account
	return nil
}

func (s *ReferenceStore) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Accounts)
	key, err := c.Key(username)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[key]
	if !ok {
		return nil, c.NotFound(key)
	}
	return &account, nil
}

func (s *ReferenceStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, key := range sortedKeys(s.accounts) {
		out = append(out, s.accounts[key])
	}
	return out, nil
}

func (s *ReferenceStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *ReferenceStore) Close() error {
	return nil
}

func deleteRow[V any](ctx context.Context, mu *sync.RWMutex, rows map[string]V, collection schema.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := schema.MustLookup(collection)
	key, err := c.Key(id)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := rows[key]; !ok {
		return c.NotFound(key)
	}
	delete(rows, key)
	return nil
}
