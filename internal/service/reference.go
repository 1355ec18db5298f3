package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/identity"
	"branchstock/backend/internal/store"
)

func referenceFields(id string) func(e *zerolog.Event) {
	return func(e *zerolog.Event) { e.Str("id", id) }
}

// requireBranch rejects reference records bound to a branch no partition serves.
func (s *Service) requireBranch(branch string, kind domain.EntityKind) error {
	if !s.router.Known(branch) {
		return &store.InvalidPartitionError{Branch: branch, Kind: kind}
	}
	return nil
}

func normalizeEmployee(employee domain.Employee) domain.Employee {
	employee.ID = domain.NormalizeID(employee.ID)
	employee.Branch = domain.NormalizeID(employee.Branch)
	employee.LastName = strings.TrimSpace(employee.LastName)
	employee.FirstName = strings.TrimSpace(employee.FirstName)
	employee.Address = strings.TrimSpace(employee.Address)
	return employee
}

// CreateEmployee inserts a new employee; an existing id is a DuplicateKeyError.
func (s *Service) CreateEmployee(ctx context.Context, employee domain.Employee) (domain.Employee, error) {
	return s.putEmployee(ctx, "create_employee", employee, true)
}

// SaveEmployee upserts; the last writer wins.
func (s *Service) SaveEmployee(ctx context.Context, employee domain.Employee) (domain.Employee, error) {
	return s.putEmployee(ctx, "save_employee", employee, false)
}

func (s *Service) putEmployee(ctx context.Context, name string, employee domain.Employee, insertOnly bool) (_ domain.Employee, err error) {
	employee = normalizeEmployee(employee)
	op := s.begin(ctx, name, employee.Branch)
	defer func() { s.finish(op, err, referenceFields(employee.ID)) }()

	if err := s.requireBranch(employee.Branch, domain.KindEmployee); err != nil {
		return domain.Employee{}, err
	}
	shared := s.router.Shared()
	var saved *domain.Employee
	if insertOnly {
		saved, err = shared.InsertEmployee(ctx, employee)
	} else {
		saved, err = shared.SaveEmployee(ctx, employee)
	}
	if err != nil {
		return domain.Employee{}, err
	}
	s.invalidate(ctx, domain.KindEmployee, saved.ID)
	return *saved, nil
}

func (s *Service) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	employee, err := s.employee(ctx, domain.NormalizeID(id))
	if err != nil {
		return domain.Employee{}, err
	}
	return *employee, nil
}

func (s *Service) ListEmployees(ctx context.Context, branch string) ([]domain.Employee, error) {
	return s.router.Shared().ListEmployees(ctx, domain.ReferenceFilter{Branch: domain.NormalizeID(branch)})
}

func (s *Service) DeleteEmployee(ctx context.Context, id string) (err error) {
	id = domain.NormalizeID(id)
	op := s.begin(ctx, "delete_employee", "")
	defer func() { s.finish(op, err, referenceFields(id)) }()

	if err := s.router.Shared().DeleteEmployee(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, domain.KindEmployee, id)
	return nil
}

func normalizeWarehouse(warehouse domain.Warehouse) domain.Warehouse {
	warehouse.ID = domain.NormalizeID(warehouse.ID)
	warehouse.Branch = domain.NormalizeID(warehouse.Branch)
	warehouse.Name = strings.TrimSpace(warehouse.Name)
	warehouse.Address = strings.TrimSpace(warehouse.Address)
	return warehouse
}

func (s *Service) CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (domain.Warehouse, error) {
	return s.putWarehouse(ctx, "create_warehouse", warehouse, true)
}

func (s *Service) SaveWarehouse(ctx context.Context, warehouse domain.Warehouse) (domain.Warehouse, error) {
	return s.putWarehouse(ctx, "save_warehouse", warehouse, false)
}

func (s *Service) putWarehouse(ctx context.Context, name string, warehouse domain.Warehouse, insertOnly bool) (_ domain.Warehouse, err error) {
	warehouse = normalizeWarehouse(warehouse)
	op := s.begin(ctx, name, warehouse.Branch)
	defer func() { s.finish(op, err, referenceFields(warehouse.ID)) }()

	if err := s.requireBranch(warehouse.Branch, domain.KindWarehouse); err != nil {
		return domain.Warehouse{}, err
	}
	shared := s.router.Shared()
	var saved *domain.Warehouse
	if insertOnly {
		saved, err = shared.InsertWarehouse(ctx, warehouse)
	} else {
		saved, err = shared.SaveWarehouse(ctx, warehouse)
	}
	if err != nil {
		return domain.Warehouse{}, err
	}
	s.invalidate(ctx, domain.KindWarehouse, saved.ID)
	return *saved, nil
}

func (s *Service) GetWarehouse(ctx context.Context, id string) (domain.Warehouse, error) {
	warehouse, err := s.warehouse(ctx, domain.NormalizeID(id))
	if err != nil {
		return domain.Warehouse{}, err
	}
	return *warehouse, nil
}

func (s *Service) ListWarehouses(ctx context.Context, branch string) ([]domain.Warehouse, error) {
	return s.router.Shared().ListWarehouses(ctx, domain.ReferenceFilter{Branch: domain.NormalizeID(branch)})
}

func (s *Service) DeleteWarehouse(ctx context.Context, id string) (err error) {
	id = domain.NormalizeID(id)
	op := s.begin(ctx, "delete_warehouse", "")
	defer func() { s.finish(op, err, referenceFields(id)) }()

	if err := s.router.Shared().DeleteWarehouse(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, domain.KindWarehouse, id)
	return nil
}

func normalizeMaterial(material domain.Material) domain.Material {
	material.ID = domain.NormalizeID(material.ID)
	material.Name = strings.TrimSpace(material.Name)
	material.Unit = strings.TrimSpace(material.Unit)
	return material
}

func (s *Service) CreateMaterial(ctx context.Context, material domain.Material) (domain.Material, error) {
	return s.putMaterial(ctx, "create_material", material, true)
}

func (s *Service) SaveMaterial(ctx context.Context, material domain.Material) (domain.Material, error) {
	return s.putMaterial(ctx, "save_material", material, false)
}

func (s *Service) putMaterial(ctx context.Context, name string, material domain.Material, insertOnly bool) (_ domain.Material, err error) {
	material = normalizeMaterial(material)
	op := s.begin(ctx, name, "")
	defer func() { s.finish(op, err, referenceFields(material.ID)) }()

	shared := s.router.Shared()
	var saved *domain.Material
	if insertOnly {
		saved, err = shared.InsertMaterial(ctx, material)
	} else {
		saved, err = shared.SaveMaterial(ctx, material)
	}
	if err != nil {
		return domain.Material{}, err
	}
	s.invalidate(ctx, domain.KindMaterial, saved.ID)
	return *saved, nil
}

func (s *Service) GetMaterial(ctx context.Context, id string) (domain.Material, error) {
	material, err := s.material(ctx, domain.NormalizeID(id))
	if err != nil {
		return domain.Material{}, err
	}
	return *material, nil
}

func (s *Service) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	return s.router.Shared().ListMaterials(ctx)
}

func (s *Service) DeleteMaterial(ctx context.Context, id string) (err error) {
	id = domain.NormalizeID(id)
	op := s.begin(ctx, "delete_material", "")
	defer func() { s.finish(op, err, referenceFields(id)) }()

	if err := s.router.Shared().DeleteMaterial(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, domain.KindMaterial, id)
	return nil
}

// CreateAccount stores a bcrypt hash of password. Branch and User accounts
// must name a served branch; Company accounts carry none.
func (s *Service) CreateAccount(ctx context.Context, username string, password string, role domain.Role, branch string) (_ domain.Account, err error) {
	account := domain.Account{
		Username: domain.NormalizeUsername(username),
		Role:     role,
		Branch:   domain.NormalizeID(branch),
	}
	op := s.begin(ctx, "create_account", account.Branch)
	defer func() { s.finish(op, err, referenceFields(account.Username)) }()

	if !role.Valid() {
		return domain.Account{}, store.NewInvalidRecord("unknown role %q", role)
	}
	if role.BranchScoped() {
		if err := s.requireBranch(account.Branch, domain.KindAccount); err != nil {
			return domain.Account{}, err
		}
	} else {
		account.Branch = ""
	}

	account.PasswordHash, err = identity.HashPassword(password)
	if err != nil {
		return domain.Account{}, store.NewInvalidRecord("account %s: %v", account.Username, err)
	}
	if err := s.router.Shared().CreateAccount(ctx, account); err != nil {
		return domain.Account{}, err
	}

	created, err := s.router.Shared().GetAccount(ctx, account.Username)
	if err != nil {
		return domain.Account{}, err
	}
	created.PasswordHash = ""
	return *created, nil
}

func (s *Service) GetAccount(ctx context.Context, username string) (domain.Account, error) {
	account, err := s.router.Shared().GetAccount(ctx, domain.NormalizeUsername(username))
	if err != nil {
		return domain.Account{}, err
	}
	account.PasswordHash = ""
	return *account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.router.Shared().ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].PasswordHash = ""
	}
	return accounts, nil
}
