package postgres

import (
	"context"
	"database/sql"
	"errors"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// ReferenceStore is the shared partition backed by its own database.
type ReferenceStore struct {
	db     *sql.DB
	schema *schema.Manager
}

func NewReference(db *sql.DB) *ReferenceStore {
	return &ReferenceStore{db: db, schema: schema.Default()}
}

var _ store.ReferenceStore = (*ReferenceStore)(nil)

func (s *ReferenceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ReferenceStore) Close() error {
	return s.db.Close()
}

const employeeColumns = `id, last_name, first_name, address, birth_date, salary, branch, created_at, updated_at`

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var (
		e     domain.Employee
		birth sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.LastName, &e.FirstName, &e.Address, &birth, &e.Salary, &e.Branch, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.Employee{}, err
	}
	if birth.Valid {
		e.BirthDate = birth.Time
	}
	return e, nil
}

func (s *ReferenceStore) InsertEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	if err := s.schema.Validate(employee); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Employees)
	out, err := scanEmployee(s.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, last_name, first_name, address, birth_date, salary, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+employeeColumns,
		employee.ID, employee.LastName, employee.FirstName, employee.Address,
		nullTime(employee.BirthDate), employee.Salary, employee.Branch,
	))
	if isUniqueViolation(err) {
		return nil, c.Duplicate(employee.ID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) SaveEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	if err := s.schema.Validate(employee); err != nil {
		return nil, err
	}
	out, err := scanEmployee(s.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, last_name, first_name, address, birth_date, salary, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			last_name = EXCLUDED.last_name,
			first_name = EXCLUDED.first_name,
			address = EXCLUDED.address,
			birth_date = EXCLUDED.birth_date,
			salary = EXCLUDED.salary,
			branch = EXCLUDED.branch,
			updated_at = now()
		RETURNING `+employeeColumns,
		employee.ID, employee.LastName, employee.FirstName, employee.Address,
		nullTime(employee.BirthDate), employee.Salary, employee.Branch,
	))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	out, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.Employees).NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) ListEmployees(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE ($1::text = '' OR branch = $1)
		ORDER BY id
	`, filter.Branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Employee, 0, 32)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ReferenceStore) DeleteEmployee(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM employees WHERE id = $1`, schema.Employees, id)
}

const warehouseColumns = `id, name, address, branch, created_at, updated_at`

func scanWarehouse(row rowScanner) (domain.Warehouse, error) {
	var w domain.Warehouse
	err := row.Scan(&w.ID, &w.Name, &w.Address, &w.Branch, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (s *ReferenceStore) InsertWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	if err := s.schema.Validate(warehouse); err != nil {
		return nil, err
	}
	out, err := scanWarehouse(s.db.QueryRowContext(ctx, `
		INSERT INTO warehouses (id, name, address, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+warehouseColumns,
		warehouse.ID, warehouse.Name, warehouse.Address, warehouse.Branch,
	))
	if isUniqueViolation(err) {
		return nil, schema.MustLookup(schema.Warehouses).Duplicate(warehouse.ID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) SaveWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	if err := s.schema.Validate(warehouse); err != nil {
		return nil, err
	}
	out, err := scanWarehouse(s.db.QueryRowContext(ctx, `
		INSERT INTO warehouses (id, name, address, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			branch = EXCLUDED.branch,
			updated_at = now()
		RETURNING `+warehouseColumns,
		warehouse.ID, warehouse.Name, warehouse.Address, warehouse.Branch,
	))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	out, err := scanWarehouse(s.db.QueryRowContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.Warehouses).NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) ListWarehouses(ctx context.Context, filter domain.ReferenceFilter) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+warehouseColumns+`
		FROM warehouses
		WHERE ($1::text = '' OR branch = $1)
		ORDER BY id
	`, filter.Branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Warehouse, 0, 16)
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *ReferenceStore) DeleteWarehouse(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM warehouses WHERE id = $1`, schema.Warehouses, id)
}

const materialColumns = `id, name, unit, created_at, updated_at`

func scanMaterial(row rowScanner) (domain.Material, error) {
	var m domain.Material
	err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *ReferenceStore) InsertMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if err := s.schema.Validate(material); err != nil {
		return nil, err
	}
	out, err := scanMaterial(s.db.QueryRowContext(ctx, `
		INSERT INTO materials (id, name, unit, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+materialColumns,
		material.ID, material.Name, material.Unit,
	))
	if isUniqueViolation(err) {
		return nil, schema.MustLookup(schema.Materials).Duplicate(material.ID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) SaveMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if err := s.schema.Validate(material); err != nil {
		return nil, err
	}
	out, err := scanMaterial(s.db.QueryRowContext(ctx, `
		INSERT INTO materials (id, name, unit, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			updated_at = now()
		RETURNING `+materialColumns,
		material.ID, material.Name, material.Unit,
	))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	out, err := scanMaterial(s.db.QueryRowContext(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.Materials).NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Material, 0, 64)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ReferenceStore) DeleteMaterial(ctx context.Context, id string) error {
	return s.deleteByID(ctx, `DELETE FROM materials WHERE id = $1`, schema.Materials, id)
}

func (s *ReferenceStore) CreateAccount(ctx context.Context, account domain.Account) error {
	if err := s.schema.Validate(account); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, password_hash, role, branch, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, account.Username, account.PasswordHash, string(account.Role), account.Branch)
	if isUniqueViolation(err) {
		return schema.MustLookup(schema.Accounts).Duplicate(account.Username)
	}
	return err
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a    domain.Account
		role string
	)
	if err := row.Scan(&a.Username, &a.PasswordHash, &role, &a.Branch, &a.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	a.Role = domain.Role(role)
	return a, nil
}

func (s *ReferenceStore) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	out, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, branch, created_at
		FROM accounts
		WHERE username = $1
	`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.MustLookup(schema.Accounts).NotFound(username)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReferenceStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, branch, created_at
		FROM accounts
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Account, 0, 16)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ReferenceStore) deleteByID(ctx context.Context, query string, collection schema.Collection, id string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.MustLookup(collection).NotFound(id)
	}
	return nil
}
