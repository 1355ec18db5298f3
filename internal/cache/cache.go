package cache

import (
	"context"
	"time"

	"branchstock/backend/internal/domain"
)

// ReferenceCache sits in front of the shared partition for the lookups every
// header and detail write performs.
type ReferenceCache interface {
	GetEmployee(ctx context.Context, id string) (*domain.Employee, bool, error)
	SetEmployee(ctx context.Context, employee *domain.Employee, ttl time.Duration) error
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, bool, error)
	SetWarehouse(ctx context.Context, warehouse *domain.Warehouse, ttl time.Duration) error
	GetMaterial(ctx context.Context, id string) (*domain.Material, bool, error)
	SetMaterial(ctx context.Context, material *domain.Material, ttl time.Duration) error
	Invalidate(ctx context.Context, kind domain.EntityKind, id string) error
}

type NoopReferenceCache struct{}

func (NoopReferenceCache) GetEmployee(_ context.Context, _ string) (*domain.Employee, bool, error) {
	return nil, false, nil
}

func (NoopReferenceCache) SetEmployee(_ context.Context, _ *domain.Employee, _ time.Duration) error {
	return nil
}

func (NoopReferenceCache) GetWarehouse(_ context.Context, _ string) (*domain.Warehouse, bool, error) {
	return nil, false, nil
}

func (NoopReferenceCache) SetWarehouse(_ context.Context, _ *domain.Warehouse, _ time.Duration) error {
	return nil
}

func (NoopReferenceCache) GetMaterial(_ context.Context, _ string) (*domain.Material, bool, error) {
	return nil, false, nil
}

func (NoopReferenceCache) SetMaterial(_ context.Context, _ *domain.Material, _ time.Duration) error {
	return nil
}

func (NoopReferenceCache) Invalidate(_ context.Context, _ domain.EntityKind, _ string) error {
	return nil
}

// Key is the cache key of a reference record.
func Key(kind domain.EntityKind, id string) string {
	return "branchstock:ref:" + string(kind) + ":" + id
}
