package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"branchstock/backend/internal/domain"
)

type RedisReferenceCache struct {
	client *redis.Client
}

func NewRedisReferenceCache(addr string, password string, db int) *RedisReferenceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReferenceCache{client: client}
}

func (c *RedisReferenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReferenceCache) Close() error {
	return c.client.Close()
}

func (c *RedisReferenceCache) GetEmployee(ctx context.Context, id string) (*domain.Employee, bool, error) {
	var out domain.Employee
	ok, err := c.get(ctx, Key(domain.KindEmployee, id), &out)
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (c *RedisReferenceCache) SetEmployee(ctx context.Context, employee *domain.Employee, ttl time.Duration) error {
	if employee == nil {
		return nil
	}
	return c.set(ctx, Key(domain.KindEmployee, employee.ID), employee, ttl)
}

func (c *RedisReferenceCache) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, bool, error) {
	var out domain.Warehouse
	ok, err := c.get(ctx, Key(domain.KindWarehouse, id), &out)
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (c *RedisReferenceCache) SetWarehouse(ctx context.Context, warehouse *domain.Warehouse, ttl time.Duration) error {
	if warehouse == nil {
		return nil
	}
	return c.set(ctx, Key(domain.KindWarehouse, warehouse.ID), warehouse, ttl)
}

func (c *RedisReferenceCache) GetMaterial(ctx context.Context, id string) (*domain.Material, bool, error) {
	var out domain.Material
	ok, err := c.get(ctx, Key(domain.KindMaterial, id), &out)
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (c *RedisReferenceCache) SetMaterial(ctx context.Context, material *domain.Material, ttl time.Duration) error {
	if material == nil {
		return nil
	}
	return c.set(ctx, Key(domain.KindMaterial, material.ID), material, ttl)
}

func (c *RedisReferenceCache) Invalidate(ctx context.Context, kind domain.EntityKind, id string) error {
	return c.client.Del(ctx, Key(kind, id)).Err()
}

func (c *RedisReferenceCache) get(ctx context.Context, key string, dst any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisReferenceCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
