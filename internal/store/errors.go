package store

import (
	"errors"
	"fmt"

	"branchstock/backend/internal/domain"
)

var (
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrNotFound            = errors.New("not found")
	ErrInvalidPartition    = errors.New("invalid partition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidRecord       = errors.New("invalid record")

	// ErrVersionConflict means the row changed between read and write.
	// The coordinator and the ledger retry on it; callers never see it.
	ErrVersionConflict = errors.New("version conflict")
)

type DuplicateKeyError struct {
	Collection string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in %s", e.Key, e.Collection)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

type InsufficientStockError struct {
	WarehouseID string
	MaterialID  string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at %s: requested %d, available %d",
		e.MaterialID, e.WarehouseID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type NotFoundError struct {
	Collection string
	Key        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type InvalidPartitionError struct {
	Branch string
	Kind   domain.EntityKind
}

func (e *InvalidPartitionError) Error() string {
	if e.Branch == "" {
		return fmt.Sprintf("no partition for %s: branch is required", e.Kind)
	}
	return fmt.Sprintf("no partition for %s in branch %q", e.Kind, e.Branch)
}

func (e *InvalidPartitionError) Is(target error) bool { return target == ErrInvalidPartition }

type ConcurrencyConflictError struct {
	Operation string
	Attempts  int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s: gave up after %d conflicting attempts", e.Operation, e.Attempts)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func NewDuplicateKey(collection string, key string) error {
	return &DuplicateKeyError{Collection: collection, Key: key}
}

func NewNotFound(collection string, key string) error {
	return &NotFoundError{Collection: collection, Key: key}
}

func NewInvalidRecord(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
