package partition

import (
	"context"
	"errors"
	"testing"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
	"branchstock/backend/internal/store/memory"
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(Config{
		Shared: SharedPartition{Name: "server3", Store: memory.NewReference()},
		Branches: map[string]BranchPartition{
			"cn1": {Store: memory.NewBranch()},
			"CN2": {Name: "server2", Store: memory.NewBranch()},
		},
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func TestResolveReferenceKindsIgnoreBranch(t *testing.T) {
	r := newRouter(t)
	for _, branch := range []string{"", "CN1", "nowhere"} {
		for _, kind := range []domain.EntityKind{domain.KindEmployee, domain.KindWarehouse, domain.KindMaterial, domain.KindAccount} {
			h, err := r.Resolve(branch, kind)
			if err != nil {
				t.Fatalf("resolve %s/%s: %v", branch, kind, err)
			}
			if h.Scope != ScopeShared || h.Name != "server3" || h.Reference == nil {
				t.Fatalf("resolve %s/%s: expected shared partition, got %+v", branch, kind, h)
			}
		}
	}
}

func TestResolveTransactionalKinds(t *testing.T) {
	r := newRouter(t)

	h, err := r.Resolve(" cn1 ", domain.KindOrderDetail)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Branch != "CN1" || h.Name != "branch-CN1" || h.Store == nil {
		t.Fatalf("unexpected handle %+v", h)
	}

	h2, err := r.Resolve("CN2", domain.KindInventory)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h2.Name != "server2" {
		t.Fatalf("expected configured name, got %s", h2.Name)
	}
	if h2.Store == h.Store {
		t.Fatalf("branches must not share a store")
	}
}

func TestResolveRejectsUnknownOrEmptyBranch(t *testing.T) {
	r := newRouter(t)
	for _, branch := range []string{"", "CN3"} {
		_, err := r.Resolve(branch, domain.KindOrder)
		var partErr *store.InvalidPartitionError
		if !errors.As(err, &partErr) {
			t.Fatalf("branch %q: expected InvalidPartitionError, got %v", branch, err)
		}
		if !errors.Is(err, store.ErrInvalidPartition) {
			t.Fatalf("branch %q: error must match ErrInvalidPartition", branch)
		}
	}
	if _, err := r.Resolve("CN1", domain.EntityKind("ledger")); !errors.Is(err, store.ErrInvalidPartition) {
		t.Fatalf("expected unknown kind to be rejected, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing shared store to fail")
	}
	_, err := New(Config{
		Shared: SharedPartition{Store: memory.NewReference()},
		Branches: map[string]BranchPartition{
			"cn1": {Store: memory.NewBranch()},
			"CN1": {Store: memory.NewBranch()},
		},
	})
	if err == nil {
		t.Fatalf("expected duplicate branch codes to fail")
	}
}

func TestBranchesAndPing(t *testing.T) {
	r := newRouter(t)
	got := r.Branches()
	if len(got) != 2 || got[0] != "CN1" || got[1] != "CN2" {
		t.Fatalf("unexpected branches %v", got)
	}

	results := r.Ping(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected three partitions, got %d", len(results))
	}
	for name, err := range results {
		if err != nil {
			t.Fatalf("ping %s: %v", name, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
