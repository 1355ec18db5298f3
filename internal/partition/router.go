// Package partition maps (branch, entity kind) pairs onto the store that owns them.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

type Scope string

const (
	ScopeShared Scope = "shared"
	ScopeBranch Scope = "branch"
)

type SharedPartition struct {
	Name  string
	Store store.ReferenceStore
}

type BranchPartition struct {
	Name  string
	Store store.BranchStore
}

// Config is injected at construction; the router keeps no other state.
type Config struct {
	Shared   SharedPartition
	Branches map[string]BranchPartition
}

// Handle identifies the partition that owns a kind. Exactly one of
// Reference or Branch is set, matching Scope.
type Handle struct {
	Name      string
	Scope     Scope
	Branch    string
	Reference store.ReferenceStore
	Store     store.BranchStore
}

type Router struct {
	shared   SharedPartition
	branches map[string]BranchPartition
	codes    []string
}

func New(cfg Config) (*Router, error) {
	if cfg.Shared.Store == nil {
		return nil, errors.New("partition: shared store is required")
	}
	if cfg.Shared.Name == "" {
		cfg.Shared.Name = "shared"
	}

	branches := make(map[string]BranchPartition, len(cfg.Branches))
	codes := make([]string, 0, len(cfg.Branches))
	for code, p := range cfg.Branches {
		normalized := domain.NormalizeID(code)
		if normalized == "" {
			return nil, errors.New("partition: empty branch code")
		}
		if p.Store == nil {
			return nil, fmt.Errorf("partition: branch %s has no store", normalized)
		}
		if _, dup := branches[normalized]; dup {
			return nil, fmt.Errorf("partition: branch %s configured twice", normalized)
		}
		if p.Name == "" {
			p.Name = "branch-" + normalized
		}
		branches[normalized] = p
		codes = append(codes, normalized)
	}
	sort.Strings(codes)

	return &Router{shared: cfg.Shared, branches: branches, codes: codes}, nil
}

// Resolve returns the partition owning kind. Reference kinds ignore branch.
func (r *Router) Resolve(branch string, kind domain.EntityKind) (Handle, error) {
	if kind.IsReference() {
		return Handle{Name: r.shared.Name, Scope: ScopeShared, Reference: r.shared.Store}, nil
	}
	if !kind.IsTransactional() {
		return Handle{}, &store.InvalidPartitionError{Branch: branch, Kind: kind}
	}

	code := domain.NormalizeID(branch)
	p, ok := r.branches[code]
	if code == "" || !ok {
		return Handle{}, &store.InvalidPartitionError{Branch: code, Kind: kind}
	}
	return Handle{Name: p.Name, Scope: ScopeBranch, Branch: code, Store: p.Store}, nil
}

// Branch returns the store of a known branch along with its normalised code.
func (r *Router) Branch(branch string) (store.BranchStore, string, error) {
	h, err := r.Resolve(branch, domain.KindInventory)
	if err != nil {
		return nil, "", err
	}
	return h.Store, h.Branch, nil
}

func (r *Router) Shared() store.ReferenceStore {
	return r.shared.Store
}

// Branches lists the known branch codes in sorted order.
func (r *Router) Branches() []string {
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

func (r *Router) Known(branch string) bool {
	_, ok := r.branches[domain.NormalizeID(branch)]
	return ok
}

// Ping checks every partition and reports failures by partition name.
func (r *Router) Ping(ctx context.Context) map[string]error {
	result := make(map[string]error, len(r.branches)+1)
	result[r.shared.Name] = r.shared.Store.Ping(ctx)
	for _, code := range r.codes {
		p := r.branches[code]
		result[p.Name] = p.Store.Ping(ctx)
	}
	return result
}

// Close closes every partition store, returning the first error.
func (r *Router) Close() error {
	var first error
	for _, code := range r.codes {
		if err := r.branches[code].Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := r.shared.Store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
