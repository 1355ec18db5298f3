package memory

import (
	"testing"

	"branchstock/backend/internal/store"
	"branchstock/backend/internal/store/storetest"
)

func TestBranchStore(t *testing.T) {
	storetest.RunBranchStore(t, func(t *testing.T) store.BranchStore { return NewBranch() })
}

func TestReferenceStore(t *testing.T) {
	storetest.RunReferenceStore(t, func(t *testing.T) store.ReferenceStore { return NewReference() })
}
