package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"branchstock/backend/internal/store"
	"branchstock/backend/internal/store/storetest"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	databaseURL := os.Getenv("BRANCHSTOCK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BRANCHSTOCK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	for _, scope := range []Scope{ScopeShared, ScopeBranch} {
		if err := Migrate(ctx, db, scope); err != nil {
			t.Fatalf("migrate %s: %v", scope, err)
		}
	}
	return db
}

func truncate(t *testing.T, db *sql.DB, tables string) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), `TRUNCATE `+tables); err != nil {
		t.Fatalf("truncate %s: %v", tables, err)
	}
}

func TestBranchStoreIntegration(t *testing.T) {
	db := openTestDB(t)
	storetest.RunBranchStore(t, func(t *testing.T) store.BranchStore {
		truncate(t, db, "orders, receipts, details, inventory")
		return NewBranch(db)
	})
}

func TestReferenceStoreIntegration(t *testing.T) {
	db := openTestDB(t)
	storetest.RunReferenceStore(t, func(t *testing.T) store.ReferenceStore {
		truncate(t, db, "employees, warehouses, materials, accounts")
		return NewReference(db)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(context.Background(), db, ScopeBranch); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := Migrate(context.Background(), db, Scope("archive")); err == nil {
		t.Fatalf("expected unknown scope to fail")
	}
}
