package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/config"
	"branchstock/backend/internal/partition"
)

func TestValidateConfigRejectsWeakSecret(t *testing.T) {
	cfg := config.Config{Env: "production", IdentitySecret: "short"}
	if err := validateConfig(&cfg); !errors.Is(err, errIdentitySecret) {
		t.Fatalf("expected weak identity secret to be rejected, got %v", err)
	}

	cfg = config.Config{Env: "production", IdentitySecret: devIdentitySecret}
	if err := validateConfig(&cfg); err == nil {
		t.Fatalf("expected dev secret to be rejected outside dev")
	}
}

func TestValidateConfigFillsDevSecret(t *testing.T) {
	cfg := config.Config{Env: "dev"}
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("expected dev config to pass, got %v", err)
	}
	if cfg.IdentitySecret != devIdentitySecret {
		t.Fatalf("expected dev secret to be filled in")
	}
}

func TestValidateConfigAcceptsStrongSecret(t *testing.T) {
	cfg := config.Config{Env: "production", IdentitySecret: "0123456789abcdef0123456789abcdef"}
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestBuildPartitionsMemory(t *testing.T) {
	cfg := config.Config{Branches: []config.BranchConfig{
		{Code: "CN1", Backend: config.BackendMemory},
		{Code: "CN2", Backend: config.BackendMemory},
	}}

	parts, err := buildPartitions(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build partitions: %v", err)
	}
	router, err := partition.New(parts)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if got := router.Branches(); len(got) != 2 || got[0] != "CN1" || got[1] != "CN2" {
		t.Fatalf("unexpected branches %v", got)
	}
	for name, err := range router.Ping(context.Background()) {
		if err != nil {
			t.Fatalf("partition %s unhealthy: %v", name, err)
		}
	}
}

func TestBuildPartitionsReportsBadDatabase(t *testing.T) {
	cfg := config.Config{Branches: []config.BranchConfig{
		{Code: "CN1", Backend: config.BackendPostgres, DatabaseURL: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"},
	}}
	if _, err := buildPartitions(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected unreachable database to fail")
	}
}
