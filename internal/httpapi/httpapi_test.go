package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/identity"
	"branchstock/backend/internal/ledger"
	"branchstock/backend/internal/metrics"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/service"
	"branchstock/backend/internal/store/memory"
)

type testEnv struct {
	handler http.Handler
	svc     *service.Service
	decoder *identity.Decoder
}

// newTestEnv wires the real service over memory partitions CN1 and CN2.
func newTestEnv(t *testing.T, pinger Pinger) *testEnv {
	t.Helper()

	router, err := partition.New(partition.Config{
		Shared: partition.SharedPartition{Store: memory.NewReference()},
		Branches: map[string]partition.BranchPartition{
			"CN1": {Store: memory.NewBranch()},
			"CN2": {Store: memory.NewBranch()},
		},
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	svc := service.New(router, ledger.New(router, ledger.RetryPolicy{}, zerolog.Nop()), service.Options{
		Logger:  zerolog.Nop(),
		Metrics: rec,
	})
	decoder, err := identity.NewDecoder("test-secret-key")
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if pinger == nil {
		pinger = router
	}

	api := New(svc, pinger, decoder, reg, zerolog.Nop())
	return &testEnv{handler: api.Handler(), svc: svc, decoder: decoder}
}

func (e *testEnv) token(t *testing.T, p domain.Principal) string {
	t.Helper()
	token, err := e.decoder.Sign(p, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func (e *testEnv) get(path string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) map[string]error {
	return map[string]error{"shared": nil, "branch-CN1": errors.New("connection refused")}
}

func TestHealthReportsPartitions(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get("/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		OK         bool              `json:"ok"`
		Partitions map[string]string `json:"partitions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.OK || len(body.Partitions) != 3 || body.Partitions["branch-CN2"] != "ok" {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestHealthFailsWhenPartitionDown(t *testing.T) {
	env := newTestEnv(t, failingPinger{})

	rec := env.get("/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("expected failure detail in body, got %s", rec.Body.String())
	}
}

func TestMetricsExposeOperations(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.svc.CreateMaterial(context.Background(), domain.Material{ID: "VT01", Name: "Xi mang", Unit: "bag"}); err != nil {
		t.Fatalf("create material: %v", err)
	}

	rec := env.get("/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `branchstock_operations_total{op="create_material",outcome="ok"} 1`) {
		t.Fatalf("expected operation counter in metrics output:\n%s", body)
	}
}

func TestSnapshotRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.get("/api/v1/branches/CN1/snapshot", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := env.get("/api/v1/branches/CN1/snapshot", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	other := env.token(t, domain.Principal{Username: "binh", Role: domain.RoleUser, Branch: "CN2"})
	if rec := env.get("/api/v1/branches/CN1/snapshot", other); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch, got %d", rec.Code)
	}
}

func TestSnapshotForBranchAndCompany(t *testing.T) {
	env := newTestEnv(t, nil)

	own := env.token(t, domain.Principal{Username: "an", Role: domain.RoleBranch, Branch: "CN1"})
	rec := env.get("/api/v1/branches/cn1/snapshot", own)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap domain.BranchSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Branch != "CN1" {
		t.Fatalf("expected CN1 snapshot, got %q", snap.Branch)
	}

	company := env.token(t, domain.Principal{Username: "boss", Role: domain.RoleCompany})
	if rec := env.get("/api/v1/branches/CN2/inventory", company); rec.Code != http.StatusOK {
		t.Fatalf("expected company to read CN2, got %d", rec.Code)
	}
	if rec := env.get("/api/v1/branches/CN9/snapshot", company); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown branch, got %d", rec.Code)
	}
}
