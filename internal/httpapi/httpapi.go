// Package httpapi serves the operational surface of the process: health,
// metrics and read-only branch snapshots for reporting collaborators.
// Detail and inventory mutations are library calls on service.Service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/identity"
	"branchstock/backend/internal/service"
	"branchstock/backend/internal/store"
)

// Pinger reports the health of every partition by name.
type Pinger interface {
	Ping(ctx context.Context) map[string]error
}

type API struct {
	service  *service.Service
	pinger   Pinger
	decoder  *identity.Decoder
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

func New(svc *service.Service, pinger Pinger, decoder *identity.Decoder, gatherer prometheus.Gatherer, logger zerolog.Logger) *API {
	return &API{
		service:  svc,
		pinger:   pinger,
		decoder:  decoder,
		gatherer: gatherer,
		log:      logger.With().Str("component", "httpapi").Logger(),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/branches/{branch}/snapshot", a.requirePrincipal(a.handleSnapshot))
	mux.HandleFunc("/api/v1/branches/{branch}/inventory", a.requirePrincipal(a.handleInventory))

	return a.withMiddleware(mux)
}

func (a *API) requirePrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		principal, err := a.decoder.Decode(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if !canRead(principal, r.PathValue("branch")) {
			writeError(w, http.StatusForbidden, identity.ErrForbidden)
			return
		}

		next(w, r.WithContext(service.WithPrincipal(r.Context(), principal)))
	}
}

// canRead lets Company principals read every branch and everyone else only
// their own.
func canRead(p domain.Principal, branch string) bool {
	if p.Role == domain.RoleCompany {
		return true
	}
	return p.Branch == domain.NormalizeID(branch)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := a.pinger.Ping(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	partitions := make(map[string]string, len(results))
	for _, name := range names {
		if err := results[name]; err != nil {
			ok = false
			partitions[name] = err.Error()
			a.log.Warn().Err(err).Str("partition", name).Msg("partition unhealthy")
			continue
		}
		partitions[name] = "ok"
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":         ok,
		"partitions": partitions,
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	snap, err := a.service.Snapshot(r.Context(), r.PathValue("branch"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rows, err := a.service.ListInventory(r.Context(), r.PathValue("branch"), domain.InventoryFilter{
		WarehouseID: r.URL.Query().Get("warehouse_id"),
		MaterialID:  r.URL.Query().Get("material_id"),
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.Error().Err(err).Msg("internal error")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidPartition):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
