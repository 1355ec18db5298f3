// Package service is the transaction coordinator: the only writable entry
// point for detail lines and the inventory they move.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"branchstock/backend/internal/cache"
	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/ledger"
	"branchstock/backend/internal/metrics"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
	"branchstock/backend/internal/xid"
)

type principalContextKey struct{}

// WithPrincipal attaches the caller's resolved identity claim. The core
// trusts it and only uses it for logging.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return principal, ok
}

const defaultReferenceCacheTTL = 5 * time.Minute

type Options struct {
	Cache    cache.ReferenceCache
	CacheTTL time.Duration
	Logger   zerolog.Logger
	Metrics  *metrics.Recorder
	Retry    ledger.RetryPolicy
}

type Service struct {
	router   *partition.Router
	ledger   *ledger.Ledger
	refs     cache.ReferenceCache
	cacheTTL time.Duration
	log      zerolog.Logger
	metrics  *metrics.Recorder
	retry    ledger.RetryPolicy
	schema   *schema.Manager
}

func New(router *partition.Router, ldg *ledger.Ledger, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReferenceCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultReferenceCacheTTL
	}
	if opts.Retry.OnRetry == nil && opts.Metrics != nil {
		opts.Retry.OnRetry = opts.Metrics.Retry
	}

	return &Service{
		router:   router,
		ledger:   ldg,
		refs:     opts.Cache,
		cacheTTL: opts.CacheTTL,
		log:      opts.Logger.With().Str("component", "service").Logger(),
		metrics:  opts.Metrics,
		retry:    opts.Retry,
		schema:   schema.Default(),
	}
}

// Branches lists the branch codes the coordinator can route to.
func (s *Service) Branches() []string {
	return s.router.Branches()
}

// opLog carries the fields every log line of one operation shares.
type opLog struct {
	name    string
	id      string
	started time.Time
	event   zerolog.Context
}

func (s *Service) begin(ctx context.Context, name string, branch string) opLog {
	op := opLog{name: name, id: xid.New("op"), started: time.Now()}
	op.event = s.log.With().Str("op", name).Str("op_id", op.id)
	if branch != "" {
		op.event = op.event.Str("branch", domain.NormalizeID(branch))
	}
	if principal, ok := PrincipalFromContext(ctx); ok {
		op.event = op.event.Str("actor", principal.Username).Str("actor_role", string(principal.Role))
	}
	return op
}

// finish records the outcome. Expected business failures are logged at warn,
// anything else at error.
func (s *Service) finish(op opLog, err error, fields func(e *zerolog.Event)) {
	s.metrics.Observe(op.name, op.started, err)

	logger := op.event.Logger()
	var event *zerolog.Event
	switch {
	case err == nil:
		event = logger.Debug()
	case isBusinessError(err):
		event = logger.Warn().Err(err)
	default:
		event = logger.Error().Err(err)
	}
	if fields != nil {
		fields(event)
	}
	event.Dur("elapsed", time.Since(op.started)).Msg(op.name)
}

func isBusinessError(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey) ||
		errors.Is(err, store.ErrInsufficientStock) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInvalidRecord) ||
		errors.Is(err, store.ErrConcurrencyConflict) ||
		errors.Is(err, store.ErrInvalidPartition)
}

func (s *Service) branchStore(branch string, kind domain.EntityKind) (store.BranchStore, string, error) {
	h, err := s.router.Resolve(branch, kind)
	if err != nil {
		return nil, "", err
	}
	return h.Store, h.Branch, nil
}

func (s *Service) employee(ctx context.Context, id string) (*domain.Employee, error) {
	if cached, ok, err := s.refs.GetEmployee(ctx, id); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("employee_id", id).Msg("reference cache read failed")
	}
	emp, err := s.router.Shared().GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refs.SetEmployee(ctx, emp, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("employee_id", id).Msg("reference cache write failed")
	}
	return emp, nil
}

func (s *Service) warehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	if cached, ok, err := s.refs.GetWarehouse(ctx, id); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("warehouse_id", id).Msg("reference cache read failed")
	}
	wh, err := s.router.Shared().GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refs.SetWarehouse(ctx, wh, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("warehouse_id", id).Msg("reference cache write failed")
	}
	return wh, nil
}

func (s *Service) material(ctx context.Context, id string) (*domain.Material, error) {
	if cached, ok, err := s.refs.GetMaterial(ctx, id); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("material_id", id).Msg("reference cache read failed")
	}
	mat, err := s.router.Shared().GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refs.SetMaterial(ctx, mat, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("material_id", id).Msg("reference cache write failed")
	}
	return mat, nil
}

func (s *Service) invalidate(ctx context.Context, kind domain.EntityKind, id string) {
	if err := s.refs.Invalidate(ctx, kind, id); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Msg("reference cache invalidate failed")
	}
}
