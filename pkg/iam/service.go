package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("restaurant-iam/iam")

// CacheKeyPrefix is shared by every snapshot cache entry
const CacheKeyPrefix = "permissions:"

// CacheKey is the cache entry of one user's snapshot in one restaurant
func CacheKey(restaurantID, userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", CacheKeyPrefix, restaurantID, userID)
}

// TenantCachePrefix matches every snapshot cached for a restaurant
func TenantCachePrefix(restaurantID uuid.UUID) string {
	return fmt.Sprintf("%s%s:", CacheKeyPrefix, restaurantID)
}

// Config tunes the permission service
type Config struct {
	// CacheTTL is how long a built snapshot stays cached
	CacheTTL time.Duration

	// StrictVersionCheck compares a cached snapshot's permVersion with the
	// tenant's live version on every hit. Off by default: hits are served
	// without a database round trip and a snapshot that survived a failed
	// eviction stays visible until CacheTTL.
	StrictVersionCheck bool

	// CoalesceRebuilds shares one snapshot build between concurrent misses
	// for the same user
	CoalesceRebuilds bool

	// RebuildTimeout bounds a shared snapshot build
	RebuildTimeout time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:         time.Hour,
		CoalesceRebuilds: true,
		RebuildTimeout:   10 * time.Second,
	}
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the structured logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics; nil disables them
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithConfig overrides DefaultConfig
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.CacheTTL <= 0 {
			cfg.CacheTTL = DefaultConfig().CacheTTL
		}
		if cfg.RebuildTimeout <= 0 {
			cfg.RebuildTimeout = DefaultConfig().RebuildTimeout
		}
		s.cfg = cfg
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the permission resolution engine. It owns no process-wide
// state: storage, cache and audit sink are injected.
type Service struct {
	repos   Repositories
	cache   Cache
	audit   audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
	cfg     Config
	now     func() time.Time

	rebuilds singleflight.Group
}

// NewService creates a permission service. A nil cache disables caching.
func NewService(repos Repositories, cache Cache, opts ...Option) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	s := &Service{
		repos:  repos,
		cache:  cache,
		audit:  audit.NewNoOpLogger(),
		logger: observability.NewNopLogger(),
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active configuration
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) log(ctx context.Context) *observability.Logger {
	return observability.UpdateLoggerWithTraceContext(ctx, s.logger)
}

// bumpAndEvict advances the tenant's permVersion then drops its cached
// snapshots. The bump must succeed; eviction is best effort.
func (s *Service) bumpAndEvict(ctx context.Context, restaurantID uuid.UUID) error {
	version, err := s.repos.Tenants.BumpPermVersion(ctx, restaurantID)
	if err != nil {
		return fmt.Errorf("failed to bump permission version: %w", err)
	}

	n, err := s.cache.DeleteByPrefix(ctx, TenantCachePrefix(restaurantID))
	if err != nil {
		s.metrics.CacheError("evict")
		s.log(ctx).WithError(err).
			WithField("restaurant_id", restaurantID.String()).
			WithField("perm_version", version).
			Warn("failed to evict permission cache")
		return nil
	}
	s.metrics.CacheEvicted("snapshot", n)
	return nil
}

// bumpAll bumps every tenant, stopping at the first failure
func (s *Service) bumpAll(ctx context.Context, tenants []uuid.UUID) error {
	for _, id := range tenants {
		if err := s.bumpAndEvict(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// record emits an audit event on behalf of the caller in ctx. Failures are
// logged and never fail the mutation.
func (s *Service) record(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, restaurantID uuid.UUID, payload map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, resourceType, resourceID).WithRestaurant(restaurantID)
	event.Timestamp = s.now().UTC()
	if id := IdentityFromContext(ctx); id != nil {
		event.WithActor(id.UserID)
	}
	for k, v := range payload {
		event.Payload[k] = v
	}

	if err := s.audit.Log(ctx, event); err != nil {
		s.log(ctx).WithError(err).WithField("action", string(eventType)).Warn("failed to write audit record")
	}
}

// ListFeatures returns the catalog features in display order
func (s *Service) ListFeatures(ctx context.Context) ([]CatalogFeature, error) {
	features, err := s.repos.Catalog.ListFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	return features, nil
}

// ListActions returns every action ordered by id
func (s *Service) ListActions(ctx context.Context) ([]Action, error) {
	actions, err := s.repos.Catalog.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

// CatalogChanged drops every cached snapshot after the catalog was reseeded.
// Catalog data is global, so no tenant version is bumped.
func (s *Service) CatalogChanged(ctx context.Context, summary map[string]interface{}) error {
	n, err := s.cache.DeleteByPrefix(ctx, CacheKeyPrefix)
	if err != nil {
		s.metrics.CacheError("evict")
		return fmt.Errorf("failed to evict permission cache: %w", err)
	}
	s.metrics.CacheEvicted("snapshot", n)
	s.metrics.Mutation(string(audit.EventTypeCatalogChanged), 0)
	s.record(ctx, audit.EventTypeCatalogChanged, audit.ResourceTypeCatalog, "", uuid.Nil, summary)
	return nil
}

type nopCache struct{}

func (nopCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (nopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (nopCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) { return 0, nil }
