package services

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/repository"
	gocache "github.com/patrickmn/go-cache"
)

// TenantSettings exposes per-tenant dispatch configuration. Lookups are
// cached briefly so the dispatcher does not hit the database on every send.
type TenantSettings interface {
	ThrottleLimit(ctx context.Context, tenantID uint) (int, error)
}

// TenantSettingsImpl implements TenantSettings with a TTL cache over the tenant repository
type TenantSettingsImpl struct {
	tenantRepo   repository.TenantRepository
	cache        *gocache.Cache
	defaultLimit int
}

// NewTenantSettings creates a new tenant settings service
func NewTenantSettings(tenantRepo repository.TenantRepository, ttl time.Duration, defaultLimit int) TenantSettings {
	return &TenantSettingsImpl{
		tenantRepo:   tenantRepo,
		cache:        gocache.New(ttl, 2*ttl),
		defaultLimit: defaultLimit,
	}
}

// ThrottleLimit returns the tenant's per-minute send ceiling
func (s *TenantSettingsImpl) ThrottleLimit(ctx context.Context, tenantID uint) (int, error) {
	key := fmt.Sprintf("throttle:%d", tenantID)
	if cached, found := s.cache.Get(key); found {
		return cached.(int), nil
	}

	tenant, err := s.tenantRepo.ByID(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tenant %d: %w", tenantID, err)
	}

	limit := s.defaultLimit
	if tenant != nil {
		limit = tenant.SMSThrottleLimit
	}

	s.cache.Set(key, limit, gocache.DefaultExpiration)
	return limit, nil
}
