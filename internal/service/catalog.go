package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/events"
	"kiosk/internal/gateway"
	internalRedis "kiosk/internal/redis"
)

// CatalogService lists the preset donation items of the signed-in organization.
type CatalogService struct {
	gateway CatalogGateway
	cache   internalRedis.CacheStoreInterface
	bus     *events.Bus
	logger  *slog.Logger

	mu             sync.Mutex
	token          string
	organizationID string

	unsubscribe func()
}

// NewCatalogService creates a new CatalogService. cache may be nil.
func NewCatalogService(gw CatalogGateway, cache internalRedis.CacheStoreInterface, bus *events.Bus, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CatalogService{
		gateway: gw,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "catalog")),
	}
	s.unsubscribe = events.On(bus, s.onAuthorizationChanged)
	return s
}

// Close detaches the service from the bus.
func (s *CatalogService) Close() {
	s.unsubscribe()
}

// List returns the catalog, served from cache when possible. Cache errors
// fall through to the backend.
func (s *CatalogService) List(ctx context.Context) ([]domain.CatalogItem, error) {
	s.mu.Lock()
	token, org := s.token, s.organizationID
	s.mu.Unlock()
	if token == "" {
		return nil, ErrNotAuthorized
	}

	if s.cache != nil {
		items, err := s.cache.GetCatalog(ctx, org)
		if err != nil {
			s.logger.Warn("catalog cache read failed", slog.Any("err", err))
		} else if items != nil {
			return items, nil
		}
	}

	wire, err := s.gateway.ListCatalog(ctx, token)
	if err != nil {
		if gateway.IsUnauthorized(err) {
			s.bus.Publish(events.SessionExpired{Reason: "catalog request unauthorized", At: time.Now()})
		}
		return nil, classifyBackendError(err)
	}

	items := make([]domain.CatalogItem, 0, len(wire))
	for _, it := range wire {
		items = append(items, domain.CatalogItem{
			ID:          it.ID,
			Name:        it.Name,
			AmountCents: it.AmountCents,
			Currency:    it.Currency,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetCatalog(ctx, org, items); err != nil {
			s.logger.Warn("catalog cache write failed", slog.Any("err", err))
		}
	}
	return items, nil
}

func (s *CatalogService) onAuthorizationChanged(e events.AuthorizationChanged) {
	s.mu.Lock()
	prevOrg := s.organizationID
	if e.Authorized() {
		s.token, s.organizationID = e.AccessToken, e.OrganizationID
	} else {
		s.token, s.organizationID = "", ""
	}
	s.mu.Unlock()

	if s.cache != nil && prevOrg != "" && !e.Authorized() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := s.cache.InvalidateCatalog(ctx, prevOrg); err != nil {
			s.logger.Warn("catalog cache invalidation failed", slog.Any("err", err))
		}
	}
}
