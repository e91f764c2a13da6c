// Package refdata serves the reference data read during evaluation:
// suspicious keywords, country risk and account balances.
package refdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	keywordsKey   = "refdata:keywords"
	countryPrefix = "refdata:country:"
)

// Store is the persistence needed by the service.
type Store interface {
	ListActiveKeywords(ctx context.Context) ([]*domain.SuspiciousKeyword, error)
	GetCountry(ctx context.Context, code string) (*domain.Country, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

// Service reads reference data cache-aside. Keywords and countries are
// cached with the configured TTLs; account balances always come from the
// store. A nil cache disables caching.
type Service struct {
	store      Store
	cache      domain.Cache
	keywordTTL time.Duration
	countryTTL time.Duration
}

// NewService creates a reference data service.
func NewService(store Store, c domain.Cache, cfg domain.RefDataConfig) *Service {
	return &Service{
		store:      store,
		cache:      c,
		keywordTTL: cfg.KeywordTTL,
		countryTTL: cfg.CountryTTL,
	}
}

// Keywords returns active keywords by descending risk score.
func (s *Service) Keywords(ctx context.Context) ([]*domain.SuspiciousKeyword, error) {
	var keywords []*domain.SuspiciousKeyword
	if s.cacheGet(ctx, keywordsKey, &keywords) {
		return keywords, nil
	}

	keywords, err := s.store.ListActiveKeywords(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, keywordsKey, keywords, s.keywordTTL)
	return keywords, nil
}

// Country returns the risk entry for an ISO code. Unknown codes return
// domain.ErrNotFound and are not cached.
func (s *Service) Country(ctx context.Context, code string) (*domain.Country, error) {
	key := countryPrefix + strings.ToUpper(code)

	var country domain.Country
	if s.cacheGet(ctx, key, &country) {
		return &country, nil
	}

	c, err := s.store.GetCountry(ctx, code)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, c, s.countryTTL)
	return c, nil
}

// Account returns an account with its current balance.
func (s *Service) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// InvalidateKeywords drops the cached keyword list.
func (s *Service) InvalidateKeywords(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, keywordsKey)
}

// InvalidateCountry drops one cached country.
func (s *Service) InvalidateCountry(ctx context.Context, code string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, countryPrefix+strings.ToUpper(code))
}

// cacheGet reports a hit. Cache failures degrade to a miss.
func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	found, err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil {
		slog.Warn("reference data cache read failed", "key", key, "error", err)
		return false
	}
	return found
}

func (s *Service) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, ttl); err != nil {
		slog.Warn("reference data cache write failed", "key", key, "error", err)
	}
}
