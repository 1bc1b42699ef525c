package service

import (
	"context"
	"strings"
	"time"

	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"github.com/rnblock/gateway/internal/cache"
	"github.com/rnblock/gateway/internal/clock"
	"github.com/rnblock/gateway/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Cfg  config.Config
	Clk  clock.Clock
	Repo apikeydomain.Repository
}

// Service resolves raw credentials to key records through a bounded TTL
// cache in front of the key store. Negative lookups are cached too, so
// repeated invalid keys do not hammer the store. A revoked key may stay
// admittable until its cache entry expires; that staleness window is
// accepted.
type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	clk  clock.Clock
	repo apikeydomain.Repository

	keys   cache.Cache[string, *apikeydomain.APIKey]
	pepper string
	ttl    time.Duration
}

func NewResolver(p ServiceParam) apikeydomain.Resolver {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("apikey.resolver"),
		clk:  p.Clk,
		repo: p.Repo,

		keys:   cache.NewTTLCache[string, *apikeydomain.APIKey](p.Cfg.KeyCacheSize),
		pepper: p.Cfg.APIKeyPepper,
		ttl:    p.Cfg.KeyCacheTTL,
	}
}

func (s *Service) Resolve(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrInvalidKey
	}

	hash, err := apikeydomain.HashKey(raw, s.pepper)
	if err != nil {
		return nil, err
	}

	key, cached := s.keys.Get(hash)
	if !cached {
		key, err = s.repo.FindByHash(ctx, s.db, hash)
		if err != nil {
			return nil, err
		}
		s.keys.Set(hash, key, s.ttl)
	}

	if key == nil || !key.IsActive || key.Expired(s.clk.Now()) {
		s.log.Warn("invalid or inactive api key attempted", zap.String("key_hash", hash))
		return nil, apikeydomain.ErrInvalidKey
	}
	return key, nil
}
