package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rnblock/gateway/internal/cache"
	"github.com/rnblock/gateway/internal/config"
	obsmetrics "github.com/rnblock/gateway/internal/observability/metrics"
	usagedomain "github.com/rnblock/gateway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const writeTimeout = 5 * time.Second

type ServiceParam struct {
	fx.In

	Lc         fx.Lifecycle `optional:"true"`
	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Repo       usagedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service appends usage records off the request path. Every failure is
// absorbed here; usage accounting is secondary to request admission.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  usagedomain.Repository

	services   cache.Cache[string, string]
	serviceTTL time.Duration

	metrics *obsmetrics.Metrics
	pending chan struct{}
}

func NewRecorder(p ServiceParam) usagedomain.Recorder {
	s := &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.recorder"),
		genID: p.GenID,
		repo:  p.Repo,

		services:   cache.NewTTLCache[string, string](256),
		serviceTTL: p.Cfg.ServiceCacheTTL,

		metrics: p.ObsMetrics,
		pending: make(chan struct{}, 1024),
	}

	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.Drain(ctx)
			},
		})
	}
	return s
}

// Record appends one usage fact on a detached goroutine. It returns
// immediately; failures are logged, never raised.
func (s *Service) Record(entry usagedomain.Entry) {
	select {
	case s.pending <- struct{}{}:
	default:
		// Writer backlog full; dropping is preferable to blocking the
		// caller's completion path.
		s.log.Warn("usage backlog full, dropping record", zap.String("endpoint", entry.Path))
		s.metrics.RecordUsageDropped("backlog_full")
		return
	}

	go func() {
		defer func() { <-s.pending }()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("usage recorder panic", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		s.write(ctx, entry)
	}()
}

// Drain waits for in-flight writes, bounded by ctx.
func (s *Service) Drain(ctx context.Context) error {
	for i := 0; i < cap(s.pending); i++ {
		select {
		case s.pending <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := 0; i < cap(s.pending); i++ {
		<-s.pending
	}
	return nil
}

func (s *Service) write(ctx context.Context, entry usagedomain.Entry) {
	category := usagedomain.DeriveCategory(entry.Path)

	serviceID, ok := s.resolveServiceID(ctx, category)
	if !ok {
		s.log.Warn("unknown billing category, dropping usage record",
			zap.String("category", category),
			zap.String("endpoint", entry.Path),
		)
		s.metrics.RecordUsageDropped("unknown_service")
		return
	}

	credits := entry.CreditsUsed
	if credits <= 0 {
		credits = 1
	}

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		APIKeyID:       entry.APIKeyID,
		OrgID:          entry.OrgID,
		ServiceID:      serviceID,
		Endpoint:       entry.Path,
		Method:         entry.Method,
		StatusCode:     entry.StatusCode,
		ResponseTimeMS: entry.ResponseTimeMS,
		CreditsUsed:    credits,
		IPAddress:      entry.IPAddress,
		UserAgent:      entry.UserAgent,
		Timestamp:      time.Now().UTC(),
	}

	if err := s.repo.InsertRecord(ctx, s.db, record); err != nil {
		s.log.Error("failed to write usage record",
			zap.String("api_key_id", entry.APIKeyID),
			zap.Error(err),
		)
		s.metrics.RecordUsageDropped("store_error")
		return
	}
	s.metrics.RecordUsageWritten()
}

func (s *Service) resolveServiceID(ctx context.Context, name string) (string, bool) {
	if id, ok := s.services.Get(name); ok {
		return id, id != ""
	}

	svc, err := s.repo.FindServiceByName(ctx, s.db, name)
	if err != nil {
		s.log.Error("billing category lookup failed", zap.String("name", name), zap.Error(err))
		return "", false
	}
	if svc == nil {
		// Cache the miss too; unknown categories would otherwise hit the
		// store on every request.
		s.services.Set(name, "", s.serviceTTL)
		return "", false
	}

	s.services.Set(name, svc.ID, s.serviceTTL)
	return svc.ID, true
}
