package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rnblock/gateway/internal/apikey"
	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"github.com/rnblock/gateway/internal/config"
	obsmetrics "github.com/rnblock/gateway/internal/observability/metrics"
	"github.com/rnblock/gateway/internal/ratelimit"
	"github.com/rnblock/gateway/internal/usage"
	usagedomain "github.com/rnblock/gateway/internal/usage/domain"
	"github.com/rnblock/gateway/internal/wallet"
	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	apikey.Module,
	ratelimit.Module,
	wallet.Module,
	usage.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain and
// the unprotected endpoints.
func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	resolver apikeydomain.Resolver
	limiter  *ratelimit.Limiter
	ledger   walletdomain.Ledger
	recorder usagedomain.Recorder
	metrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Engine   *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Resolver apikeydomain.Resolver
	Limiter  *ratelimit.Limiter
	Ledger   walletdomain.Ledger
	Recorder usagedomain.Recorder
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:   p.Engine,
		cfg:      p.Cfg,
		log:      p.Log.Named("server"),
		resolver: p.Resolver,
		limiter:  p.Limiter,
		ledger:   p.Ledger,
		recorder: p.Recorder,
		metrics:  p.Metrics,
	}
}

// registerRoutes wires the admission gate in front of everything under
// the protected prefix. Paths outside it bypass the gate entirely.
func registerRoutes(s *Server) error {
	proxy, err := newUpstreamProxy(s.cfg.UpstreamURL, s.log)
	if err != nil {
		return err
	}

	protected := s.engine.Group("/api")
	protected.Use(s.AdmissionGate())
	protected.Any("/*path", proxy)
	return nil
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
