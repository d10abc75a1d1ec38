package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navguard/navguard/internal/api"
	"github.com/navguard/navguard/internal/api/middleware"
	"github.com/navguard/navguard/internal/arbiter"
	"github.com/navguard/navguard/internal/bridge"
	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/diagnostics"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/infrastructure/config"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/policy"
	"github.com/navguard/navguard/internal/store"
	"github.com/navguard/navguard/internal/whitelist"
)

// Server wraps the broker HTTP server and its dependencies.
type Server struct {
	cfg      *config.Config
	router   *gin.Engine
	http     *http.Server
	cache    *cache.Cache
	feed     *heuristics.Feed
	feedStop context.CancelFunc
	log      *logging.Logger
}

// New builds a broker from configuration.
func New(cfg *config.Config) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics := monitoring.NewMetrics()

	pol := policy.LoadOrDefault(cfg.Arbiter.PolicyPath)
	matcher, err := heuristics.NewMatcher(pol.Signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to compile signatures: %w", err)
	}

	fileStore, err := store.NewFileStore(cfg.Cache.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	permCache := cache.New(cache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		SessionTTL:    cfg.Cache.SessionTTL,
		PersistentTTL: cfg.Cache.PersistentTTL,
		FlushDebounce: cfg.Cache.FlushDebounce,
		PurgeInterval: cfg.Cache.PurgeInterval,
	}, fileStore, log)
	permCache.SetMetrics(metrics)
	if err := permCache.Load(context.Background()); err != nil {
		log.Warn("cache restore failed, starting empty", logging.Err(err))
	}

	wl, err := whitelist.New(splitPatterns(cfg.Arbiter.Whitelist))
	if err != nil {
		return nil, fmt.Errorf("invalid whitelist: %w", err)
	}

	var confirmer arbiter.Confirmer
	if cfg.Arbiter.ConfirmURL != "" {
		confirmer = arbiter.NewHTTPConfirmer(cfg.Arbiter.ConfirmURL, cfg.Protocol.RoundTripTimeout)
	}

	recorder := diagnostics.NewRecorder(diagnostics.DefaultWindow)

	arb := arbiter.New(permCache, matcher, wl, arbiter.Options{
		MaxPending:    cfg.Arbiter.MaxPending,
		Confirmer:     confirmer,
		Recorder:      recorder,
		DenyAmbiguous: !cfg.Arbiter.AutoConfirm,
	}, metrics, log)

	bridgeHandler := bridge.NewHandler(arb, cfg.RateLimit, metrics, log)
	handlers := api.NewHandlers(permCache, wl, arb, recorder)

	var feed *heuristics.Feed
	if cfg.Feed.URL != "" {
		feed = heuristics.NewFeed(cfg.Feed.URL, cfg.Feed.Interval, matcher, log)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))

	admin := router.Group("/")
	if cfg.RateLimit.Enabled {
		admin.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	admin.GET("/", handlers.Root)
	admin.GET("/health", handlers.Health)

	// Whitelist administration
	admin.GET("/whitelist", handlers.ListWhitelist)
	admin.PUT("/whitelist", handlers.AddWhitelist)
	admin.DELETE("/whitelist", handlers.RemoveWhitelist)

	// Permission cache control
	admin.GET("/cache/stats", handlers.CacheStats)
	admin.POST("/cache/flush", handlers.FlushCache)
	admin.DELETE("/cache", handlers.ClearCache)

	// Diagnostics and metrics
	admin.GET("/diagnostics", handlers.Diagnostics)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Page-context bridge, outside the admin rate limit; CHECK flood
	// control is per connection.
	router.GET("/bridge", bridgeHandler.HandleConnection)

	return &Server{
		cfg:    cfg,
		router: router,
		cache:  permCache,
		feed:   feed,
		log:    log,
	}, nil
}

// Run starts the broker and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Run() error {
	if s.feed != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.feedStop = cancel
		go s.feed.Run(ctx)
	}

	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("broker listening", logging.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the broker: HTTP drain, feed stop and a final durable
// cache flush.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feedStop != nil {
		s.feedStop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown failed", logging.Err(err))
		}
	}
	if err := s.cache.Close(ctx); err != nil {
		return fmt.Errorf("final cache flush failed: %w", err)
	}
	s.log.Info("broker stopped")
	return nil
}

func splitPatterns(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
