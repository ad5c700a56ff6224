package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/marketplace-ops/internal/api"
	"github.com/ignite/marketplace-ops/internal/audience"
	"github.com/ignite/marketplace-ops/internal/auth"
	"github.com/ignite/marketplace-ops/internal/config"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/ignite/marketplace-ops/internal/repository/postgres"
	"github.com/ignite/marketplace-ops/internal/routing"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
	"github.com/ignite/marketplace-ops/internal/storage"
	"github.com/ignite/marketplace-ops/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

// extractHost returns the host part of a postgres DSN for logging without
// the credentials.
func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func fatal(msg string, kv ...interface{}) {
	logger.Error(msg, kv...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", "path", *configPath, "error", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", "error", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		fatal("cannot bind", "error", err)
	}

	metrics.InitAPIMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("failed to open database", "error", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		fatal("failed to ping database", "host", extractHost(cfg.Database.URL), "error", err)
	}
	logger.Info("connected to database", "host", extractHost(cfg.Database.URL))

	// Redis (optional: without it notifications cannot be queued)
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			fatal("invalid REDIS_URL", "error", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "error", err)
		}
	} else {
		logger.Warn("REDIS_URL not set; notification submission is disabled")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatal("failed to initialize storage", "error", err)
	}
	logger.Info("storage ready", "backend", store.String())

	// Event routes
	registry := routing.NewRegistry(nil)
	routeSvc := eventroutes.NewService(postgres.NewRouteRepo(db), registry, eventroutes.Options{
		Store: store,
		NewLock: func() distlock.DistLock {
			return distlock.NewLock(rdb, db, cfg.Redis.KeyPrefix+":lock:catalog-publish", 30*time.Second)
		},
		Router: routing.NewRouter(cfg.Dispatch.RetryBaseDelay(), cfg.Dispatch.RetryMaxDelay()),
	})
	seed := cfg.Routes
	if len(seed) == 0 {
		seed = routing.DefaultRoutes()
	}
	n, err := routeSvc.Seed(ctx, seed)
	if err != nil {
		fatal("failed to load event routes", "error", err)
	}
	logger.Info("event routes loaded", "seeded", n, "published", registry.Current().Len())
	go routeSvc.Watch(ctx, 30*time.Second)

	deliveryRepo := postgres.NewDeliveryRepo(db)
	deps := api.Deps{
		Segments: audience.NewService(postgres.NewSegmentRepo(db), cfg.Audience.BasePopulation),
		Routes:   routeSvc,
		Delivery: deliveryRepo,
		Drops:    store,
	}

	var queueDepth api.QueueDepther
	if rdb != nil {
		queue := worker.NewDispatchQueue(rdb, cfg.Redis.KeyPrefix)
		pressure := worker.NewBackpressureMonitor(queue, cfg.Dispatch.MaxQueueDepth)
		go pressure.Start(ctx)

		deps.Queue = queue
		deps.Backpressure = pressure
		queueDepth = queue
	}

	opts := api.RouterOptions{
		Health: api.NewHealthChecker(db, rdb, queueDepth, registry),
	}
	if cfg.Auth.Enabled {
		am := auth.NewAuthManager(cfg.Auth)
		if am.OAuthEnabled() {
			if err := am.ValidateCredentials(ctx); err != nil {
				logger.Warn("google OAuth credentials check failed", "error", err)
			}
		}
		am.CleanupExpiredSessions(ctx)
		opts.Auth = am
		logger.Info("admin API authentication enabled", "oauth", am.OAuthEnabled(), "api_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("admin API authentication disabled")
	}

	server := api.NewServer(api.NewHandlers(deps), opts)

	go func() {
		addr := cfg.Server.Addr()
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("server stopped")
}
