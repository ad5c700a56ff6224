package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/marketplace-ops/internal/config"
	"github.com/ignite/marketplace-ops/internal/dispatch"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/pkg/httpretry"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/ignite/marketplace-ops/internal/ratelimit"
	"github.com/ignite/marketplace-ops/internal/repository/postgres"
	"github.com/ignite/marketplace-ops/internal/routing"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
	"github.com/ignite/marketplace-ops/internal/storage"
	"github.com/ignite/marketplace-ops/internal/templates"
	"github.com/ignite/marketplace-ops/internal/worker"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func fatal(msg string, kv ...interface{}) {
	logger.Error(msg, kv...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address serving /metrics")
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
	logger.Info("starting dispatch worker")

	metrics.InitWorkerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
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
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		fatal("failed to ping database", "error", err)
	}

	// Redis holds the dispatch queue, so the worker cannot run without it.
	if cfg.Redis.URL == "" {
		fatal("REDIS_URL is required")
	}
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		fatal("invalid REDIS_URL", "error", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal("failed to ping redis", "error", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatal("failed to initialize storage", "error", err)
	}

	// Routes: load, then follow admin edits made through the API.
	router := routing.NewRouter(cfg.Dispatch.RetryBaseDelay(), cfg.Dispatch.RetryMaxDelay())
	registry := routing.NewRegistry(nil)
	routeSvc := eventroutes.NewService(postgres.NewRouteRepo(db), registry, eventroutes.Options{
		Store: store,
		NewLock: func() distlock.DistLock {
			return distlock.NewLock(rdb, db, cfg.Redis.KeyPrefix+":lock:catalog-publish", 30*time.Second)
		},
		Router: router,
	})
	seed := cfg.Routes
	if len(seed) == 0 {
		seed = routing.DefaultRoutes()
	}
	if _, err := routeSvc.Seed(ctx, seed); err != nil {
		fatal("failed to load event routes", "error", err)
	}
	go routeSvc.Watch(ctx, 15*time.Second)

	renderer, err := templates.NewRenderer(cfg.Templates)
	if err != nil {
		fatal("invalid templates", "error", err)
	}

	senders, err := buildSenders(ctx, cfg.Channels)
	if err != nil {
		fatal("failed to initialize channel senders", "error", err)
	}

	limiter := &ratelimit.Fallback{
		Primary:   ratelimit.NewRedisLimiter(rdb, cfg.Redis.KeyPrefix),
		Secondary: ratelimit.NewLocalLimiter(),
		OnError: func(err error) {
			logger.Warn("redis rate limiter unavailable, limiting locally", "error", err)
		},
	}

	deliveryRepo := postgres.NewDeliveryRepo(db)
	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Routes:          registry,
		Router:          router,
		Limiter:         limiter,
		Renderer:        renderer,
		Senders:         senders,
		Recorder:        deliveryRepo,
		DropSinks:       []dispatch.DropSink{store, deliveryRepo},
		RateLimitPolicy: dispatch.RateLimitPolicy(cfg.Dispatch.RateLimitPolicy),
	})

	queue := worker.NewDispatchQueue(rdb, cfg.Redis.KeyPrefix)
	dispatchWorker := worker.NewDispatchWorker(queue, dispatcher,
		cfg.Dispatch.Concurrency, cfg.Dispatch.BatchSize, cfg.Dispatch.PollInterval())
	dispatchWorker.Start()

	dataCleanup := worker.NewDataCleanupWorker(db, worker.Retention{
		Attempts: time.Duration(cfg.Dispatch.AttemptRetentionDays) * 24 * time.Hour,
		Drops:    time.Duration(cfg.Dispatch.DropRetentionDays) * 24 * time.Hour,
	})
	go dataCleanup.Start(ctx)

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()

	// Heartbeat
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("dispatch worker heartbeat", "stats", dispatchWorker.Stats(), "routes", registry.Current().Len())
			}
		}
	}()

	logger.Info("dispatch worker running",
		"concurrency", cfg.Dispatch.Concurrency,
		"channels", len(senders),
		"rate_limit_policy", cfg.Dispatch.RateLimitPolicy)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	dispatchWorker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("worker stopped")
}

// buildSenders creates a sender for every configured channel. A channel
// without a sender fails its sends, which the router then falls back from.
func buildSenders(ctx context.Context, c config.ChannelsConfig) (map[domain.Channel]dispatch.Sender, error) {
	senders := make(map[domain.Channel]dispatch.Sender)

	if c.SES.Enabled() {
		ses, err := dispatch.NewSESSender(ctx, c.SES.AccessKey, c.SES.SecretKey, c.SES.Region, c.SES.From, c.SES.ConfigurationSet)
		if err != nil {
			return nil, err
		}
		senders[domain.ChannelEmail] = ses
	} else {
		logger.Warn("email channel not configured")
	}

	if c.SQS.PushQueueURL != "" || c.SQS.InAppQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.SQS.Region))
		if err != nil {
			return nil, err
		}
		client := sqs.NewFromConfig(awsCfg)
		if c.SQS.PushQueueURL != "" {
			senders[domain.ChannelPush] = dispatch.NewQueueSender(client, c.SQS.PushQueueURL, "push-gateway")
		}
		if c.SQS.InAppQueueURL != "" {
			senders[domain.ChannelInApp] = dispatch.NewQueueSender(client, c.SQS.InAppQueueURL, "inbox")
		}
	}

	if c.SMS.GatewayURL != "" {
		client := httpretry.NewRetryClient(&http.Client{Timeout: c.SMS.Timeout()}, c.SMS.MaxRetries)
		senders[domain.ChannelSMS] = dispatch.NewSMSGatewaySender(client, c.SMS.GatewayURL, c.SMS.APIKey,
			dispatch.WithDefaultRegion(c.SMS.DefaultRegion))
	} else {
		logger.Warn("sms channel not configured")
	}

	return senders, nil
}
