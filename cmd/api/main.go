// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/SanayKrishna/serendipity/internal/api"
	"github.com/SanayKrishna/serendipity/internal/config"
	"github.com/SanayKrishna/serendipity/internal/content"
	"github.com/SanayKrishna/serendipity/internal/cooldown"
	dbpkg "github.com/SanayKrishna/serendipity/internal/db"
	"github.com/SanayKrishna/serendipity/internal/device"
	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/health"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/notify"
	"github.com/SanayKrishna/serendipity/internal/pin"
	"github.com/SanayKrishna/serendipity/internal/sighting"
	"github.com/SanayKrishna/serendipity/internal/stats"
	"github.com/SanayKrishna/serendipity/internal/tracing"
)

const serviceName = "serendipity-api"

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Serendipity API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if cfg == nil {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// A missing DATABASE_URL downgrades to in-memory storage in development;
	// every other validation error is fatal.
	fatal := false
	for _, err := range errs {
		if err == config.ErrMissingDatabaseURL && cfg.Env == "development" {
			logger.Warn("DATABASE_URL not set, using in-memory storage")
			continue
		}
		logger.Error("invalid configuration", "error", err)
		fatal = true
	}
	if fatal {
		os.Exit(1)
	}

	for k, v := range cfg.LogSummary() {
		logger.Info("config", k, v)
	}

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage
	var (
		db        *sql.DB
		pins      pin.Repository
		devices   device.Repository
		ledger    engagement.Ledger
		sightings sighting.Recorder
	)
	if cfg.DatabaseURL != "" {
		db, err = dbpkg.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		pins = pin.NewPostgresRepository(db, logger)
		devices = device.NewPostgresRepository(db, logger)
		ledger = engagement.NewPostgresLedger(db, logger)
		sightings = sighting.NewPostgresRecorder(db, logger)
		logger.Info("storage: postgres")
	} else {
		pins = pin.NewInMemoryRepository()
		devices = device.NewInMemoryRepository()
		ledger = engagement.NewInMemoryLedger()
		sightings = sighting.NewInMemoryRecorder()
		logger.Info("storage: in-memory")
	}

	// Redis is optional; it upgrades rate limiting and the stats cooldown to
	// shared state across instances.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
	}

	// Metrics
	metrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	activity := stats.NewActivityStats()

	// Cooldown store for stats reads
	var cooldowns cooldown.Store
	if redisClient != nil {
		cooldowns = cooldown.NewRedisStore(redisClient)
	} else {
		mem := cooldown.NewInMemoryStore()
		mem.StartCleanup(context.Background(), time.Minute)
		cooldowns = mem
	}

	// Rate limit store
	var rlStore middleware.RateLimitStore
	if redisClient != nil {
		rlStore = middleware.NewRedisRateLimitStore(redisClient, logger, metrics)
	} else {
		rlStore = middleware.NewInMemoryRateLimitStore()
	}

	// Handlers
	pinHandlers := api.NewPinHandlers(api.PinHandlersConfig{
		Pins:                pins,
		Devices:             devices,
		Ledger:              ledger,
		Sightings:           sightings,
		Cooldowns:           cooldowns,
		Filter:              content.NewDefaultFilter(),
		Notifier:            notify.NewLogSender(logger),
		Activity:            activity,
		Metrics:             metrics,
		Logger:              logger,
		DefaultRadiusMeters: cfg.DiscoveryRadiusMeters,
	})
	userHandlers := api.NewUserHandlers(pins, ledger, sightings, logger)
	statsHandlers := api.NewStatsHandlers(api.StatsHandlersConfig{
		Pins:                pins,
		Devices:             devices,
		Ledger:              ledger,
		Sightings:           sightings,
		Notifier:            notify.NewLogSender(logger),
		Activity:            activity,
		Metrics:             metrics,
		Logger:              logger,
		Environment:         cfg.Env,
		DefaultRadiusMeters: cfg.DiscoveryRadiusMeters,
		DefaultExpiryHours:  pin.DefaultDurationHours,
	})

	healthConfig := api.HealthHandlersConfig{}
	if db != nil {
		healthConfig.DBChecker = health.NewDBChecker(db)
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Routes
	mux := http.NewServeMux()

	rateLimit := func(cfg middleware.RateLimitConfig, next http.Handler) http.Handler {
		return next
	}
	if cfg.RateLimitEnabled {
		rateLimit = func(rlCfg middleware.RateLimitConfig, next http.Handler) http.Handler {
			return middleware.RateLimiter(rlStore, rlCfg, middleware.DeviceKeyFunc())(next)
		}
	}

	mux.Handle("POST /pin", rateLimit(middleware.DefaultCreatePinLimit(), http.HandlerFunc(pinHandlers.CreatePin)))
	mux.Handle("GET /discover", rateLimit(middleware.DefaultDiscoverLimit(), http.HandlerFunc(pinHandlers.Discover)))
	mux.HandleFunc("POST /pin/{id}/like", pinHandlers.LikePin)
	mux.HandleFunc("POST /pin/{id}/dislike", pinHandlers.DislikePin)
	mux.HandleFunc("POST /pin/{id}/report", pinHandlers.ReportPin)
	mux.HandleFunc("POST /pin/{id}/passby", pinHandlers.PassBy)
	mux.HandleFunc("GET /pin/{id}/stats", pinHandlers.PinStats)
	mux.HandleFunc("DELETE /pin/{id}", pinHandlers.DeletePin)

	mux.HandleFunc("POST /admin/cleanup", statsHandlers.Cleanup)
	mux.HandleFunc("GET /stats", statsHandlers.GlobalStats)
	mux.HandleFunc("GET /community/stats", statsHandlers.CommunityStats)

	mux.HandleFunc("GET /user/stats", userHandlers.UserStats)
	mux.HandleFunc("GET /user/created-pins", userHandlers.CreatedPins)
	mux.HandleFunc("GET /user/created-pins/search", userHandlers.SearchCreatedPins)
	mux.HandleFunc("GET /user/ghost-pins", userHandlers.GhostPins)

	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /health/fast", healthHandlers.HealthFast)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"` + serviceName + `","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS ->
	// Identity -> global rate limit
	var handler http.Handler = mux
	if cfg.RateLimitEnabled {
		handler = middleware.RateLimiter(rlStore, middleware.DefaultGlobalLimit(), middleware.DeviceKeyFunc())(handler)
	}
	handler = middleware.Identity(devices, logger)(handler)
	if cfg.Env == "development" {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
		logger.Warn("profiling endpoints enabled at /debug/pprof")
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedHeaders: []string{"Content-Type", "X-Request-ID", middleware.DeviceIDHeader, middleware.AuthKindHeader},
			MaxAge:         300,
		})(handler)
	}
	handler = middleware.HTTPMetrics(metrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	activity.LogSummary(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	logger.Info("server stopped")
}
