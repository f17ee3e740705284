// Package main is the entrypoint for the ScanPulse API server.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/cache"
	"github.com/scanpulse/scanpulse/internal/config"
	"github.com/scanpulse/scanpulse/internal/geo"
	"github.com/scanpulse/scanpulse/internal/handler"
	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/middleware"
	"github.com/scanpulse/scanpulse/internal/recorder"
	"github.com/scanpulse/scanpulse/internal/repository"
	"github.com/scanpulse/scanpulse/internal/resolver"
	"github.com/scanpulse/scanpulse/internal/server"
	"github.com/scanpulse/scanpulse/internal/service"
	"github.com/scanpulse/scanpulse/internal/store/memory"
)

// store is every port the application reads or writes through. Both the
// postgres repository and the memory store satisfy it.
type store interface {
	service.Store
	resolver.QrCodeStore
	recorder.ScanStore
	aggregation.Source
	aggregation.ScopeStore
	handler.HealthChecker
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := initLogger(cfg)
	defer logCloser.Close()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsRecorder := metrics.NewPrometheus(registry)

	// Storage
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}

	// Cache. Each consumer gets a nil interface when Redis is not configured.
	var (
		cacheClient *cache.Cache
		lookupCache resolver.Cache
		invalidator service.CacheInvalidator
		limiter     middleware.ScanLimiter
		cacheHealth handler.HealthChecker
	)
	closeCache := func() error { return nil }
	if cfg.UsesRedis() {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			closeStore()
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return errors.New("redis unavailable")
		}
		logger.Info("connected to Redis")
		lookupCache, invalidator, limiter, cacheHealth = cacheClient, cacheClient, cacheClient, cacheClient
		closeCache = cacheClient.Close
	}

	// Geolocation
	provider, stopGeo, err := openGeoProvider(cfg, logger)
	if err != nil {
		closeStore()
		_ = closeCache()
		return err
	}
	locator := geo.NewGuard(provider, cfg.GeoTimeout, logger, metricsRecorder)

	// Scan recording
	rec := recorder.New(st, locator, logger, metricsRecorder)
	var dispatcher recorder.Dispatcher
	var worker *recorder.StreamWorker
	switch cfg.ScanDispatch {
	case config.DispatchStream:
		dispatcher = recorder.NewStreamPublisher(cacheClient.Client(), logger, metricsRecorder)
		if cfg.ScanWorkerEnabled {
			worker = recorder.NewStreamWorker(cacheClient.Client(), rec, logger, recorder.NewConsumerID(), metricsRecorder)
		}
	default:
		dispatcher = recorder.NewDetached(rec, cfg.ScanRecordTimeout, cfg.ScanMaxInflight, logger, metricsRecorder)
	}

	// Services
	res := resolver.New(st, lookupCache, dispatcher, resolver.Config{
		BaseURL:       cfg.BaseURL,
		PendingPolicy: resolver.PendingPolicy(cfg.PendingPolicy),
	}, logger, metricsRecorder)

	qrService := service.NewQrCodeService(st, invalidator, cfg.BaseURL, logger, metricsRecorder)
	if err := qrService.WarmCodes(ctx); err != nil {
		logger.Warn("failed to warm code filter", "error", err)
	}

	engine := aggregation.New(st, logger)
	scopes := aggregation.NewScopeResolver(st)

	if cfg.SigningSecret() == config.DevJWTSecret {
		logger.Warn("JWT_SECRET not set, using the development signing secret")
	}
	verifier := auth.NewVerifier(cfg.SigningSecret(), cfg.JWTIssuer)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	routerCfg := handler.RouterConfig{
		Logger:   logger,
		Verifier: verifier,
		RateLimit: middleware.RateLimitConfig{
			Logger:  logger,
			Limiter: limiter,
			Enabled: cfg.RateLimitRedirectEnabled,
			RPS:     cfg.RateLimitRedirectRPS,
			Burst:   cfg.RateLimitRedirectBurst,
		},
		Security:      middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()},
		CORS:          corsCfg,
		MaxBodyBytes:  cfg.MaxRequestBodySize,
		VerbosePanics: cfg.IsDevelopment(),
		Health:        handler.NewHealthHandler(st, cacheHealth),
		Redirect:      handler.NewRedirectHandler(res, logger),
		QrCodes:       handler.NewQrCodeHandler(qrService, logger),
		Profiles:      handler.NewProfileHandler(qrService, logger),
		Analytics:     handler.NewAnalyticsHandler(scopes, engine, logger),
	}
	if cfg.MetricsEnabled {
		routerCfg.HTTPMetrics = middleware.NewHTTPMetrics(registry)
		routerCfg.Metrics = handler.NewMetricsHandler(registry)
	}

	srv := server.New(handler.NewRouter(routerCfg), srvCfg, logger)

	// Registered first, stopped last.
	srv.OnShutdown("store", func(context.Context) error {
		closeStore()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error { return closeCache() })
	srv.OnShutdown("geo", stopGeo)
	srv.OnShutdown("scan dispatcher", dispatcher.Shutdown)
	if worker != nil {
		srv.Background("scan worker", worker.Run)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"storage", cfg.StorageDriver,
		"scan_dispatch", cfg.ScanDispatch,
		"geo_provider", cfg.GeoProvider,
	)

	return srv.Run(ctx)
}

// openStore connects the configured storage driver, migrating postgres
// first when AUTO_MIGRATE is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := repository.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error(
				"failed to migrate database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			return nil, nil, errors.New("database migration failed")
		}
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return nil, nil, errors.New("database unavailable")
	}
	logger.Info("connected to database")
	return repo, repo.Close, nil
}

// openGeoProvider builds the configured provider and its shutdown hook.
func openGeoProvider(cfg *config.Config, logger *slog.Logger) (geo.Provider, server.ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.GeoProvider {
	case config.GeoMaxMind:
		provider, err := geo.OpenMaxMind(cfg.GeoIPDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.GeoIPReloadCron == "" {
			return provider, func(context.Context) error { return provider.Close() }, nil
		}
		scheduler, err := provider.ScheduleReload(cfg.GeoIPReloadCron)
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		logger.Info("geoip reload scheduled", "schedule", cfg.GeoIPReloadCron)
		return provider, func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			return provider.Close()
		}, nil

	case config.GeoHTTP:
		return geo.NewHTTPProvider(cfg.GeoHTTPURL, cfg.GeoTimeout), noop, nil

	default:
		return geo.NoopProvider{}, noop, nil
	}
}

// initLogger initializes the slog logger based on configuration. With
// LOG_FILE set, records also go to a size-rotated file.
func initLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
