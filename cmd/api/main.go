package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/background"
	"github.com/BradenHooton/facegate/internal/config"
	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/events"
	"github.com/BradenHooton/facegate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/facegate/internal/middleware"
	"github.com/BradenHooton/facegate/internal/provider"
	"github.com/BradenHooton/facegate/internal/repositories"
	"github.com/BradenHooton/facegate/internal/routes"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	strategies, err := config.LoadStrategies(cfg.Policy.StrategiesFile)
	if err != nil {
		logger.Error("failed to load verification strategies", slog.String("path", cfg.Policy.StrategiesFile), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("verification strategies loaded", slog.Any("business_types", strategies.BusinessTypes()))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("failed to register database pool metrics", slog.Any("error", err))
	}

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := database.Migrate(migrateCtx, db.Pool); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Provider token cache, shared across replicas when Redis is configured
	var (
		tokenStore  provider.TokenStore
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		tokenStore = provider.NewRedisTokenStore(redisClient, cfg.Redis.Namespace)
		logger.Info("provider token cache backed by redis", slog.String("addr", cfg.Redis.Addr))
	}

	providerClient := provider.NewHTTPClient(provider.HTTPConfig{
		BaseURL:        cfg.Provider.BaseURL,
		TokenURL:       cfg.Provider.TokenURL,
		APIKey:         cfg.Provider.APIKey,
		SecretKey:      cfg.Provider.SecretKey,
		RequestTimeout: cfg.Provider.RequestTimeout,
		Retry: provider.RetryPolicy{
			MaxAttempts: cfg.Provider.MaxAttempts,
			BaseDelay:   cfg.Provider.RetryBaseDelay,
			MaxDelay:    cfg.Provider.RetryMaxDelay,
		},
		TokenExpirySkew:     cfg.Provider.TokenExpirySkew,
		TokenRefreshTimeout: cfg.Provider.TokenRefreshTimeout,
	}, tokenStore, logger)
	if !providerClient.IsConfigValid() {
		logger.Warn("face provider is not configured; face operations will fail")
	}

	// Initialize repositories
	profileRepo := repositories.NewFaceProfileRepository(db)
	recordRepo := repositories.NewVerificationRecordRepository(db)
	opLogRepo := repositories.NewOperationLogRepository(db)

	// Initialize services
	opLogService := services.NewOperationLogService(opLogRepo, logger)
	faceService := services.NewFaceService(profileRepo, providerClient, opLogService, services.FaceServiceConfig{
		GroupID:        cfg.Provider.GroupID,
		ProfileTTL:     cfg.Face.ProfileTTL,
		MatchThreshold: cfg.Face.MatchThreshold,
		DuplicateCheck: cfg.Face.DuplicateCheck,
		RecollectMode:  cfg.Face.RecollectMode,
		Image: provider.ImageLimits{
			MinWidth:     cfg.Face.MinWidth,
			MinHeight:    cfg.Face.MinHeight,
			MaxBytes:     cfg.Face.MaxImageBytes,
			MaxDimension: cfg.Face.MaxImageDimension,
		},
		MinConfidence:     cfg.Face.MinConfidence,
		MaxBlur:           cfg.Face.MaxBlur,
		MinIllumination:   cfg.Face.MinIllumination,
		MaxOcclusion:      cfg.Face.MaxOcclusion,
		MinCompleteness:   cfg.Face.MinCompleteness,
		LivenessControl:   provider.LivenessControl(cfg.Face.LivenessControl),
		LivenessThreshold: cfg.Face.LivenessThreshold,
		SweepConcurrency:  cfg.Face.SweepConcurrency,
		SweepPageSize:     cfg.Face.SweepPageSize,
	}, logger)

	historyTracker := services.NewHistoryTracker(recordRepo)
	decisionService := services.NewDecisionService(strategies, historyTracker, faceService, logger)

	var completion services.CompletionHandler = events.NewLogCompletionHandler(logger)
	var kafkaHandler *events.KafkaCompletionHandler
	if cfg.Kafka.Enabled() {
		writer := events.NewKafkaWriter(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		kafkaHandler = events.NewKafkaCompletionHandler(writer, logger)
		completion = kafkaHandler
		logger.Info("publishing verification completions to kafka", slog.String("topic", cfg.Kafka.Topic))
	}

	verificationService := services.NewVerificationService(decisionService, faceService, providerClient, recordRepo, completion, services.VerificationConfig{
		MatchThreshold: cfg.Face.MatchThreshold,
		CompareTimeout: cfg.Face.CompareTimeout,
	}, logger)

	// Background expiry sweep and operation log retention
	expiryManager := background.NewExpiryManager(faceService, opLogService, background.ExpiryConfig{
		Interval:     cfg.Face.SweepInterval,
		RunTimeout:   cfg.Cleanup.RunTimeout,
		LogRetention: cfg.Cleanup.OperationLogRetention,
	}, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)

	// Initialize handlers; inline images arrive base64-encoded, so allow for the expansion
	maxBody := int64(cfg.Face.MaxImageBytes)*4/3 + 64<<10
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}
	verificationHandler := handlers.NewVerificationHandler(decisionService, verificationService, maxBody, logger)
	faceHandler := handlers.NewFaceHandler(faceService, ipConfig, maxBody, logger)
	adminHandler := handlers.NewAdminHandler(faceService, opLogService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, verificationHandler, faceHandler, adminHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.RateLimitRPM})

	// Unauthenticated probes are limited per client IP
	probeLimit := middlewareCustom.RateLimitByIP(middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.RateLimitRPM})
	router.With(probeLimit).Handle("/metrics", promhttp.Handler())

	// Health check with database
	router.With(probeLimit).Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up"}
		code := http.StatusOK
		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				// the token cache degrades to in-process, so this is not fatal
				status["redis"] = "down"
			}
		}
		if !providerClient.IsConfigValid() {
			status["provider"] = "unconfigured"
		}

		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start expiry task
	expiryCtx, expiryCancel := context.WithCancel(context.Background())
	defer expiryCancel()

	go expiryManager.Start(expiryCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	expiryCancel()
	expiryManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	if kafkaHandler != nil {
		if err := kafkaHandler.Close(); err != nil {
			logger.Error("failed to close kafka writer", slog.Any("error", err))
		}
	}

	logger.Info("server stopped gracefully")
}
