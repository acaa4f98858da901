package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/api"
	"github.com/tundeakins/ajopool/internal/circuitbreaker"
	"github.com/tundeakins/ajopool/internal/config"
	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/engine"
	"github.com/tundeakins/ajopool/internal/metrics"
	"github.com/tundeakins/ajopool/internal/notify"
	"github.com/tundeakins/ajopool/internal/observ"
	"github.com/tundeakins/ajopool/internal/redis"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ajopool notification engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repositories
	poolRepo := db.NewPoolRepository(database, logger)
	scheduleRepo := db.NewScheduleRepository(database, logger)
	prefRepo := db.NewPreferenceRepository(database, logger)
	ledgerRepo := db.NewLedgerRepository(database, logger)
	inAppRepo := db.NewInAppRepository(database, logger)

	// Redis backs API rate limiting and is optional
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client
		})
		defer redisClient.Close()
	}

	// Channel drivers. SES and SNS degrade to always-failing drivers when
	// unconfigured so their failures land in the ledger instead of
	// crashing startup.
	emailDriver, err := notify.NewSESDriver(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email driver: %w", err)
	}

	smsDriver, err := notify.NewSNSDriver(ctx, notify.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SNS sms driver: %w", err)
	}

	// SES dispatch goes through a circuit breaker so a provider outage
	// trips fast instead of burning the timeout on every reminder.
	emailBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("ses-email"), logger)
	protectedEmail := circuitbreaker.NewProtectedDriver(emailDriver, emailBreaker, logger)

	drivers := notify.NewDriverSet(logger,
		protectedEmail,
		smsDriver,
		notify.NewInAppDriver(inAppRepo, logger),
		notify.NewPushDriver(),
	)

	logger.Info("channel drivers initialized",
		zap.Bool("email_configured", cfg.SESFromEmail != ""),
		zap.Bool("sms_configured", cfg.SNSRegion != ""),
	)

	// Engine
	dispatchTimeout := time.Duration(cfg.DispatchTimeoutSeconds) * time.Second
	sched := scheduler.New(poolRepo, scheduleRepo, prefRepo, ledgerRepo, logger)
	sender := notify.NewSender(ledgerRepo, drivers, dispatchTimeout, logger)
	sweeper := notify.NewSweeper(ledgerRepo, poolRepo, drivers, dispatchTimeout, logger)
	eng := engine.New(sched, sender, sweeper, engine.Config{
		Lookahead:   time.Duration(cfg.LookaheadHours) * time.Hour,
		MaxRetries:  cfg.MaxRetries,
		RetryMaxAge: time.Duration(cfg.RetryMaxAgeHours) * time.Hour,
	}, logger)

	// Optional in-process trigger for deployments without an external cron
	if cfg.CronSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.CronSchedule, func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := eng.Run(runCtx, time.Now().UTC()); err != nil {
				logger.Error("scheduled invocation failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid CRON_SCHEDULE %q: %w", cfg.CronSchedule, err)
		}
		c.Start()
		defer c.Stop()
		logger.Info("in-process trigger started", zap.String("schedule", cfg.CronSchedule))
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, eng, scheduleRepo, prefRepo, ledgerRepo, poolRepo, sender)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/cron", func(r chi.Router) {
			r.Use(api.CronAuthMiddleware(cfg.CronSecret, cfg.Env, logger))
			r.Get("/notifications", handler.TriggerNotifications)
			r.Post("/notifications", handler.TriggerNotifications)
		})

		r.Group(func(r chi.Router) {
			// Apply rate limiting to the management routes
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

			r.Post("/pools/{poolID}/schedules", handler.CreateSchedule)
			r.Post("/pools/{poolID}/schedules/defaults", handler.CreateDefaultSchedules)
			r.Get("/pools/{poolID}/schedules", handler.ListSchedules)
			r.Patch("/schedules/{id}", handler.UpdateSchedule)
			r.Post("/schedules/{id}/deactivate", handler.DeactivateSchedule)

			r.Get("/users/{userID}/preferences", handler.GetPreferences)
			r.Put("/users/{userID}/preferences", handler.PutPreferences)

			r.Post("/pools/{poolID}/announce", handler.Announce)
			r.Get("/pools/{poolID}/deliveries", handler.ListDeliveries)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
