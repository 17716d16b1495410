package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/redis/go-redis/v9"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/device"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/push"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	stdout := logging.Setup(os.Stdout, slog.LevelInfo)

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}
	loc := cfg.Location()

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(stdout, pgLogHandler)))

	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetention, cleanupDone)

	// Redis backs unlock grants, ad sessions and device state. Without
	// REDIS_ADDR everything stays in process memory.
	var redisClient *redis.Client
	var grants services.GrantStore = services.NewMemoryGrantStore()
	var adSessions services.AdSessionStore = services.NewMemoryAdSessionStore()
	if cfg.RedisAddr != "" {
		client, err := database.NewRedisClient(context.Background(), cfg)
		if err != nil {
			slog.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		redisClient = client
		grants = services.NewRedisGrantStore(client)
		adSessions = services.NewRedisAdSessionStore(client)
		slog.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		slog.Warn("REDIS_ADDR not set, using in-memory stores")
	}

	// Push delivery
	var channel push.Channel = push.LogChannel{}
	if cfg.PushEndpoint != "" {
		channel = push.NewHTTPGateway(cfg.PushEndpoint, cfg.PushAPIKey, cfg.PushTimeout)
	}

	// Services
	settings := services.NewSettingsService(database.DB)
	if err := settings.SeedDefaults(context.Background()); err != nil {
		slog.Error("seeding settings failed", "error", err)
		os.Exit(1)
	}
	policy := services.NewPolicyService(settings)
	notifier := services.NewNotificationService(database.DB, channel, loc)
	ledger := services.NewLedger(database.DB, notifier, settings)
	activity := services.NewActivityService(database.DB, ledger, policy, settings, notifier)
	guard := abuse.NewGuard(abuse.DefaultLimits())
	ads := services.NewAdService(adSessions, cfg.AdSessionTTL, ledger, policy)
	toilets := services.NewToiletService(database.DB, ledger, policy, notifier, activity)
	reviews := services.NewReviewService(database.DB, guard, ledger, policy, settings, notifier, activity, ads, loc)
	reports := services.NewReportService(database.DB, guard, ledger, policy, settings, notifier, activity, toilets, loc)
	unlocks := services.NewUnlockService(database.DB, ledger, policy, grants, ads, cfg.UnlockTTL, cfg.UnlockLockTimeout)
	authService := services.NewAuthService(database.DB, cfg, ledger, policy, activity)

	// Reminder engine, hosted per install
	reminderCfg := reminder.DefaultConfig()
	reminderCfg.WakeInterval = cfg.WakeInterval
	reminderCfg.Location = loc

	hub := device.NewNotificationHub(loc, device.RecordDeliverer{Notifier: notifier})
	host := device.NewCronHost(loc, cfg.PositionTimeoutBackground+5*time.Second)
	registry := device.NewRegistry(device.RegistryDeps{
		Hub:       hub,
		Host:      host,
		Positions: device.NewPositionCache(cfg.PositionMaxAge, cfg.PositionTimeoutForeground, cfg.PositionTimeoutBackground),
		Redis:     redisClient,
		Content:   toilets,
		Messages:  settings,
		Toilets:   toilets,
		Reviews:   reviews,
		Config:    reminderCfg,
	})
	reviews.SetReminderCanceller(registry)

	if _, err := host.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := notifier.DeleteExpired(ctx); err != nil {
			slog.Error("notification cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("notification cleanup completed", "deleted", n)
		}
	}); err != nil {
		slog.Error("failed to schedule notification cleanup", "error", err)
		os.Exit(1)
	}
	hub.Start()
	host.Start()

	// Handlers
	h := routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService),
		Health:       handlers.NewHealthHandler(database.Ping, redisClient),
		Webhook:      handlers.NewWebhookHandler(ads, cfg.AdCallbackSecret),
		Moderation:   handlers.NewModerationHandler(reports, reviews, authService, ledger),
		Legal:        handlers.NewLegalHandler(settings),
		Config:       handlers.NewRemoteConfigHandler(settings, policy),
		Toilet:       handlers.NewToiletHandler(toilets, reviews, reports, unlocks, ads),
		Credit:       handlers.NewCreditHandler(ledger),
		Notification: handlers.NewNotificationHandler(notifier),
		Device:       handlers.NewDeviceHandler(registry),
	}

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	routes.Setup(app, cfg, authService, h)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := host.Stop(stopCtx); err != nil {
		slog.Error("background host did not stop in time", "error", err)
	}
	if err := hub.Stop(stopCtx); err != nil {
		slog.Error("notification hub did not stop in time", "error", err)
	}

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
