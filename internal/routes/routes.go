package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Handlers bundles every HTTP handler the route table mounts.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Health       *handlers.HealthHandler
	Webhook      *handlers.WebhookHandler
	Moderation   *handlers.ModerationHandler
	Legal        *handlers.LegalHandler
	Config       *handlers.RemoteConfigHandler
	Toilet       *handlers.ToiletHandler
	Credit       *handlers.CreditHandler
	Notification *handlers.NotificationHandler
	Device       *handlers.DeviceHandler
}

func Setup(app *fiber.App, cfg *config.Config, users middleware.UserGetter, h Handlers) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)
	api.Get("/config", h.Config.GetConfig)
	api.Get("/legal/privacy", h.Legal.PrivacyPolicy)
	api.Get("/legal/terms", h.Legal.TermsOfService)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/logout", h.Auth.Logout)

	// Ad network callback, HMAC-signed (no JWT)
	api.Post("/webhooks/ads", h.Webhook.HandleAdCompletion)

	// Protected groups get their own prefixes so public routes and unknown
	// paths never run the JWT middleware.
	protect := []fiber.Handler{middleware.JWTProtected(cfg), middleware.LoadUser(users)}

	me := api.Group("/me", protect...)
	me.Get("/", h.Auth.Me)
	me.Put("/push", h.Auth.UpdatePushSettings)
	me.Delete("/", h.Auth.Withdraw)
	me.Get("/credits", h.Credit.Balance)
	me.Get("/credits/history", h.Credit.History)

	toilets := api.Group("/toilets", protect...)
	toilets.Get("/nearby", h.Toilet.Nearby)
	toilets.Post("/", h.Toilet.Create)
	toilets.Get("/:id", h.Toilet.Get)
	toilets.Put("/:id", h.Toilet.Update)
	toilets.Delete("/:id", h.Toilet.Delete)
	toilets.Post("/:id/unlock", h.Toilet.Unlock)
	toilets.Get("/:id/secret", h.Toilet.Secret)
	toilets.Get("/:id/reviews", h.Toilet.ListReviews)
	toilets.Post("/:id/reviews", h.Toilet.SubmitReview)
	toilets.Post("/:id/reports", h.Toilet.SubmitReport)

	reviews := api.Group("/reviews", protect...)
	reviews.Delete("/:id", h.Toilet.DeleteReview)
	reviews.Post("/:id/ad-reward", h.Toilet.ReviewAdReward)

	ads := api.Group("/ads", protect...)
	ads.Post("/credit", h.Toilet.CreditAd)

	notifications := api.Group("/notifications", protect...)
	notifications.Get("/", h.Notification.List)
	notifications.Put("/read-all", h.Notification.MarkAllRead)
	notifications.Put("/:id/read", h.Notification.MarkRead)

	devices := api.Group("/devices", protect...)
	devices.Post("/:install/position", h.Device.ReportPosition)
	devices.Post("/:install/configure", h.Device.Configure)
	devices.Post("/:install/detail-view", h.Device.DetailView)
	devices.Post("/:install/wake", h.Device.Wake)

	admin := api.Group("/admin", append(protect, middleware.AdminRequired(cfg))...)
	admin.Post("/credits/adjust", h.Moderation.AdjustCredits)
	admin.Get("/credits/reconcile/:user", h.Moderation.Reconcile)
	admin.Get("/reports", h.Moderation.ListReports)
	admin.Put("/reports/:id/approve", h.Moderation.ApproveReport)
	admin.Put("/reports/:id/dismiss", h.Moderation.DismissReport)
	admin.Put("/reports/:id/owner-request", h.Moderation.ResolveOwnerRequest)
	admin.Delete("/reviews/:id", h.Moderation.DeleteReview)
	admin.Put("/users/:id/ban", h.Moderation.BanUser)
	admin.Put("/settings/:key", h.Config.SetConfigKey)
	admin.Put("/policy", h.Config.UpdatePolicy)
}
