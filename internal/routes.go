package internal

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "pocketwebanalytics/api/v1"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/http"
	"pocketwebanalytics/internal/http/middleware"
	"pocketwebanalytics/internal/metrics"
	"pocketwebanalytics/internal/users"
)

// publicCORSConfig is shared by the tracking endpoints, which are called
// from any site embedding the snippet.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// apiCORSConfig lets the dashboard call the JSON API with a bearer token.
var apiCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

func noContent(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	tokens, err := http.TokenManager()
	if err != nil {
		logger.Error("Failed to create token manager", slog.Any("error", err))
		panic(err)
	}

	// Rate limiting would interfere with tests, so it only applies in
	// production.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP covers a browsing visitor while blocking floods.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Brute force protection for login.
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Tracking: CORS first so rejections still carry CORS headers. The
	// global Sec-Fetch-Site middleware applies.
	countConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	snippetConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// The JSON API is token authenticated and used by scripts as well as
	// browsers, so Sec-Fetch-Site is not enforced.
	apiRoute := func(handlers ...fiber.Handler) *cartridge.RouteConfig {
		return &cartridge.RouteConfig{
			EnableCORS:         true,
			CORSConfig:         apiCORSConfig,
			EnableSecFetchSite: cartridge.Bool(false),
			CustomMiddleware:   handlers,
		}
	}

	requireToken := middleware.RequireToken(tokens)
	publicAPI := apiRoute()
	loginAPI := apiRoute(authRateLimiter)
	authedAPI := apiRoute(requireToken)
	adminAPI := apiRoute(requireToken, middleware.RequireRole(users.RoleAdmin))
	editorAPI := apiRoute(requireToken, middleware.RequireRole(users.RoleAdmin, users.RoleEditor))
	aggregationAPI := apiRoute(middleware.AggregationAPIKeyAuth(cfg.AggregationAPIKey, logger))

	// === OPERATIONAL ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)
	metricsHandler := adaptor.HTTPHandler(metrics.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	})

	// === TRACKING ===
	for _, path := range []string{"/count", "/api/count"} {
		srv.Get(path, v1.CountAction, countConfig)
		srv.Post(path, v1.CountAction, countConfig)
		srv.Options(path, noContent, countConfig)
	}
	srv.Get("/count.js", v1.SnippetAction, snippetConfig)

	srv.Get("/api/info", v1.InfoAction, publicAPI)
	srv.Post("/api/info", v1.InfoAction, publicAPI)

	// === AUTH ===
	srv.Post("/api/auth/login", http.LoginAction, loginAPI)
	srv.Post("/api/auth/register", http.RegisterAction, adminAPI)
	srv.Get("/api/auth/verify", http.VerifyAction, authedAPI)
	srv.Post("/api/auth/logout", http.LogoutAction, authedAPI)

	// === SITES ===
	srv.Get("/api/sites", http.SitesIndexAction, authedAPI)
	srv.Post("/api/sites", http.SiteCreateAction, adminAPI)
	srv.Get("/api/sites/:id", http.SiteShowAction, authedAPI)
	srv.Post("/api/sites/:id/settings", http.SiteSettingsUpdateAction, editorAPI)

	// === STATS & EXPORTS ===
	srv.Get("/api/stats", http.StatsIndexAction, authedAPI)
	srv.Get("/api/export", http.ExportsIndexAction, authedAPI)
	srv.Post("/api/export", http.ExportCreateAction, authedAPI)
	srv.Get("/api/export/:id/download", http.ExportDownloadAction, authedAPI)

	// === SETTINGS ===
	srv.Get("/api/settings", http.SettingsIndexAction, adminAPI)
	srv.Post("/api/settings", http.SettingsUpsertAction, adminAPI)

	// === AGGREGATION ===
	srv.Get("/api/aggregation", http.AggregationStatusAction, aggregationAPI)
	srv.Post("/api/aggregation", http.AggregationRunAction, aggregationAPI)
}
