package internal

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "scanly/api/v1"
	"scanly/internal/config"
	"scanly/internal/http"
	"scanly/internal/pkg/clientip"
	"scanly/internal/qrcodes"
	"scanly/internal/redirect"
	"scanly/internal/scans"
)

const redirectPathPrefix = "/r/"

// ServerDeps are the long-lived collaborators the HTTP server is built from.
type ServerDeps struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager cartridge.DBManager
	// Geo may be nil to disable enrichment.
	Geo redirect.GeoLookup
}

// NewServer builds the fiber app with every route mounted.
func NewServer(deps ServerDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               deps.Config.AppName,
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	MountAppRoutes(app, deps, newHandler(deps))
	return app
}

func newHandler(deps ServerDeps) *v1.Handler {
	db := deps.DBManager.GetConnection()
	qrRepo := qrcodes.NewRepository(db)
	scanRepo := scans.NewRepository(db, deps.Logger)
	recorder := scans.NewRecorder(scanRepo, deps.Logger)

	resolver := redirect.NewResolver(qrRepo, recorder, deps.Geo, deps.Logger, redirect.Options{
		FailOpen: deps.Config.ScanWriteFailOpen,
	})

	return v1.NewHandler(v1.Dependencies{
		Logger:     deps.Logger,
		Resolver:   resolver,
		QRCodes:    qrRepo,
		Scans:      scanRepo,
		Aggregator: scans.NewAggregator(scanRepo),
		Recorder:   recorder,
	})
}

// MountAppRoutes mounts middleware and routes on app
func MountAppRoutes(app *fiber.App, deps ServerDeps, h *v1.Handler) {
	cfg := deps.Config

	app.Use(recover.New(recover.Config{EnableStackTrace: cfg.IsDevelopment()}))
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if !cfg.IsTest() {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "${time} ${locals:requestid} ${status} - ${method} ${path} ${latency}\n",
			TimeFormat: time.RFC3339,
			Output:     os.Stdout,
		}))
	}

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(rateLimiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return rateLimiter(c)
			}
			return c.Next()
		}
	}

	apiRateLimiter := conditionalRateLimiter(limiter.New(limiter.Config{
		Max:          cfg.RateLimitMax,
		Expiration:   time.Minute,
		KeyGenerator: clientip.FromFiber,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests",
				"code":  "RATE_LIMITED",
			})
		},
	}))

	apiCORS := cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	})

	// === REDIRECT ===
	app.Get(redirectPathPrefix+":shortCode", h.RedirectHandler)

	// === SCANS API ===
	api := app.Group("/api", apiCORS, apiRateLimiter)
	api.Get("/scans", h.GetScansHandler)
	api.Post("/scans", h.CreateScanHandler)

	// === OPERATIONS ===
	health := http.HealthIndexAction(deps.DBManager, deps.Logger)
	app.Get("/_health", health)
	app.Head("/_health", health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// errorHandler answers unmatched routes and recovered panics: plain text on
// the redirect path, JSON elsewhere.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("Unhandled request error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err))
		}

		if strings.HasPrefix(c.Path(), redirectPathPrefix) || c.Path() == "/r" {
			if code == fiber.StatusNotFound {
				message = "QR Code not found"
			}
			c.Type("txt", "utf-8")
			return c.Status(code).SendString(message)
		}

		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}
