package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/tierd/tierd-go/internal/handler"
	"github.com/tierd/tierd-go/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Vote    *handler.VoteHandler
	Ranking *handler.RankingHandler
	Admin   *handler.AdminHandler
	Stream  *handler.StreamHandler
	Sync    *handler.SyncHandler
	Health  *handler.HealthHandler
}

// Options carries the request-edge settings.
type Options struct {
	CORSOrigins  string
	Verifier     middleware.TokenVerifier
	AdminToken   string
	VoteThrottle *middleware.Throttle
	ReadThrottle *middleware.Throttle
}

// Setup configures the middleware stack and all API routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, opts Options) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(handler.MetricsMiddleware())
	app.Use(middleware.NewCORS(opts.CORSOrigins))
	app.Use(middleware.OptionalAuth(opts.Verifier))
	app.Use(middleware.NewRequestLogger())

	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	app.Get("/metrics", handler.MetricsHandler())

	read := passthrough
	if opts.ReadThrottle != nil {
		read = opts.ReadThrottle.Handler()
	}
	write := passthrough
	if opts.VoteThrottle != nil {
		write = opts.VoteThrottle.Handler()
	}

	app.Post("/vote", write, h.Vote.Cast)
	vote := app.Group("/vote")
	vote.Post("/identity", write, h.Vote.Identity)
	vote.Get("/status", read, h.Vote.Status)
	vote.Get("/remaining", read, h.Vote.Remaining)
	vote.Get("/counts", read, h.Vote.Counts)
	vote.Get("/sync", read, h.Sync.Changes)
	vote.Get("/stream", h.Stream.Stream)

	app.Get("/rankings", read, h.Ranking.List)

	admin := app.Group("/admin", middleware.RequireAdmin(opts.AdminToken))
	admin.Post("/reconcile", h.Admin.Reconcile)
}

func passthrough(c fiber.Ctx) error { return c.Next() }
