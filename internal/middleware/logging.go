package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/pkg/hash"
)

// RouteLabel maps a request path to a bounded label: the path itself for a
// known route, "other" for anything else.
func RouteLabel(path string) string {
	switch path {
	case "/vote", "/vote/status", "/vote/remaining", "/vote/counts", "/vote/identity",
		"/vote/sync", "/vote/stream", "/rankings", "/admin/reconcile",
		"/health/live", "/health/ready", "/metrics":
		return path
	}
	return "other"
}

// NewRequestLogger returns a Fiber middleware that logs each request as
// structured JSON. Raw IPs are hashed and never written.
func NewRequestLogger() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		evt := logger.Logger.Info()
		if status >= 500 {
			evt = logger.Logger.Error()
		} else if status >= 400 {
			evt = logger.Logger.Warn()
		}

		evt.
			Str("method", c.Method()).
			Str("path", RouteLabel(c.Path())).
			Int("status", status).
			Dur("duration_ms", time.Since(start)).
			Str("ip_hash", hash.Prefix(c.IP(), 12)).
			Bool("authenticated", UserID(c) != "").
			Msg("request")

		return err
	}
}
