package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	broker  string
	startAt time.Time
}

// NewHealthHandler builds the probe handler. pool is nil under the memory
// store and rdb is nil when the leaderboard cache is disabled.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, broker string) *HealthHandler {
	return &HealthHandler{
		pool:    pool,
		rdb:     rdb,
		broker:  broker,
		startAt: time.Now(),
	}
}

// Live handles GET /health/live
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready. The database is required; Redis only
// degrades caching, so its failure is reported without failing the probe.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	db := checkDB(ctx, h.pool)
	cache := checkRedis(ctx, h.rdb)

	overall := "healthy"
	if db["status"] == "down" {
		overall = "unhealthy"
	} else if cache["status"] == "down" {
		overall = "degraded"
	}

	status := fiber.StatusOK
	if overall == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database":  db,
			"redis":     cache,
			"broadcast": fiber.Map{"driver": h.broker},
		},
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
	})
}

func checkDB(ctx context.Context, pool *pgxpool.Pool) fiber.Map {
	if pool == nil {
		return fiber.Map{"status": "memory"}
	}
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return fiber.Map{"status": "down", "latency_ms": latency, "error": "connection failed"}
	}
	return fiber.Map{"status": "up", "latency_ms": latency}
}

func checkRedis(ctx context.Context, rdb *redis.Client) fiber.Map {
	if rdb == nil {
		return fiber.Map{"status": "disabled"}
	}
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return fiber.Map{"status": "down", "latency_ms": latency, "error": "connection failed"}
	}
	return fiber.Map{"status": "up", "latency_ms": latency}
}
