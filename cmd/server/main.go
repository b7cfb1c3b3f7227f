package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/tierd/tierd-go/internal/config"
	"github.com/tierd/tierd-go/internal/db"
	"github.com/tierd/tierd-go/internal/handler"
	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/metrics"
	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/realtime"
	"github.com/tierd/tierd-go/internal/repository"
	"github.com/tierd/tierd-go/internal/repository/memory"
	"github.com/tierd/tierd-go/internal/router"
	"github.com/tierd/tierd-go/internal/security"
	"github.com/tierd/tierd-go/internal/service"
)

// stores groups the persistence ports chosen by STORE_DRIVER.
type stores struct {
	ledger   service.Ledger
	counters service.CounterStore
	products service.ProductUpserter
	pool     *pgxpool.Pool
}

// openStores opens the configured driver. The memory store keeps vote history
// for retention, which must cover every window queried against it.
func openStores(ctx context.Context, cfg *config.Config, clock clockwork.Clock, retention time.Duration) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		m := memory.NewStore(clock, memory.WithEventRetention(retention))
		return &stores{ledger: m, counters: m, products: m}, nil
	case "", "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		products := repository.NewProductRepo(pool)
		return &stores{
			ledger:   repository.NewVoteRepo(pool),
			counters: products,
			products: products,
			pool:     pool,
		}, nil
	}
	return nil, errors.New("unknown store driver " + cfg.StoreDriver)
}

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, "tierd-go")
	log := logger.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewRealClock()

	params, err := service.LoadRankingParams(cfg.RankingConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load ranking parameters")
	}
	if cfg.RankingConfigPath == "" && cfg.RecentVoteWindow > 0 {
		params.RecentWindow = cfg.RecentVoteWindow
	}

	st, err := openStores(ctx, cfg, clock, max(cfg.AnonVoteWindow, params.RecentWindow))
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	catalog, err := service.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load catalog seed")
	}
	if err := service.SeedCatalog(ctx, st.products, catalog); err != nil {
		log.Fatal().Err(err).Msg("failed to seed catalog")
	}

	metrics.Register(st.pool)

	cacheTTL := cfg.RankingCacheTTL
	if !cfg.RankingCacheEnabled {
		cacheTTL = 0
	}
	board := service.NewCacheService(cfg.RedisURL, cacheTTL)
	defer board.Close()

	broker, err := realtime.NewBroker(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.BroadcastDriver).Msg("failed to connect broker")
	}
	hub := realtime.NewHub(0)
	dispatcher := realtime.NewDispatcher(broker, hub, cfg.BroadcastTimeout)
	go dispatcher.Run(ctx)

	rankings := service.NewRankingService(st.counters, service.NewRanker(params), board, cacheTTL, clock)
	agg := service.NewAggregateService(st.counters, rankings, dispatcher, cfg.ReconcileWorkers, clock)
	limiter := service.NewLimiter(st.ledger, cfg.AnonVoteLimit, cfg.AnonVoteWindow, clock)
	votes := service.NewVoteService(st.ledger, agg, limiter, rankings, dispatcher, clock)

	worker := service.NewReconcileWorker(agg, rankings, cfg.ReconcileInterval, clock)
	go worker.Start(ctx)

	var verifier middleware.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = security.NewHS256Verifier(cfg.JWTSecret)
	}
	voteThrottle := middleware.NewVoteThrottle(cfg.VoteThrottlePerMinute, clock)
	readThrottle := middleware.NewReadThrottle(cfg.ReadThrottlePerMinute, clock)
	go voteThrottle.RunSweeper(ctx, 5*time.Minute)
	go readThrottle.RunSweeper(ctx, 5*time.Minute)

	app := fiber.New(fiber.Config{
		AppName:      "tierd vote core",
		ServerHeader: "tierd",
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  60 * time.Second,
	})

	router.Setup(app, &router.Handlers{
		Vote:    handler.NewVoteHandler(votes, verifier == nil),
		Ranking: handler.NewRankingHandler(rankings),
		Admin:   handler.NewAdminHandler(agg),
		Stream:  handler.NewStreamHandler(hub, cfg.StreamHeartbeat),
		Sync:    handler.NewSyncHandler(service.NewSyncService(st.counters)),
		Health:  handler.NewHealthHandler(st.pool, board.Client(), broker.Name()),
	}, router.Options{
		CORSOrigins:  cfg.CORSOrigins,
		Verifier:     verifier,
		AdminToken:   cfg.AdminToken,
		VoteThrottle: voteThrottle,
		ReadThrottle: readThrottle,
	})

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Environment).
			Str("store", cfg.StoreDriver).
			Str("broadcast", broker.Name()).
			Msg("vote core starting")
		if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	// Closing the hub ends open SSE streams so the server can drain.
	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	cancel()
	worker.Stop()
	dispatcher.Flush()
	if err := broker.Close(); err != nil {
		log.Warn().Err(err).Msg("broker close")
	}
}
