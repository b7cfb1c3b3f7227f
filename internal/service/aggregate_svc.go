package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/metrics"
	"github.com/tierd/tierd-go/internal/model"
)

const defaultReconcileWorkers = 4

// AggregateService keeps the per-product counters in line with the ledger.
type AggregateService struct {
	counters CounterStore
	rankings *RankingService
	pub      Publisher
	workers  int
	clock    clockwork.Clock
	log      zerolog.Logger
}

func NewAggregateService(counters CounterStore, rankings *RankingService, pub Publisher, workers int, clock clockwork.Clock) *AggregateService {
	if pub == nil {
		pub = nopPublisher{}
	}
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AggregateService{
		counters: counters,
		rankings: rankings,
		pub:      pub,
		workers:  workers,
		clock:    clock,
		log:      logger.Component("aggregator"),
	}
}

// ApplyDelta adjusts the counters for one ledger transition.
func (s *AggregateService) ApplyDelta(ctx context.Context, productID string, previous, next model.Direction) (model.ProductVoteCounts, error) {
	return s.counters.ApplyDelta(ctx, productID, previous, next)
}

// Counts returns the stored counters for a product.
func (s *AggregateService) Counts(ctx context.Context, productID string) (model.ProductVoteCounts, error) {
	return s.counters.Counts(ctx, productID)
}

// Reconcile recounts one product from the ledger. A correction is logged,
// invalidates the product's ranking and is broadcast like a vote.
func (s *AggregateService) Reconcile(ctx context.Context, productID string) (model.ReconcileResult, error) {
	res, err := s.counters.Reconcile(ctx, productID)
	if err != nil {
		return res, err
	}
	if !res.Corrected {
		return res, nil
	}

	metrics.ReconcileCorrections.Inc()
	s.log.Warn().
		Str("product_id", productID).
		Int("stored_upvotes", res.StoredUpvotes).
		Int("stored_downvotes", res.StoredDownvotes).
		Int("upvotes", res.Upvotes).
		Int("downvotes", res.Downvotes).
		Int64("version", res.Version).
		Msg("counter drift corrected")

	if s.rankings != nil {
		s.rankings.Invalidate(ctx, productID)
	}
	s.pub.Publish(model.DeltaFromCounts(res.Counts(), s.clock.Now()))
	return res, nil
}

// ReconcileAll reconciles every product on a bounded worker pool. Per-product
// failures are logged and left out of the report; a cancelled context aborts
// the run.
func (s *AggregateService) ReconcileAll(ctx context.Context) (model.ReconcileReport, error) {
	start := s.clock.Now()

	ids, err := s.counters.ListProductIDs(ctx)
	if err != nil {
		return model.ReconcileReport{}, fmt.Errorf("list products: %w", err)
	}

	pool := pond.NewPool(s.workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	var mu sync.Mutex
	report := model.ReconcileReport{Details: make([]model.ReconcileResult, 0, len(ids))}
	results := make([]*model.ReconcileResult, len(ids))

	group := pool.NewGroup()
	for i, id := range ids {
		group.Submit(func() {
			res, err := s.Reconcile(ctx, id)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Str("product_id", id).Msg("reconcile failed")
				}
				return
			}
			mu.Lock()
			results[i] = &res
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		report.Checked++
		if r.Corrected {
			report.Corrected++
		}
		report.Details = append(report.Details, *r)
	}

	metrics.ReconcileDuration.Observe(s.clock.Since(start).Seconds())
	return report, nil
}
