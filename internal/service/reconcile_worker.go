package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
)

const DefaultReconcileInterval = 5 * time.Minute

// ReconcileWorker periodically recounts every product from the ledger and
// flushes the ranking caches. It never blocks voting.
type ReconcileWorker struct {
	agg      *AggregateService
	rankings *RankingService
	interval time.Duration
	clock    clockwork.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

func NewReconcileWorker(agg *AggregateService, rankings *RankingService, interval time.Duration, clock clockwork.Clock) *ReconcileWorker {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReconcileWorker{
		agg:      agg,
		rankings: rankings,
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
		log:      logger.Component("reconcile-worker"),
	}
}

// Start runs one sweep immediately, then one every interval, until ctx is
// cancelled or Stop is called.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("starting")

	w.tick(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			w.tick(ctx)
		case <-ctx.Done():
			w.log.Info().Msg("stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.log.Info().Msg("stopping (stop signal)")
			return
		}
	}
}

func (w *ReconcileWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *ReconcileWorker) tick(ctx context.Context) {
	start := w.clock.Now()

	report, err := w.agg.ReconcileAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if w.rankings != nil {
		w.rankings.InvalidateAll(ctx)
	}

	w.log.Info().
		Int("checked", report.Checked).
		Int("corrected", report.Corrected).
		Dur("elapsed", w.clock.Since(start)).
		Msg("sweep complete")
}
