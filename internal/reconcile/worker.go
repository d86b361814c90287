package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

const (
	defaultPollInterval = time.Minute
	defaultStaleAfter   = 15 * time.Minute
	defaultBatchSize    = 50
)

// WorkerParams configure the stale-intent poller.
type WorkerParams struct {
	Engine       *Engine
	Ledger       ledger.Repository
	Events       webhooks.Store
	Logger       *logger.Logger
	PollInterval time.Duration
	StaleAfter   time.Duration
	BatchSize    int
	Now          func() time.Time
}

// Worker periodically re-syncs ledger entries that stopped receiving webhook
// deliveries and re-drives recorded events whose apply never completed.
// Webhooks are the primary path; polling is the backstop for lost or
// long-delayed deliveries, and for deliveries that were acknowledged but
// failed to apply.
type Worker struct {
	engine     *Engine
	ledger     ledger.Repository
	events     webhooks.Store
	logg       *logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

// NewWorker builds a reconcile worker.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("webhook store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		engine:     params.Engine,
		ledger:     params.Ledger,
		events:     params.Events,
		logg:       params.Logger,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		now:        now,
	}, nil
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.RunCycle(ctx); err != nil {
		w.logg.Error(ctx, "reconcile cycle failed", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "reconcile worker context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil {
				w.logg.Error(ctx, "reconcile cycle failed", err)
			}
		}
	}
}

// RunCycle syncs one batch of stale non-terminal entries, then re-drives one
// batch of acknowledged-but-unapplied events. Per-entry failures are
// aggregated so one bad record cannot starve the rest of the batch.
func (w *Worker) RunCycle(ctx context.Context) error {
	cutoff := w.now().UTC().Add(-w.staleAfter)
	return multierr.Append(
		w.syncStaleEntries(ctx, cutoff),
		w.redriveUnprocessedEvents(ctx, cutoff),
	)
}

func (w *Worker) syncStaleEntries(ctx context.Context, cutoff time.Time) error {
	stale, err := w.ledger.ListStaleNonTerminal(ctx, cutoff, w.batchSize)
	if err != nil {
		return fmt.Errorf("list stale entries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	applied := 0
	for i := range stale {
		payment := &stale[i]
		entryCtx := w.logg.WithPaymentID(ctx, payment.ID.String())
		result, err := w.engine.SyncIntent(entryCtx, payment)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", payment.ID, err))
			continue
		}
		if result.Applied {
			applied++
		}
	}

	w.logg.Info(ctx, fmt.Sprintf("reconcile cycle synced %d stale entries, %d advanced", len(stale), applied))
	return errs
}

// redriveUnprocessedEvents re-applies recorded deliveries that were
// acknowledged but never got a processing verdict. Refund events have no
// intent poller, so this is their only recovery path when the provider stops
// resending.
func (w *Worker) redriveUnprocessedEvents(ctx context.Context, cutoff time.Time) error {
	stuck, err := w.events.ListUnprocessed(ctx, cutoff, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed events: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	var errs error
	applied := 0
	for _, record := range stuck {
		entryCtx := w.logg.WithProviderEventID(ctx, record.ProviderEventID)
		result, err := w.engine.ApplyEvent(entryCtx, record.ID, record.Payload)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply event %s: %w", record.ProviderEventID, err))
			continue
		}
		if result.Applied {
			applied++
		}
	}

	w.logg.Info(ctx, fmt.Sprintf("reconcile cycle re-drove %d unapplied events, %d applied", len(stuck), applied))
	return errs
}
