package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"facturacl/ms_facturacion_marketplace/internal/application/reconcile"
	"facturacl/ms_facturacion_marketplace/internal/core/account"
	ctxutil "facturacl/ms_facturacion_marketplace/internal/infrastructure/context"
)

// BatchRunner is the reconciliation entry point the worker drives. It is the
// same entry point the HTTP API uses.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, accountID int64, opts reconcile.BatchOptions) (*reconcile.BatchResult, error)
}

// CycleResult summarizes one sync cycle across all accounts. Platforms
// aggregates the per-platform emission counts of every batch in the cycle.
type CycleResult struct {
	Accounts  int            `json:"accounts"`
	Processed int            `json:"processed"`
	Platforms map[string]int `json:"platforms,omitempty"`
	Errors    int            `json:"errors"`
}

// Worker periodically reconciles every account with a configured marketplace
// integration. It re-fetches a fixed rolling lookback window each cycle and
// relies on the engine's idempotency to absorb repeated exposure; there is
// deliberately no per-account watermark cursor.
type Worker struct {
	runner   BatchRunner
	accounts account.Repository
	interval time.Duration
	lookback time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewWorker creates a sync worker. interval must be positive; lookbackDays
// defaults to 7 when non-positive.
func NewWorker(runner BatchRunner, accounts account.Repository, interval time.Duration, lookbackDays int, log *slog.Logger) *Worker {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Worker{
		runner:   runner,
		accounts: accounts,
		interval: interval,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks, executing one cycle immediately and then one per interval,
// until the context is canceled. Intended to be launched in its own
// goroutine; it shares nothing with API-triggered batches beyond the ledger,
// so both can run concurrently for the same account.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("sync worker started",
		"interval", w.interval.String(),
		"lookback", w.lookback.String())

	w.RunCycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sync worker stopped")
			return
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle reconciles every integrated account once. Per-account failures
// are logged and counted; the cycle always visits every account.
func (w *Worker) RunCycle(ctx context.Context) CycleResult {
	runID := uuid.NewString()
	ctx = ctxutil.WithCorrelationID(ctx, runID)
	log := w.log.With("sync_run_id", runID)

	accounts, err := w.accounts.ListWithIntegrations(ctx)
	if err != nil {
		log.Error("listing integrated accounts", "error", err)
		return CycleResult{}
	}

	since := w.now().Add(-w.lookback)
	res := CycleResult{Accounts: len(accounts), Platforms: map[string]int{}}

	for _, acc := range accounts {
		if ctx.Err() != nil {
			log.Warn("sync cycle interrupted", "remaining_accounts", res.Accounts)
			return res
		}
		batch, err := w.runner.ProcessBatch(ctx, acc.ID, reconcile.BatchOptions{Since: since})
		if err != nil {
			log.Error("account sync failed",
				"account_id", acc.ID,
				"error", err)
			res.Errors++
			continue
		}
		res.Processed += batch.Processed
		res.Errors += len(batch.Errors)
		for platform, count := range batch.Platforms {
			res.Platforms[platform] += count
		}
		log.Info("account synced",
			"account_id", acc.ID,
			"processed", batch.Processed,
			"errors", len(batch.Errors))
	}

	log.Info("sync cycle completed",
		"accounts", res.Accounts,
		"processed", res.Processed,
		"platforms", res.Platforms,
		"errors", res.Errors)
	return res
}
