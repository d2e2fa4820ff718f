// Package jobs holds the service's background maintenance loops. There is
// no job queue here: each job is a ticker-driven loop owned by the process.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// EventPruner deletes webhook dedup markers past their retention window.
type EventPruner interface {
	PruneEventRecords(ctx context.Context, olderThan time.Time) (int64, error)
}

// DefaultEventRetention keeps dedup markers well past Stripe's redelivery
// horizon (72 hours of retries). The ledger transition guard makes a replay
// after pruning a harmless no-op anyway.
const DefaultEventRetention = 30 * 24 * time.Hour

// PruneWebhookEvents runs the dedup-log pruning loop until ctx is canceled.
// Intended to be started once from main in its own goroutine.
func PruneWebhookEvents(ctx context.Context, pruner EventPruner, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log := logger.With("job", "prune_webhook_events")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := pruner.PruneEventRecords(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error("pruning failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("pruned webhook event records", "deleted", deleted)
			}
		}
	}
}
