package main

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/logging"
)

// historyPruneInterval is how often old state history is deleted.
const historyPruneInterval = time.Hour

// historyPruner is satisfied by *device.SQLiteStateHistoryRepository.
type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// runHistoryPruner deletes history older than retention once at start and
// then every interval, until ctx is cancelled.
func runHistoryPruner(ctx context.Context, pruner historyPruner, retention, interval time.Duration, log *logging.Logger) {
	prune := func() {
		deleted, err := pruner.PruneHistory(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("pruning state history failed", "error", err)
			}
			return
		}
		if deleted > 0 {
			log.Info("state history pruned", "deleted", deleted, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
