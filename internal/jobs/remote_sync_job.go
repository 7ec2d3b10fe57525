package job

import (
	"context"
	"log/slog"

	"github.com/dvalenciano/igflow/internal/service"
)

// RemoteSyncJob is the cron entry that keeps local state aligned with
// Instagram: reconciliation of unconfirmed posts, liveness of published
// ones, and fresh metrics snapshots.
type RemoteSyncJob struct {
	sync service.MetricsService
}

func NewRemoteSyncJob(sync service.MetricsService) *RemoteSyncJob {
	return &RemoteSyncJob{sync: sync}
}

func (j *RemoteSyncJob) Run() {
	ctx := context.Background()

	result, err := j.sync.AutoSync(ctx)
	if err != nil {
		slog.Error("remote sync job failed", "error", err.Error())
		return
	}
	if !result.Ran {
		return
	}

	matched, deleted, collected := 0, 0, 0
	if result.Reconcile != nil {
		matched = result.Reconcile.Matched
	}
	if result.Liveness != nil {
		deleted = result.Liveness.Deleted
	}
	if result.Metrics != nil {
		collected = result.Metrics.Collected
	}
	slog.Info("remote sync job finished", "reconciled", matched, "deleted", deleted, "metrics_collected", collected)
}
