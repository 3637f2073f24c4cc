// Package jobs hosts the background workers: bundle availability refresh
// after stock changes and periodic idempotency key cleanup.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-pos/meridian-pos/internal/jobs"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBundleRecompute refreshes availability of bundles containing a product.
	TaskBundleRecompute = "bundles:recompute"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BundleRecomputePayload names the product whose bundles must be refreshed.
type BundleRecomputePayload struct {
	ProductID string `json:"productId"`
}

// NewBundleRecomputeTask constructs an Asynq task.
func NewBundleRecomputeTask(payload BundleRecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBundleRecompute, data), nil
}

// BundleRecomputer refreshes every bundle referencing a product.
type BundleRecomputer interface {
	RecomputeForProduct(ctx context.Context, productID string) error
}

// NewBundleRecomputeHandler binds the recompute task to the bundle service.
func NewBundleRecomputeHandler(svc BundleRecomputer, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BundleRecomputePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.ProductID == "" {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("bundle_recompute")
		err := svc.RecomputeForProduct(ctx, payload.ProductID)
		if err != nil {
			logger.Error("bundle recompute failed", slog.String("product_id", payload.ProductID), slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// NewIdempotencyCleanupTask constructs the cron task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler prunes keys older than ttl.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, ttl time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		err := store.Cleanup(ctx, ttl)
		if err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
