// Package reconcile repairs post like counters that have drifted from the
// number of like rows.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/db"
	"github.com/garagehq/garage/pkg/config"
	"github.com/garagehq/garage/pkg/logging"
)

// Store is the persistence capability the reconciler needs
type Store interface {
	FindDrift(ctx context.Context, afterID int64, limit int) ([]db.Drift, error)
	WithPostLock(ctx context.Context, postID int64, fn func(db.LikeTx) error) error
}

// Reconciler periodically rewrites drifted like counters
type Reconciler struct {
	store     Store
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// New creates a reconciler
func New(store Store, cfg config.ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		store:     store,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logging.WithComponent("reconciler"),
	}
	if r.interval <= 0 {
		r.interval = 10 * time.Minute
	}
	if r.batchSize <= 0 {
		r.batchSize = 500
	}
	return r
}

// Run reconciles every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Starting like counter reconciliation", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			fixed, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("Reconciliation pass failed", zap.Error(err))
			} else if fixed > 0 {
				r.logger.Info("Reconciled like counters", zap.Int("fixed", fixed))
			} else {
				r.logger.Debug("Like counters consistent")
			}
			r.wait(ctx)
		}
	}
}

// RunOnce scans all posts in id order and fixes each drifted counter under the
// post lock. It returns the number of counters rewritten.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	fixed := 0
	var afterID int64
	for {
		batch, err := r.store.FindDrift(ctx, afterID, r.batchSize)
		if err != nil {
			return fixed, err
		}
		for _, d := range batch {
			if err := r.fix(ctx, d.PostID); err != nil {
				return fixed, fmt.Errorf("failed to reconcile post %d: %w", d.PostID, err)
			}
			fixed++
			r.logger.Debug("Fixed like counter",
				zap.Int64("post_id", d.PostID),
				zap.Int64("was", d.LikeCount),
				zap.Int64("actual", d.Actual))
		}
		if len(batch) < r.batchSize {
			return fixed, nil
		}
		afterID = batch[len(batch)-1].PostID
	}
}

// fix recounts under the lock since a toggle may have landed after the scan
func (r *Reconciler) fix(ctx context.Context, postID int64) error {
	return r.store.WithPostLock(ctx, postID, func(tx db.LikeTx) error {
		actual, err := tx.CountLikes(ctx, postID)
		if err != nil {
			return err
		}
		return tx.SetLikeCount(ctx, postID, actual)
	})
}

func (r *Reconciler) wait(ctx context.Context) {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
