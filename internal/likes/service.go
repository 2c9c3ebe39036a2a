// Package likes toggles a user's like on a post and keeps the post's
// denormalized counter in step with the like rows.
package likes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/apierr"
	"github.com/garagehq/garage/internal/db"
	"github.com/garagehq/garage/pkg/config"
	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

var errPostNotFound = errors.New("post not found")

// Store runs fn while holding the lock for postID
type Store interface {
	WithPostLock(ctx context.Context, postID int64, fn func(db.LikeTx) error) error
}

// Throttle is a set-if-absent primitive with expiry
type Throttle interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Result is the state after a toggle
type Result struct {
	IsLiked   bool  `json:"isLiked"`
	LikeCount int64 `json:"likeCount"`
}

// Service toggles likes
type Service struct {
	store       Store
	throttle    Throttle
	throttleTTL time.Duration
	maxAttempts int
	backoffBase time.Duration
	jitter      time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	randInt63n  func(n int64) int64
	logger      *zap.Logger
}

// NewService creates a like service
func NewService(store Store, throttle Throttle, cfg config.LikesConfig) *Service {
	s := &Service{
		store:       store,
		throttle:    throttle,
		throttleTTL: cfg.Throttle,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		jitter:      cfg.BackoffJitter,
		sleep:       sleepContext,
		randInt63n:  rand.Int63n,
		logger:      logging.WithComponent("likes"),
	}
	if s.throttleTTL <= 0 {
		s.throttleTTL = time.Second
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	return s
}

// ThrottleKey returns the per-pair throttle key
func ThrottleKey(userID, postID int64) string {
	return fmt.Sprintf("like:throttle:%d:%d", userID, postID)
}

// Toggle flips the like for (userID, postID) and returns the new state.
//
// At most one toggle per pair is accepted per throttle interval. The flip and
// the counter update happen in one transaction under the post lock, and the
// transaction is retried on transient lock or serialization failures.
func (s *Service) Toggle(ctx context.Context, userID, postID int64) (*Result, error) {
	if userID <= 0 {
		return nil, apierr.Unauthorized()
	}
	if postID <= 0 {
		return nil, apierr.BadRequest("Invalid postId")
	}

	ok, err := s.throttle.SetNX(ctx, ThrottleKey(userID, postID), 1, s.throttleTTL)
	if err != nil {
		s.logger.Warn("Like throttle unavailable, continuing", zap.Error(err))
	} else if !ok {
		telemetry.RecordLikeToggle(ctx, "throttled")
		return nil, apierr.TooManyRequests(s.throttleTTL)
	}

	var res *Result
	for attempt := 1; ; attempt++ {
		res, err = s.toggleOnce(ctx, userID, postID)
		if err == nil || !IsTransient(err) || attempt >= s.maxAttempts {
			break
		}
		delay := s.backoff(attempt)
		s.logger.Info("Retrying like toggle",
			zap.Int64("post_id", postID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := s.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
	}

	switch {
	case err == nil:
		outcome := "unliked"
		if res.IsLiked {
			outcome = "liked"
		}
		telemetry.RecordLikeToggle(ctx, outcome)
		return res, nil
	case errors.Is(err, errPostNotFound):
		return nil, apierr.NotFound()
	default:
		telemetry.RecordLikeToggle(ctx, "error")
		return nil, apierr.Internal(fmt.Errorf("toggle like user=%d post=%d: %w", userID, postID, err))
	}
}

func (s *Service) toggleOnce(ctx context.Context, userID, postID int64) (*Result, error) {
	var res Result
	err := s.store.WithPostLock(ctx, postID, func(tx db.LikeTx) error {
		exists, err := tx.PostExists(ctx, postID)
		if err != nil {
			return err
		}
		if !exists {
			return errPostNotFound
		}

		liked, err := tx.LikeExists(ctx, userID, postID)
		if err != nil {
			return err
		}
		if liked {
			if err := tx.DeleteLike(ctx, userID, postID); err != nil {
				return err
			}
			count, err := tx.DecrementLikeCount(ctx, postID)
			if err != nil {
				return err
			}
			res = Result{IsLiked: false, LikeCount: count}
			return nil
		}

		if err := tx.CreateLike(ctx, userID, postID); err != nil {
			return err
		}
		count, err := tx.IncrementLikeCount(ctx, postID)
		if err != nil {
			return err
		}
		res = Result{IsLiked: true, LikeCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// backoff is linear in the attempt number plus random jitter
func (s *Service) backoff(attempt int) time.Duration {
	d := s.backoffBase * time.Duration(attempt)
	if s.jitter > 0 {
		d += time.Duration(s.randInt63n(int64(s.jitter)))
	}
	return d
}

// Postgres SQLSTATEs that are safe to retry
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

var transientMessages = []string{
	"deadlock",
	"could not serialize",
	"serialization failure",
	"lock timeout",
	"lock_timeout",
	"database is locked",
}

// IsTransient reports whether err is a lock or serialization failure worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
