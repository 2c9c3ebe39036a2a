// Package ratelimit implements fixed-window request counting over Redis.
//
// Time is bucketed into windows of w seconds starting at the Unix epoch. Each
// request increments a counter scoped to (namespace, requester, window) and is
// allowed while the counter is at most the limit. A burst of up to twice the
// limit is possible across a window boundary.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

// Counter is the key-value capability the limiter needs
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Result is the outcome of a single Enforce call
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the Unix time in seconds at which the current window ends
	Reset      int64
	RetryAfter time.Duration
}

// Headers returns the rate limit response headers for r
func (r Result) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.Reset, 10),
	}
	if !r.Allowed {
		h["Retry-After"] = strconv.FormatInt(RetryAfterSeconds(r.RetryAfter), 10)
	}
	return h
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1
func RetryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailOpen allows requests when the counter store is unavailable
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// Limiter is a fixed-window rate limiter
type Limiter struct {
	store    Counter
	now      func() time.Time
	failOpen bool
	logger   *zap.Logger
}

// New creates a limiter backed by store
func New(store Counter, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: logging.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the counter key for a requester in a window
func Key(namespace, requesterKey string, windowIndex int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", namespace, requesterKey, windowIndex)
}

// Enforce counts one request for requesterKey in namespace and reports whether
// it is one of the first limit requests in the current window.
// A store error is returned unless the limiter fails open.
func (l *Limiter) Enforce(ctx context.Context, requesterKey, namespace string, window time.Duration, limit int) (Result, error) {
	windowSeconds := int64(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	now := l.now()
	index := now.Unix() / windowSeconds
	reset := (index + 1) * windowSeconds
	key := Key(namespace, requesterKey, index)

	count, err := l.count(ctx, key, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		if l.failOpen {
			l.logger.Warn("Rate limit store unavailable, allowing request",
				zap.String("namespace", namespace), zap.Error(err))
			return Result{Allowed: true, Limit: limit, Remaining: limit, Reset: reset}, nil
		}
		return Result{}, fmt.Errorf("rate limit %s: %w", namespace, err)
	}

	res := Result{
		Allowed: count <= int64(limit),
		Limit:   limit,
		Reset:   reset,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = time.Unix(reset, 0).Sub(now)
		l.logger.Debug("Rate limited",
			zap.String("namespace", namespace),
			zap.String("requester", requesterKey),
			zap.Duration("retry_after", res.RetryAfter))
	}
	telemetry.RecordRateDecision(ctx, namespace, res.Allowed)
	return res, nil
}

func (l *Limiter) count(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, ttl); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// RequesterKey identifies the caller for rate limiting: "user:{id}" for an
// authenticated caller, otherwise "ip:{addr}" from the first X-Forwarded-For
// entry or X-Real-IP, or "ip:unknown".
func RequesterKey(userID int64, headers http.Header) string {
	if userID > 0 {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	return "ip:" + ClientAddress(headers)
}

// ClientAddress extracts the client address from proxy headers
func ClientAddress(headers http.Header) string {
	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(headers.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return "unknown"
}
