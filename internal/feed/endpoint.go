package feed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/apierr"
	"github.com/garagehq/garage/internal/auth"
	"github.com/garagehq/garage/internal/ratelimit"
	"github.com/garagehq/garage/pkg/logging"
)

// Rate limit namespaces
const (
	PreflightNamespace = "feed:preflight"
	Namespace          = "feed"
)

// Request is the transport-independent view of a feed request
type Request struct {
	Method  string
	Headers http.Header
	Query   url.Values
}

// Response is what the transport writes back
type Response struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// Body is the successful feed response
type Body struct {
	Posts        []Post `json:"posts"`
	IsSubscribed bool   `json:"isSubscribed"`
	NextCursor   *int64 `json:"nextCursor"`
	HasMore      bool   `json:"hasMore"`
}

// ErrorBody is the body of every non-200 response
type ErrorBody struct {
	Error string `json:"error"`
}

// RateLimiter enforces fixed-window limits
type RateLimiter interface {
	Enforce(ctx context.Context, requesterKey, namespace string, window time.Duration, limit int) (ratelimit.Result, error)
}

// IdentityResolver resolves the caller from request headers
type IdentityResolver interface {
	Resolve(headers http.Header) *auth.Caller
}

// SubscriptionChecker reports whether a user is subscribed
type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
}

// PageFetcher produces pages on cache miss
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor int64, tier Tier) (*Page, error)
}

// Limits holds the rate limit ceilings per window
type Limits struct {
	Window    time.Duration
	Preflight int
	Free      int
	Pro       int
}

// Endpoint orchestrates a feed request:
// preflight IP limit, identity, subscription, per-identity limit, cache, query.
type Endpoint struct {
	limiter  RateLimiter
	identity IdentityResolver
	subs     SubscriptionChecker
	cache    *Cache
	engine   PageFetcher
	limits   Limits
	free     Tier
	pro      Tier
	logger   *zap.Logger
}

// NewEndpoint wires an endpoint
func NewEndpoint(limiter RateLimiter, identity IdentityResolver, subs SubscriptionChecker,
	cache *Cache, engine PageFetcher, limits Limits, free, pro Tier) *Endpoint {
	return &Endpoint{
		limiter:  limiter,
		identity: identity,
		subs:     subs,
		cache:    cache,
		engine:   engine,
		limits:   limits,
		free:     free,
		pro:      pro,
		logger:   logging.WithComponent("feed"),
	}
}

// SecurityHeaders are attached to every feed response
func SecurityHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
		"Cache-Control":          "private, max-age=30",
		"Vary":                   "Authorization, Cookie",
	}
}

// Serve handles one feed request. It never returns an error; failures are
// rendered as responses with generic messages and logged server side.
func (e *Endpoint) Serve(ctx context.Context, req Request) Response {
	preflight, err := e.limiter.Enforce(ctx, "ip:"+ratelimit.ClientAddress(req.Headers),
		PreflightNamespace, e.limits.Window, e.limits.Preflight)
	if err != nil {
		return e.fail(req, nil, apierr.Internal(err))
	}
	if !preflight.Allowed {
		return e.fail(req, &preflight, apierr.TooManyRequests(preflight.RetryAfter))
	}

	var userID int64
	if caller := e.identity.Resolve(req.Headers); caller != nil {
		userID = caller.ID
	}

	subscribed, err := e.subs.IsSubscribed(ctx, userID)
	if err != nil {
		return e.fail(req, &preflight, apierr.Internal(err))
	}

	ceiling, tier := e.limits.Free, e.free
	if subscribed {
		ceiling, tier = e.limits.Pro, e.pro
	}
	limit, err := e.limiter.Enforce(ctx, ratelimit.RequesterKey(userID, req.Headers),
		Namespace, e.limits.Window, ceiling)
	if err != nil {
		return e.fail(req, &preflight, apierr.Internal(err))
	}
	if !limit.Allowed {
		return e.fail(req, &limit, apierr.TooManyRequests(limit.RetryAfter))
	}

	cursor := ParseCursor(req.Query.Get("cursor"))
	key := CacheKey(subscribed, cursor)

	page, hit := e.cache.Get(ctx, key)
	if !hit {
		page, err = e.engine.FetchPage(ctx, cursor, tier)
		if err != nil {
			return e.fail(req, &limit, apierr.Internal(err))
		}
		e.cache.Set(ctx, key, page)
	}

	posts := page.Posts
	if posts == nil {
		posts = []Post{}
	}
	return Response{
		Status:  http.StatusOK,
		Headers: headers(&limit),
		Body: Body{
			Posts:        posts,
			IsSubscribed: subscribed,
			NextCursor:   page.NextCursor,
			HasMore:      page.HasMore,
		},
	}
}

func (e *Endpoint) fail(req Request, limit *ratelimit.Result, err *apierr.Error) Response {
	h := headers(limit)
	switch err.Kind {
	case apierr.KindTooManyRequests:
		e.logger.Debug("Feed request throttled", zap.Duration("retry_after", err.RetryAfter))
		h["Retry-After"] = strconv.FormatInt(ratelimit.RetryAfterSeconds(err.RetryAfter), 10)
	case apierr.KindInternal:
		fields := []zap.Field{zap.String("method", req.Method), zap.Error(err.Err)}
		if errors.Is(err.Err, context.Canceled) {
			e.logger.Info("Feed request canceled", fields...)
		} else {
			e.logger.Error("Feed request failed", fields...)
		}
	}
	return Response{
		Status:  err.Kind.Status(),
		Headers: h,
		Body:    ErrorBody{Error: err.Message},
	}
}

func headers(limit *ratelimit.Result) map[string]string {
	h := SecurityHeaders()
	if limit != nil {
		for k, v := range limit.Headers() {
			h[k] = v
		}
	}
	return h
}
