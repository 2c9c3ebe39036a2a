package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	cacheLookups     metric.Int64Counter
	rateDecisions    metric.Int64Counter
	likeToggles      metric.Int64Counter
	signingFailures  metric.Int64Counter
	instrumentsReady bool
)

func initInstruments(serviceName string) error {
	meter := otel.Meter(serviceName)

	var err error
	if cacheLookups, err = meter.Int64Counter("feed_cache_lookups_total",
		metric.WithDescription("Feed cache lookups by result")); err != nil {
		return err
	}
	if rateDecisions, err = meter.Int64Counter("ratelimit_decisions_total",
		metric.WithDescription("Fixed-window rate limit decisions")); err != nil {
		return err
	}
	if likeToggles, err = meter.Int64Counter("like_toggles_total",
		metric.WithDescription("Like toggles by outcome")); err != nil {
		return err
	}
	if signingFailures, err = meter.Int64Counter("signing_failures_total",
		metric.WithDescription("URL signing failures replaced by a placeholder")); err != nil {
		return err
	}
	instrumentsReady = true
	return nil
}

// RecordCacheLookup counts a feed cache hit or miss
func RecordCacheLookup(ctx context.Context, hit bool) {
	if !instrumentsReady {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateDecision counts a rate limiter decision
func RecordRateDecision(ctx context.Context, namespace string, allowed bool) {
	if !instrumentsReady {
		return
	}
	rateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("allowed", strconv.FormatBool(allowed)),
	))
}

// RecordLikeToggle counts a like toggle outcome ("liked", "unliked", "throttled", "error")
func RecordLikeToggle(ctx context.Context, result string) {
	if !instrumentsReady {
		return
	}
	likeToggles.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSigningFailure counts a signing failure ("image", "video")
func RecordSigningFailure(ctx context.Context, kind string) {
	if !instrumentsReady {
		return
	}
	signingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// NewMetricsServer exposes the Prometheus registry that the otel exporter writes to
func NewMetricsServer(host string, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
