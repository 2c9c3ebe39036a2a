// Package signer issues time-limited URLs for private media.
//
// Images and avatars are signed with a CloudFront canned policy. Videos get
// RS256 playback tokens. Neither issuer ever returns an error for a single
// asset: failures degrade to a placeholder (images) or no video at all.
package signer

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/cloudfront/sign"
	"go.uber.org/zap"

	"github.com/garagehq/garage/pkg/config"
	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

// ErrSigningNotConfigured is returned by Validate when the CDN base URL, key pair
// id or private key is missing
var ErrSigningNotConfigured = errors.New("image signing is not configured")

// Option configures an issuer
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ImageIssuer signs object storage keys into CDN URLs
type ImageIssuer struct {
	baseURL     string
	keyPairID   string
	placeholder string
	ttl         time.Duration
	allowed     map[string]struct{}
	signer      *sign.URLSigner
	keyErr      error
	configured  bool
	now         func() time.Time
	logger      *zap.Logger
}

// NewImageIssuer creates an issuer from cfg. Missing or malformed credentials do
// not fail construction: Validate reports the former, Sign degrades on the latter.
func NewImageIssuer(cfg config.CDNConfig, opts ...Option) *ImageIssuer {
	o := buildOptions(opts)
	i := &ImageIssuer{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		keyPairID:   cfg.KeyPairID,
		placeholder: cfg.PlaceholderURL,
		ttl:         cfg.ImageTTL,
		allowed:     make(map[string]struct{}),
		configured:  cfg.BaseURL != "" && cfg.KeyPairID != "" && cfg.PrivateKey != "",
		now:         o.now,
		logger:      logging.WithComponent("signer"),
	}
	if i.ttl <= 0 {
		i.ttl = 24 * time.Hour
	}
	for _, origin := range cfg.AllowedOrigins {
		if normalized, ok := originOf(origin); ok {
			i.allowed[normalized] = struct{}{}
		}
	}
	if base, ok := originOf(cfg.BaseURL); ok {
		i.allowed[base] = struct{}{}
	}

	if i.configured {
		key, err := parsePrivateKey(cfg.PrivateKey)
		if err != nil {
			i.keyErr = err
		} else {
			i.signer = sign.NewURLSigner(cfg.KeyPairID, key)
		}
	}
	return i
}

// Validate reports whether the CDN credentials are present
func (i *ImageIssuer) Validate() error {
	if !i.configured {
		return ErrSigningNotConfigured
	}
	return nil
}

// Placeholder returns the URL substituted for unsignable input
func (i *ImageIssuer) Placeholder() string {
	return i.placeholder
}

// TTL returns the default expiry for image URLs
func (i *ImageIssuer) TTL() time.Duration {
	return i.ttl
}

// Sign returns a URL for keyOrURL valid for ttl.
//
// Empty input and absolute URLs outside the allowed origins yield the
// placeholder. Allowed absolute URLs are returned unchanged. Anything else is
// treated as a storage key under the CDN base URL and signed; on any signing
// problem the placeholder is returned and the failure is logged.
func (i *ImageIssuer) Sign(ctx context.Context, keyOrURL string, ttl time.Duration) string {
	keyOrURL = strings.TrimSpace(keyOrURL)
	if keyOrURL == "" {
		return i.placeholder
	}

	if isAbsolute(keyOrURL) {
		if origin, ok := originOf(keyOrURL); ok {
			if _, allowed := i.allowed[origin]; allowed {
				return keyOrURL
			}
		}
		i.logger.Debug("Rejected absolute URL outside allowed origins", zap.String("url", keyOrURL))
		return i.placeholder
	}

	if !i.configured {
		i.fail(ctx, "Image signing is not configured", ErrSigningNotConfigured)
		return i.placeholder
	}
	if i.keyErr != nil {
		i.fail(ctx, "Malformed CDN private key", i.keyErr)
		return i.placeholder
	}

	target := i.baseURL + "/" + strings.TrimLeft(keyOrURL, "/")
	signed, err := i.signer.Sign(target, i.now().Add(ttl))
	if err != nil {
		i.fail(ctx, "Failed to sign image URL", err)
		return i.placeholder
	}
	return signed
}

func (i *ImageIssuer) fail(ctx context.Context, msg string, err error) {
	i.logger.Warn(msg, zap.Error(err))
	telemetry.RecordSigningFailure(ctx, "image")
}

func isAbsolute(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// originOf returns scheme://host for an absolute http(s) URL
func originOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}
