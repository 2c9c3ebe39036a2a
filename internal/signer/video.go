package signer

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/garagehq/garage/pkg/config"
	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

// Playback token audiences
const (
	audienceStream    = "v"
	audienceThumbnail = "t"
)

// Video holds signed playback URLs for a video asset
type Video struct {
	StreamURL string `json:"streamUrl"`
	PosterURL string `json:"posterUrl"`
}

// VideoIssuer signs playback ids into tokenized stream and poster URLs
type VideoIssuer struct {
	keyID     string
	streamURL string
	imageURL  string
	streamTTL time.Duration
	posterTTL time.Duration
	key       *rsa.PrivateKey
	keyErr    error
	now       func() time.Time
	logger    *zap.Logger
}

// NewVideoIssuer creates a video issuer from cfg
func NewVideoIssuer(cfg config.VideoConfig, opts ...Option) *VideoIssuer {
	o := buildOptions(opts)
	v := &VideoIssuer{
		keyID:     cfg.KeyID,
		streamURL: strings.TrimRight(cfg.StreamBaseURL, "/"),
		imageURL:  strings.TrimRight(cfg.ImageBaseURL, "/"),
		streamTTL: cfg.StreamTTL,
		posterTTL: cfg.PosterTTL,
		now:       o.now,
		logger:    logging.WithComponent("signer"),
	}
	if v.streamTTL <= 0 {
		v.streamTTL = time.Hour
	}
	if v.posterTTL <= 0 {
		v.posterTTL = 30 * time.Minute
	}
	if cfg.KeyID == "" || cfg.PrivateKey == "" {
		v.keyErr = fmt.Errorf("video signing is not configured")
	} else if v.key, v.keyErr = parsePrivateKey(cfg.PrivateKey); v.keyErr != nil {
		v.keyErr = fmt.Errorf("malformed video private key: %w", v.keyErr)
	}
	return v
}

// Sign returns stream and poster URLs for playbackID, or nil when the id is
// empty or a token cannot be issued
func (v *VideoIssuer) Sign(ctx context.Context, playbackID string) *Video {
	if playbackID == "" {
		return nil
	}
	if v.keyErr != nil {
		v.fail(ctx, v.keyErr)
		return nil
	}

	streamToken, err := v.token(playbackID, audienceStream, v.streamTTL)
	if err != nil {
		v.fail(ctx, err)
		return nil
	}
	posterToken, err := v.token(playbackID, audienceThumbnail, v.posterTTL)
	if err != nil {
		v.fail(ctx, err)
		return nil
	}

	id := url.PathEscape(playbackID)
	return &Video{
		StreamURL: fmt.Sprintf("%s/%s.m3u8?token=%s", v.streamURL, id, streamToken),
		PosterURL: fmt.Sprintf("%s/%s/thumbnail.jpg?token=%s", v.imageURL, id, posterToken),
	}
}

func (v *VideoIssuer) token(playbackID, audience string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   playbackID,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(v.now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = v.keyID
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign playback token: %w", err)
	}
	return signed, nil
}

func (v *VideoIssuer) fail(ctx context.Context, err error) {
	v.logger.Warn("Failed to sign video", zap.Error(err))
	telemetry.RecordSigningFailure(ctx, "video")
}
