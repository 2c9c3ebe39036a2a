package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/apierr"
	"github.com/garagehq/garage/internal/ratelimit"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to a status code and a generic message. The cause is
// only logged, never sent to the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	e := apierr.From(err)
	switch e.Kind {
	case apierr.KindInternal:
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(e.Err))
	case apierr.KindTooManyRequests:
		c.Header("Retry-After", strconv.FormatInt(ratelimit.RetryAfterSeconds(e.RetryAfter), 10))
	}
	c.AbortWithStatusJSON(e.Kind.Status(), ErrorResponse{Error: e.Message})
}
