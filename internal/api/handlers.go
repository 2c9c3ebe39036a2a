package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garagehq/garage/internal/apierr"
	"github.com/garagehq/garage/internal/feed"
	"github.com/garagehq/garage/pkg/telemetry"
)

// toggleLikeRequest is the body of POST /likes/toggle
type toggleLikeRequest struct {
	PostID *int64 `json:"postId" binding:"required,gt=0"`
}

// toggleLikeResponse is the body of a successful toggle
type toggleLikeResponse struct {
	Success   bool  `json:"success"`
	IsLiked   bool  `json:"isLiked"`
	LikeCount int64 `json:"likeCount"`
}

// feedHandler adapts GET /feed to the feed endpoint
func (r *Router) feedHandler(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "feed.serve")
	defer span.End()

	resp := r.deps.Feed.Serve(ctx, feed.Request{
		Method:  c.Request.Method,
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
	})
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	c.JSON(resp.Status, resp.Body)
}

// toggleLikeHandler handles POST /likes/toggle
func (r *Router) toggleLikeHandler(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "likes.toggle")
	defer span.End()

	caller := r.deps.Identity.Resolve(c.Request.Header)
	if caller == nil {
		writeError(c, r.logger, apierr.Unauthorized())
		return
	}

	var req toggleLikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, r.logger, apierr.BadRequest("Invalid postId"))
		return
	}

	res, err := r.deps.Likes.Toggle(ctx, caller.ID, *req.PostID)
	if err != nil {
		writeError(c, r.logger, err)
		return
	}
	c.JSON(http.StatusOK, toggleLikeResponse{Success: true, IsLiked: res.IsLiked, LikeCount: res.LikeCount})
}
