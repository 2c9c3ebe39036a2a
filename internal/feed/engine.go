package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garagehq/garage/internal/models"
	"github.com/garagehq/garage/internal/signer"
	"github.com/garagehq/garage/pkg/logging"
)

// timeLayout is ISO 8601 in UTC with millisecond precision
const timeLayout = "2006-01-02T15:04:05.000Z"

// PostFinder is the persistence capability the engine needs
type PostFinder interface {
	FindFeedPage(ctx context.Context, cursor int64, limit int) ([]*models.Post, error)
	CountSurfaced(ctx context.Context, cursor int64) (int64, error)
}

// ImageSigner signs image and avatar references
type ImageSigner interface {
	Validate() error
	Sign(ctx context.Context, keyOrURL string, ttl time.Duration) string
	TTL() time.Duration
}

// VideoSigner signs making-of video playback ids
type VideoSigner interface {
	Sign(ctx context.Context, playbackID string) *signer.Video
}

// Tier is the pagination policy for a class of caller
type Tier struct {
	PageSize int
	// MaxPosts caps how many posts can be surfaced across all pages; 0 means no cap
	MaxPosts int
}

// Author is the public part of a post's owner
type Author struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar"`
}

// Image is a signed post image
type Image struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	DisplayOrder *int64 `json:"displayOrder"`
}

// Post is a rendered feed post
type Post struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Caption   string        `json:"caption"`
	CreatedAt string        `json:"createdAt"`
	LikeCount int64         `json:"likeCount"`
	User      Author        `json:"user"`
	Images    []Image       `json:"images"`
	MakingOf  *signer.Video `json:"makingOf"`
}

// Page is one page of the feed
type Page struct {
	Posts      []Post `json:"posts"`
	HasMore    bool   `json:"hasMore"`
	NextCursor *int64 `json:"nextCursor"`
}

// Engine queries, signs and assembles feed pages
type Engine struct {
	posts   PostFinder
	images  ImageSigner
	videos  VideoSigner
	workers int
	logger  *zap.Logger
}

// NewEngine creates an engine. workers bounds concurrent signing calls per page.
func NewEngine(posts PostFinder, images ImageSigner, videos VideoSigner, workers int) *Engine {
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		posts:   posts,
		images:  images,
		videos:  videos,
		workers: workers,
		logger:  logging.WithComponent("feed-engine"),
	}
}

// FetchPage returns the page of verified posts older than cursor (0 for the newest).
//
// One extra row is fetched to detect a further page. When tier has a cap,
// posts already surfaced above the cursor count against it and the page is
// shortened so the cap is never exceeded.
func (e *Engine) FetchPage(ctx context.Context, cursor int64, tier Tier) (*Page, error) {
	if err := e.images.Validate(); err != nil {
		return nil, err
	}

	pageSize := tier.PageSize
	var surfaced int64
	if tier.MaxPosts > 0 && cursor > 0 {
		var err error
		if surfaced, err = e.posts.CountSurfaced(ctx, cursor); err != nil {
			return nil, err
		}
		remaining := int64(tier.MaxPosts) - surfaced
		if remaining <= 0 {
			e.logger.Debug("Feed cap reached", zap.Int64("cursor", cursor), zap.Int("max_posts", tier.MaxPosts))
			return &Page{Posts: []Post{}}, nil
		}
		if remaining < int64(pageSize) {
			pageSize = int(remaining)
		}
	}

	rows, err := e.posts.FindFeedPage(ctx, cursor, pageSize+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}
	if tier.MaxPosts > 0 && surfaced+int64(len(rows)) >= int64(tier.MaxPosts) {
		hasMore = false
	}

	posts, err := e.render(ctx, rows)
	if err != nil {
		return nil, err
	}

	page := &Page{Posts: posts, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		next := rows[len(rows)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

// render converts rows to posts, signing every image, avatar and video concurrently.
// Results are written to their own slots so input order is preserved.
func (e *Engine) render(ctx context.Context, rows []*models.Post) ([]Post, error) {
	posts := make([]Post, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	ttl := e.images.TTL()

	for i, row := range rows {
		p := &posts[i]
		p.ID = row.ID
		p.Title = row.Title
		p.Caption = row.Caption
		p.CreatedAt = row.CreatedAt.UTC().Format(timeLayout)
		p.LikeCount = row.LikeCount

		if row.User != nil {
			p.User = Author{ID: row.User.ID, Handle: row.User.Handle}
			avatar := row.User.Avatar
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.User.Avatar = e.images.Sign(gctx, avatar, ttl)
				return nil
			})
		}

		images := sortedImages(row.Images)
		p.Images = make([]Image, len(images))
		for j, img := range images {
			slot := &p.Images[j]
			slot.ID = img.ID
			if img.DisplayOrder.Valid {
				order := img.DisplayOrder.Int64
				slot.DisplayOrder = &order
			}
			key := img.PlaybackID
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				slot.URL = e.images.Sign(gctx, key, ttl)
				return nil
			})
		}

		if row.MakingOf.Valid && row.MakingOf.String != "" {
			playbackID := row.MakingOf.String
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.MakingOf = e.videos.Sign(gctx, playbackID)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rendering feed page: %w", err)
	}
	return posts, nil
}

// sortedImages orders by display order ascending with unordered images last, then by id
func sortedImages(images []models.Image) []models.Image {
	out := make([]models.Image, len(images))
	copy(out, images)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DisplayOrder, out[j].DisplayOrder
		switch {
		case a.Valid && b.Valid && a.Int64 != b.Int64:
			return a.Int64 < b.Int64
		case a.Valid != b.Valid:
			return a.Valid
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out
}
