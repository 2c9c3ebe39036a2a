package feed

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garagehq/garage/internal/models"
	"github.com/garagehq/garage/internal/signer"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// memPosts mimics the verified-author feed queries over an in-memory slice
type memPosts struct {
	mu    sync.Mutex
	posts []*models.Post
	err   error
}

func newMemPosts(n int) *memPosts {
	m := &memPosts{}
	for i := 1; i <= n; i++ {
		m.add(int64(i), true)
	}
	return m
}

func (m *memPosts) add(id int64, verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, &models.Post{
		ID:        id,
		UserID:    1,
		Title:     fmt.Sprintf("post %d", id),
		CreatedAt: baseTime.Add(time.Duration(id) * time.Minute),
		User:      &models.User{ID: 1, Handle: "maker", Avatar: "avatars/1.png", Verified: verified},
	})
}

func (m *memPosts) FindFeedPage(_ context.Context, cursor int64, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Post
	for _, p := range m.posts {
		if p.User.Verified && (cursor == 0 || p.ID < cursor) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPosts) CountSurfaced(_ context.Context, cursor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.posts {
		if p.User.Verified && p.ID >= cursor {
			n++
		}
	}
	return n, nil
}

// stubImages signs by prefixing and records concurrency
type stubImages struct {
	validateErr error
	inflight    int32
	peak        int32
	delay       time.Duration
}

func (s *stubImages) Validate() error    { return s.validateErr }
func (s *stubImages) TTL() time.Duration { return 24 * time.Hour }

func (s *stubImages) Sign(_ context.Context, keyOrURL string, _ time.Duration) string {
	n := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if keyOrURL == "" || strings.HasPrefix(keyOrURL, "https://evil") {
		return "/placeholder.svg"
	}
	return "https://cdn.test/" + keyOrURL + "?sig=1"
}

type stubVideos struct{}

func (stubVideos) Sign(_ context.Context, playbackID string) *signer.Video {
	if playbackID == "broken" {
		return nil
	}
	return &signer.Video{
		StreamURL: "https://stream.test/" + playbackID + ".m3u8?token=t",
		PosterURL: "https://image.test/" + playbackID + "/thumbnail.jpg?token=t",
	}
}

func nullOrder(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
