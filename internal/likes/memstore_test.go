package likes

import (
	"context"
	"sync"
	"time"

	"github.com/garagehq/garage/internal/db"
)

type pairKey struct {
	user, post int64
}

// memStore is an in-memory Store. Each post has its own mutex standing in for
// the advisory lock; writes are staged and only applied when fn succeeds.
type memStore struct {
	mu     sync.Mutex
	locks  map[int64]*sync.Mutex
	counts map[int64]int64
	likes  map[pairKey]bool

	// hold, when set for a post, blocks inside the critical section until closed
	hold    map[int64]chan struct{}
	entered chan int64
}

func newMemStore(posts ...int64) *memStore {
	s := &memStore{
		locks:   make(map[int64]*sync.Mutex),
		counts:  make(map[int64]int64),
		likes:   make(map[pairKey]bool),
		hold:    make(map[int64]chan struct{}),
		entered: make(chan int64, 16),
	}
	for _, id := range posts {
		s.counts[id] = 0
	}
	return s
}

func (s *memStore) lockFor(postID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[postID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[postID] = l
	}
	return l
}

func (s *memStore) WithPostLock(ctx context.Context, postID int64, fn func(db.LikeTx) error) error {
	l := s.lockFor(postID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	hold := s.hold[postID]
	s.mu.Unlock()
	if hold != nil {
		s.entered <- postID
		<-hold
	}

	tx := &memTx{store: s, likes: make(map[pairKey]bool), counts: make(map[int64]int64)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) count(postID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[postID]
}

func (s *memStore) rows(postID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, v := range s.likes {
		if v && k.post == postID {
			n++
		}
	}
	return n
}

func (s *memStore) liked(userID, postID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[pairKey{userID, postID}]
}

type memTx struct {
	store  *memStore
	likes  map[pairKey]bool
	counts map[int64]int64
}

func (t *memTx) PostExists(_ context.Context, postID int64) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.counts[postID]
	return ok, nil
}

func (t *memTx) LikeExists(_ context.Context, userID, postID int64) (bool, error) {
	k := pairKey{userID, postID}
	if v, ok := t.likes[k]; ok {
		return v, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.likes[k], nil
}

func (t *memTx) CreateLike(_ context.Context, userID, postID int64) error {
	t.likes[pairKey{userID, postID}] = true
	return nil
}

func (t *memTx) DeleteLike(_ context.Context, userID, postID int64) error {
	t.likes[pairKey{userID, postID}] = false
	return nil
}

func (t *memTx) current(postID int64) int64 {
	if v, ok := t.counts[postID]; ok {
		return v
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.counts[postID]
}

func (t *memTx) IncrementLikeCount(_ context.Context, postID int64) (int64, error) {
	t.counts[postID] = t.current(postID) + 1
	return t.counts[postID], nil
}

func (t *memTx) DecrementLikeCount(_ context.Context, postID int64) (int64, error) {
	n := t.current(postID) - 1
	if n < 0 {
		n = 0
	}
	t.counts[postID] = n
	return n, nil
}

func (t *memTx) CountLikes(_ context.Context, postID int64) (int64, error) {
	return t.store.rows(postID), nil
}

func (t *memTx) SetLikeCount(_ context.Context, postID, count int64) error {
	t.counts[postID] = count
	return nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, v := range t.likes {
		if v {
			t.store.likes[k] = true
		} else {
			delete(t.store.likes, k)
		}
	}
	for k, v := range t.counts {
		t.store.counts[k] = v
	}
}

// openThrottle never throttles
type openThrottle struct{}

func (openThrottle) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return true, nil
}
