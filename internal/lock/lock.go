// Package lock provides cooperative, string-keyed mutual exclusion: a non-blocking named
// lock (Registry) and a FIFO turnstile (Serializer) that admits one caller per key at a time.
// Both are advisory; callers that bypass them break the guarantee.
package lock

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Handle is proof of exclusive access to a key. Release is idempotent.
type Handle struct {
	key     string
	token   string
	once    sync.Once
	release func()
}

// Key returns the guarded resource key.
func (h *Handle) Key() string { return h.key }

// Token returns the unique token of this acquisition.
func (h *Handle) Token() string { return h.token }

// Release gives up the lock. Safe to call more than once and on every exit path.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

func newToken(key string) string {
	id, err := gonanoid.New()
	if err != nil {
		// Entropy failure; tokens only need to be unique within the process.
		return fmt.Sprintf("%s-%p", key, &id)
	}
	return key + "-" + id
}

// Registry is a set of named non-blocking locks.
type Registry struct {
	mu   sync.Mutex
	held map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]string)}
}

// TryAcquire takes the lock for key if it is free. It never blocks.
func (r *Registry) TryAcquire(key string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.held[key]; busy {
		return nil, false
	}
	token := newToken(key)
	r.held[key] = token
	return &Handle{
		key:   key,
		token: token,
		release: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.held[key] == token {
				delete(r.held, key)
			}
		},
	}, true
}

type waiter struct {
	token string
	ready chan struct{}
}

// Serializer admits callers for the same key strictly in arrival order, one at a
// time. Distinct keys never wait on each other.
type Serializer struct {
	mu     sync.Mutex
	queues map[string]*list.List
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{queues: make(map[string]*list.List)}
}

// Acquire enqueues the caller under key and blocks until it reaches the head of the
// queue or ctx is done. The returned handle must be released.
func (s *Serializer) Acquire(ctx context.Context, key string) (*Handle, error) {
	w := &waiter{token: newToken(key), ready: make(chan struct{})}

	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = list.New()
		s.queues[key] = q
	}
	elem := q.PushBack(w)
	if q.Front() == elem {
		close(w.ready)
	}
	s.mu.Unlock()

	select {
	case <-w.ready:
		return &Handle{key: key, token: w.token, release: func() { s.leave(key, elem) }}, nil
	case <-ctx.Done():
		s.leave(key, elem)
		return nil, ctx.Err()
	}
}

// Waiting returns the number of callers queued or holding key.
func (s *Serializer) Waiting(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return q.Len()
	}
	return 0
}

// leave removes elem from key's queue and wakes the new head if elem was the head.
func (s *Serializer) leave(key string, elem *list.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		return
	}
	wasHead := q.Front() == elem
	q.Remove(elem)

	if q.Len() == 0 {
		delete(s.queues, key)
		return
	}
	if wasHead {
		close(q.Front().Value.(*waiter).ready)
	}
}
