// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache implements the datagram transport's retransmit cache: a
// time-keyed store of recently emitted batch frames, keyed by
// (peer, batch_index), swept on a TTL.
//
// The map is owned by a single goroutine that serves Put/Get/Sweep requests
// over channels, rather than guarded by a mutex shared across callers — a
// "one owner task, message-passing access" design.
package cache

import (
	"context"
	"time"

	"code.hybscloud.com/proxygate/internal/metrics"
)

// DefaultTTL is the lifetime of a cached batch before it becomes eligible
// for eviction.
const DefaultTTL = 5 * time.Minute

type key struct {
	peer       string
	batchIndex uint32
}

type entry struct {
	expiresAt time.Time
	frame     []byte
}

type putRequest struct {
	key   key
	frame []byte
}

type getRequest struct {
	key   key
	reply chan []byte
}

type sweepRequest struct {
	done chan int
}

// RetransmitCache is a concurrent (peer, batch_index) -> encoded-frame store
// with TTL-based eviction. The zero value is not usable; construct with New.
type RetransmitCache struct {
	ttl   time.Duration
	now   func() time.Time
	putCh chan putRequest
	getCh chan getRequest
	sweepCh chan sweepRequest
}

// Option configures a RetransmitCache at construction time.
type Option func(*RetransmitCache)

// WithClock overrides the cache's notion of "now", for deterministic TTL
// tests. Production callers never need this.
func WithClock(now func() time.Time) Option {
	return func(c *RetransmitCache) { c.now = now }
}

// New creates a RetransmitCache with the given TTL. Callers must run it
// under a goroutine (typically via Run, launched from an errgroup.Group)
// before Put/Get/Sweep will make progress.
func New(ttl time.Duration, opts ...Option) *RetransmitCache {
	c := &RetransmitCache{
		ttl:     ttl,
		now:     time.Now,
		putCh:   make(chan putRequest),
		getCh:   make(chan getRequest),
		sweepCh: make(chan sweepRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is the cache's owner loop. It must be the only goroutine that touches
// the underlying map; every other interaction goes through Put/Get/Sweep.
// Run returns when ctx is canceled.
func (c *RetransmitCache) Run(ctx context.Context) error {
	entries := make(map[key]entry)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.putCh:
			entries[req.key] = entry{expiresAt: c.now().Add(c.ttl), frame: req.frame}
			metrics.CacheEntries.Set(float64(len(entries)))
		case req := <-c.getCh:
			req.reply <- entries[req.key].frame
		case req := <-c.sweepCh:
			now := c.now()
			removed := 0
			for k, e := range entries {
				if e.expiresAt.Before(now) {
					delete(entries, k)
					removed++
				}
			}
			metrics.CacheEntries.Set(float64(len(entries)))
			if req.done != nil {
				req.done <- removed
			}
		}
	}
}

// Put inserts or overwrites the batch frame for (peer, batchIndex), resetting
// its expiry to now+TTL. The stored bytes must already be the fully encoded
// frame (headers included) so a later retransmit is byte-identical.
func (c *RetransmitCache) Put(ctx context.Context, peer string, batchIndex uint32, frame []byte) {
	select {
	case c.putCh <- putRequest{key: key{peer: peer, batchIndex: batchIndex}, frame: frame}:
	case <-ctx.Done():
	}
}

// Get returns the stored frame for (peer, batchIndex), or (nil, false) if
// absent. An entry whose TTL has already elapsed but has not yet been swept
// is still returned: expiration is a memory-reclamation hint, not a
// correctness boundary.
func (c *RetransmitCache) Get(ctx context.Context, peer string, batchIndex uint32) ([]byte, bool) {
	reply := make(chan []byte, 1)
	select {
	case c.getCh <- getRequest{key: key{peer: peer, batchIndex: batchIndex}, reply: reply}:
	case <-ctx.Done():
		return nil, false
	}
	select {
	case frame := <-reply:
		return frame, frame != nil
	case <-ctx.Done():
		return nil, false
	}
}

// Sweep removes all entries whose TTL has elapsed and returns the count
// removed. It blocks until the owner goroutine has processed the request.
func (c *RetransmitCache) Sweep(ctx context.Context) int {
	done := make(chan int, 1)
	select {
	case c.sweepCh <- sweepRequest{done: done}:
	case <-ctx.Done():
		return 0
	}
	select {
	case removed := <-done:
		return removed
	case <-ctx.Done():
		return 0
	}
}
