// Package clientcache keeps one live client handle per distinct effective
// configuration and shares it between every repository that resolves to it.
package clientcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
)

// ErrClosed is returned by lookups on a closed cache.
var ErrClosed = errors.New("client cache is closed")

// Handle is a constructed client. Shutdown releases its resources.
type Handle interface {
	Shutdown() error
}

// Factory builds the handle for a key.
type Factory func(ctx context.Context, key Key) (Handle, error)

// Cache maps keys to live handles. Lookups of present keys take no lock;
// a miss constructs at most once per key while concurrent callers for the
// same key wait for that construction.
type Cache struct {
	entries sync.Map // Key -> Handle
	count   atomic.Int64
	group   singleflight.Group
	closed  atomic.Bool

	logger  *logging.Logger
	metrics *Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for construction and eviction events.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets where cache activity is recorded.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the handle for key, building it with factory if absent.
// Factory errors are returned wrapped in ErrClientConstruction and nothing is
// cached, so the next call retries. Callers waiting on another caller's
// construction share its result.
//
// The factory runs detached from the starting caller's cancellation, so a
// caller that gives up mid-construction cannot fail the waiters that joined it.
func (c *Cache) GetOrCreate(ctx context.Context, key Key, factory Factory) (Handle, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if h, ok := c.entries.Load(key); ok {
		c.metrics.hit()
		return h.(Handle), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.metrics.miss()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// Another flight may have finished between the fast path and here.
		if h, ok := c.entries.Load(key); ok {
			return h, nil
		}

		c.logger.Debug("Constructing client for %s", key.Redacted())
		h, err := factory(context.WithoutCancel(ctx), key)
		c.metrics.constructed(err)
		if err != nil {
			return nil, &dserrors.ResolutionError{Kind: dserrors.ErrClientConstruction, Err: err}
		}

		if _, loaded := c.entries.LoadOrStore(key, h); !loaded {
			c.metrics.size(c.count.Add(1))
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// Get returns the handle for key without constructing one.
func (c *Cache) Get(key Key) (Handle, bool) {
	h, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	return h.(Handle), true
}

// Len returns the number of live handles.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

// Keys returns the keys of live handles ordered by their redacted rendering.
func (c *Cache) Keys() []Key {
	var keys []Key
	c.entries.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(Key))
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Redacted() < keys[j].Redacted()
	})
	return keys
}

// Evict shuts down and removes the handle for key. It reports false when the
// key was not cached.
func (c *Cache) Evict(key Key) (bool, error) {
	h, ok := c.entries.Load(key)
	if !ok {
		return false, nil
	}
	err := h.(Handle).Shutdown()
	c.remove(key)
	return true, err
}

// InvalidateAll shuts every handle down and removes it. Each handle is shut
// down before its entry is dropped; shutdown failures are collected and the
// entry is removed regardless.
func (c *Cache) InvalidateAll() error {
	var result *multierror.Error
	c.entries.Range(func(k, v interface{}) bool {
		key := k.(Key)
		if err := v.(Handle).Shutdown(); err != nil {
			c.logger.Warn("Shutdown of client %s failed: %v", key.Redacted(), err)
			result = multierror.Append(result, err)
		}
		c.remove(key)
		return true
	})
	return result.ErrorOrNil()
}

// Close invalidates every handle and rejects further lookups.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return c.InvalidateAll()
}

func (c *Cache) remove(key Key) {
	if _, ok := c.entries.LoadAndDelete(key); ok {
		c.metrics.evicted()
		c.metrics.size(c.count.Add(-1))
		c.logger.Debug("Evicted client %s", key.Redacted())
	}
}
