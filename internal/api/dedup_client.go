package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/metrics"
)

// DefaultCacheTTL is how long successful lookups are served from memory.
const DefaultCacheTTL = time.Minute

// ErrFollowUnsupported is returned by follow operations when the wrapped
// directory cannot follow users (for example, no token configured).
var ErrFollowUnsupported = errors.New("directory does not support follow operations")

const (
	kindProfile = "profile"
	kindSearch  = "search"
)

// DedupClient wraps a UserDirectory so identical concurrent lookups share one
// upstream call, and successful results are reused for a short TTL.
// Errors are never cached and nothing is retried.
type DedupClient struct {
	directory UserDirectory
	follower  FollowClient // nil when the wrapped directory cannot follow
	group     singleflight.Group
	cache     *cache
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// DedupOption configures a DedupClient.
type DedupOption func(*DedupClient)

// WithDedupLogger sets the logger.
func WithDedupLogger(logger *zap.Logger) DedupOption {
	return func(c *DedupClient) {
		c.logger = logger
	}
}

// WithDedupMetrics sets the metrics recorder.
func WithDedupMetrics(m *metrics.Metrics) DedupOption {
	return func(c *DedupClient) {
		c.metrics = m
	}
}

// NewDedupClient creates a de-duplicating wrapper. A non-positive ttl uses DefaultCacheTTL.
func NewDedupClient(directory UserDirectory, ttl time.Duration, opts ...DedupOption) *DedupClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	follower, _ := directory.(FollowClient)

	c := &DedupClient{
		directory: directory,
		follower:  follower,
		cache:     newCache(ttl),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProfile returns the profile for login, from cache when fresh.
func (c *DedupClient) FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error) {
	key := profileKey(login)
	if cached, found := c.cache.get(key); found {
		if profile, ok := cached.(*domain.UserProfile); ok {
			c.metrics.CacheLookup(kindProfile, metrics.ResultHit)
			return profile, nil
		}
	}

	v, err := c.load(ctx, kindProfile, key, func(ctx context.Context) (interface{}, error) {
		return c.directory.FetchProfile(ctx, login)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.UserProfile), nil
}

// RefetchProfile drops any cached profile for login and fetches it again.
// A request already in flight for the same login is still shared.
func (c *DedupClient) RefetchProfile(ctx context.Context, login string) (*domain.UserProfile, error) {
	c.cache.delete(profileKey(login))
	return c.FetchProfile(ctx, login)
}

// SearchUsers returns suggestions for query, from cache when fresh.
func (c *DedupClient) SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error) {
	key := searchKey(query)
	if cached, found := c.cache.get(key); found {
		if suggestions, ok := cached.([]domain.Suggestion); ok {
			c.metrics.CacheLookup(kindSearch, metrics.ResultHit)
			return suggestions, nil
		}
	}

	v, err := c.load(ctx, kindSearch, key, func(ctx context.Context) (interface{}, error) {
		return c.directory.SearchUsers(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Suggestion), nil
}

// CheckFollowing passes through to the wrapped FollowClient.
func (c *DedupClient) CheckFollowing(ctx context.Context, login string) (bool, error) {
	if c.follower == nil {
		return false, ErrFollowUnsupported
	}
	return c.follower.CheckFollowing(ctx, login)
}

// Follow passes through to the wrapped FollowClient.
func (c *DedupClient) Follow(ctx context.Context, login string) error {
	if c.follower == nil {
		return ErrFollowUnsupported
	}
	return c.follower.Follow(ctx, login)
}

// Unfollow passes through to the wrapped FollowClient.
func (c *DedupClient) Unfollow(ctx context.Context, login string) error {
	if c.follower == nil {
		return ErrFollowUnsupported
	}
	return c.follower.Unfollow(ctx, login)
}

// CanFollow reports whether follow operations are available.
func (c *DedupClient) CanFollow() bool {
	return c.follower != nil
}

// Close stops the cache janitor.
func (c *DedupClient) Close() {
	c.cache.stop()
}

// load runs fetch once per key across concurrent callers and caches success.
// The shared call is detached from any single caller's cancellation; a caller
// whose ctx ends stops waiting without affecting the others.
func (c *DedupClient) load(ctx context.Context, kind, key string, fetch func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.logger.Debug("cache miss", zap.String("key", key))
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.cache.set(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.CacheLookup(kind, metrics.ResultShared)
		} else {
			c.metrics.CacheLookup(kind, metrics.ResultMiss)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func profileKey(login string) string {
	return fmt.Sprintf("profile:%s", login)
}

func searchKey(query string) string {
	return fmt.Sprintf("search:%s", query)
}

// cache implements a thread-safe TTL cache.
type cache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	duration time.Duration
	done     chan struct{}
	once     sync.Once
}

// cacheEntry holds a cached value with expiry time.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// newCache creates a new cache with the specified duration.
func newCache(duration time.Duration) *cache {
	c := &cache{
		entries:  make(map[string]*cacheEntry),
		duration: duration,
		done:     make(chan struct{}),
	}

	go c.cleanup(time.Minute)

	return c
}

// get retrieves a value from cache.
func (c *cache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.value, true
}

// set stores a value in cache with TTL.
func (c *cache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.duration),
	}
}

// delete removes a single entry.
func (c *cache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

func (c *cache) stop() {
	c.once.Do(func() { close(c.done) })
}

// cleanup periodically removes expired entries until stop is called.
func (c *cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
