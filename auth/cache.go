package auth

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"therapyhub.io/shared/pg/model"
)

const (
	DefaultPermissionTTL = 5 * time.Minute
	defaultLoadTimeout   = 5 * time.Second
	defaultJanitorEvery  = 5 * time.Minute
)

// PermissionSet is the set of permission names held by a role. Sets returned
// by PermissionCache are shared and must not be modified.
type PermissionSet map[string]struct{}

func NewPermissionSet(names ...string) PermissionSet {
	s := make(PermissionSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permissions in sorted order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CacheEntry represents a cached permission set
type CacheEntry struct {
	Permissions PermissionSet
	ComputedAt  time.Time
}

// IsExpired checks if the cache entry is older than ttl at now
func (e *CacheEntry) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) >= ttl
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size   int           `json:"size"`
	Hits   uint64        `json:"hits"`
	Misses uint64        `json:"misses"`
	Loads  uint64        `json:"loads"`
	TTL    time.Duration `json:"ttl"`
}

// PermissionCache maps role names to permission sets loaded from a RoleStore.
// Entries older than the TTL are reloaded on the next lookup. Concurrent misses
// for one role share a single storage load.
type PermissionCache struct {
	store       model.RoleStore
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	log         logrus.FieldLogger
	metrics     *Metrics

	mu      sync.RWMutex
	entries map[string]*CacheEntry
	// epoch advances on every invalidation; loads that started under an older
	// epoch do not write their result.
	epoch uint64

	group singleflight.Group

	hits, misses, loads atomic.Uint64
}

type CacheOption func(*PermissionCache)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *PermissionCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *PermissionCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLoadTimeout bounds a single storage load, independent of the callers'
// contexts.
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *PermissionCache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

func WithCacheLogger(log logrus.FieldLogger) CacheOption {
	return func(c *PermissionCache) {
		if log != nil {
			c.log = log
		}
	}
}

func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *PermissionCache) { c.metrics = m }
}

// NewPermissionCache creates a new permission cache
func NewPermissionCache(store model.RoleStore, opts ...CacheOption) *PermissionCache {
	c := &PermissionCache{
		store:       store,
		ttl:         DefaultPermissionTTL,
		loadTimeout: defaultLoadTimeout,
		now:         time.Now,
		log:         logrus.StandardLogger(),
		entries:     make(map[string]*CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPermissions returns the permission set of role. A role that does not exist
// or is inactive yields an empty set. Storage failures return a
// ServiceUnavailable error and are not cached.
func (c *PermissionCache) GetPermissions(ctx context.Context, role string) (PermissionSet, error) {
	entry, epoch, ok := c.lookup(role)
	if ok {
		c.hits.Add(1)
		c.metrics.lookup("hit")
		return entry.Permissions, nil
	}
	c.misses.Add(1)
	c.metrics.lookup("miss")

	// Loads are shared per epoch so a lookup after an invalidation never joins
	// a load that started before it.
	key := role + "@" + strconv.FormatUint(epoch, 10)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), role, epoch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

func (c *PermissionCache) lookup(role string) (*CacheEntry, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[role]
	if !exists || entry.IsExpired(c.now(), c.ttl) {
		return nil, c.epoch, false
	}
	return entry, c.epoch, true
}

func (c *PermissionCache) load(ctx context.Context, role string, epoch uint64) (PermissionSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()
	c.loads.Add(1)

	perms, err := c.fetch(ctx, role)
	if err != nil {
		c.metrics.load("error")
		c.log.WithError(err).WithField("role", role).Error("permission load failed")
		return nil, ServiceUnavailable("permission lookup failed", err)
	}
	c.metrics.load("ok")

	c.mu.Lock()
	if c.epoch == epoch {
		c.entries[role] = &CacheEntry{Permissions: perms, ComputedAt: c.now()}
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"role": role, "permissions": len(perms)}).Debug("permission set loaded")
	return perms, nil
}

func (c *PermissionCache) fetch(ctx context.Context, role string) (PermissionSet, error) {
	r, err := c.store.FindRoleByName(ctx, role)
	if errors.Is(err, model.ErrNotFound) {
		return NewPermissionSet(), nil
	}
	if err != nil {
		return nil, err
	}
	if !r.IsActive {
		return NewPermissionSet(), nil
	}

	assigned, err := c.store.PermissionsForRole(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet, len(assigned))
	for _, p := range assigned {
		set[p.Name] = struct{}{}
	}
	return set, nil
}

// Invalidate drops the entry for role so the next lookup reloads it.
func (c *PermissionCache) Invalidate(role string) {
	c.mu.Lock()
	delete(c.entries, role)
	c.epoch++
	c.mu.Unlock()
}

// InvalidateAll clears all cache entries
func (c *PermissionCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.epoch++
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *PermissionCache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Size:   size,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loads.Load(),
		TTL:    c.ttl,
	}
}

// cleanupExpired removes expired entries (called with lock held)
func (c *PermissionCache) cleanupExpired() int {
	now := c.now()
	removed := 0
	for role, entry := range c.entries {
		if entry.IsExpired(now, c.ttl) {
			delete(c.entries, role)
			removed++
		}
	}
	return removed
}

// StartJanitor removes expired entries every interval until ctx is done.
func (c *PermissionCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultJanitorEvery
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				removed := c.cleanupExpired()
				c.mu.Unlock()
				if removed > 0 {
					c.log.WithField("removed", removed).Debug("expired permission sets evicted")
				}
			}
		}
	}()
}
