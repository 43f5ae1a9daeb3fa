package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyhub.io/shared/auth/authtest"
)

func newTestCache(store *authtest.Store, clock *testClock, opts ...CacheOption) *PermissionCache {
	opts = append([]CacheOption{
		WithCacheClock(clock.Now),
		WithCacheTTL(time.Minute),
		WithCacheLogger(quietLogger()),
	}, opts...)
	return NewPermissionCache(store, opts...)
}

func TestCacheServesWithinTTL(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RoleTherapist, true, "appointments:read", "notes:write")
	clock := newTestClock()
	cache := newTestCache(store, clock)
	ctx := context.Background()

	set, err := cache.GetPermissions(ctx, RoleTherapist)
	require.NoError(t, err)
	assert.Equal(t, []string{"appointments:read", "notes:write"}, set.Names())

	// Storage becomes unreachable; the fresh entry is still served.
	store.SetErr(errors.New("connection refused"))
	clock.Advance(59 * time.Second)
	set, err = cache.GetPermissions(ctx, RoleTherapist)
	require.NoError(t, err)
	assert.True(t, set.Has("notes:write"))
	assert.Equal(t, int64(1), store.RoleLookups.Load())

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCacheReloadsAfterTTL(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	clock := newTestClock()
	cache := newTestCache(store, clock)
	ctx := context.Background()

	_, err := cache.GetPermissions(ctx, RolePatient)
	require.NoError(t, err)

	store.AddRole(RolePatient, true, "bookings:create", "bookings:cancel")
	clock.Advance(time.Minute)

	set, err := cache.GetPermissions(ctx, RolePatient)
	require.NoError(t, err)
	assert.True(t, set.Has("bookings:cancel"))
	assert.Equal(t, int64(2), store.RoleLookups.Load())
}

func TestCacheInvalidate(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RoleAdmin, true, "users:read")
	clock := newTestClock()
	cache := newTestCache(store, clock)
	ctx := context.Background()

	_, err := cache.GetPermissions(ctx, RoleAdmin)
	require.NoError(t, err)

	store.AddRole(RoleAdmin, true, "users:read", "users:write")
	cache.Invalidate(RoleAdmin)

	set, err := cache.GetPermissions(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.True(t, set.Has("users:write"))

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestCacheMissingOrInactiveRoleIsEmpty(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole("moderator", false, "reviews:delete")
	cache := newTestCache(store, newTestClock())
	ctx := context.Background()

	set, err := cache.GetPermissions(ctx, "moderator")
	require.NoError(t, err)
	assert.Empty(t, set)

	set, err = cache.GetPermissions(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, set)

	// Both outcomes are cached.
	_, err = cache.GetPermissions(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.RoleLookups.Load())
}

func TestCacheDoesNotCacheStorageErrors(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RoleTherapist, true, "appointments:read")
	store.SetErr(errors.New("connection refused"))
	cache := newTestCache(store, newTestClock())
	ctx := context.Background()

	_, err := cache.GetPermissions(ctx, RoleTherapist)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 0, cache.Stats().Size)

	store.SetErr(nil)
	set, err := cache.GetPermissions(ctx, RoleTherapist)
	require.NoError(t, err)
	assert.True(t, set.Has("appointments:read"))
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	store.Delay = 50 * time.Millisecond
	cache := newTestCache(store, newTestClock())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := cache.GetPermissions(context.Background(), RolePatient)
			if err == nil && !set.Has("bookings:create") {
				err = errors.New("missing permission")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), store.RoleLookups.Load())
	assert.Equal(t, uint64(1), cache.Stats().Loads)
}

func TestCacheCallerCancellation(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	store.Delay = 100 * time.Millisecond
	cache := newTestCache(store, newTestClock())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cache.GetPermissions(ctx, RolePatient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared load keeps running and fills the cache.
	assert.Eventually(t, func() bool { return cache.Stats().Size == 1 }, time.Second, 10*time.Millisecond)
}

func TestCacheInvalidateDuringLoadDiscardsResult(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RoleAdmin, true, "users:read")
	store.Delay = 50 * time.Millisecond
	cache := newTestCache(store, newTestClock())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.GetPermissions(context.Background(), RoleAdmin)
	}()
	require.Eventually(t, func() bool { return store.RoleLookups.Load() == 1 }, time.Second, time.Millisecond)
	cache.Invalidate(RoleAdmin)
	<-done

	assert.Equal(t, 0, cache.Stats().Size)
}

func TestCacheInvalidateAllDuringFirstLoadRequeries(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RoleAdmin, true, "users:read")
	store.Delay = 50 * time.Millisecond
	cache := newTestCache(store, newTestClock())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.GetPermissions(ctx, RoleAdmin)
	}()
	require.Eventually(t, func() bool { return store.RoleLookups.Load() == 1 }, time.Second, time.Millisecond)

	store.AddRole(RoleAdmin, false, "users:read")
	cache.InvalidateAll()

	set, err := cache.GetPermissions(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.False(t, set.Has("users:read"), "deactivated role must not grant permissions")
	assert.EqualValues(t, 2, store.RoleLookups.Load())

	<-done
	set, err = cache.GetPermissions(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestCacheJanitorEvictsExpired(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	clock := newTestClock()
	cache := newTestCache(store, clock)

	_, err := cache.GetPermissions(context.Background(), RolePatient)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return cache.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
}

func TestCacheMetrics(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cache := newTestCache(store, newTestClock(), WithCacheMetrics(metrics))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cache.GetPermissions(ctx, RolePatient)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookup.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheLookup.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLoads.WithLabelValues("ok")))
}
