package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyhub.io/shared/auth/authtest"
)

func TestValidPermissionName(t *testing.T) {
	for _, name := range []string{"bookings:create", "therapist_profiles:read", "audit-log:export"} {
		assert.True(t, ValidPermissionName(name), name)
	}
	for _, name := range []string{"", "bookings", "Bookings:create", "bookings:", ":create", "a:b:c", "bookings: create"} {
		assert.False(t, ValidPermissionName(name), name)
	}
}

func TestSetRolePermissionsInvalidatesCache(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	store.AddPermission("bookings:cancel")
	cache := newTestCache(store, newTestClock())
	roles := NewRoleManager(store, cache, quietLogger())
	ctx := context.Background()

	set, err := cache.GetPermissions(ctx, RolePatient)
	require.NoError(t, err)
	assert.False(t, set.Has("bookings:cancel"))

	require.NoError(t, roles.SetRolePermissions(ctx, RolePatient, []string{"bookings:cancel", "bookings:create", "bookings:cancel"}))

	set, err = cache.GetPermissions(ctx, RolePatient)
	require.NoError(t, err)
	assert.True(t, set.Has("bookings:cancel"))

	names, err := roles.ListRolePermissions(ctx, RolePatient)
	require.NoError(t, err)
	assert.Equal(t, []string{"bookings:cancel", "bookings:create"}, names)
}

func TestSetRolePermissionsErrors(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	roles := NewRoleManager(store, nil, quietLogger())
	ctx := context.Background()

	assert.ErrorIs(t, roles.SetRolePermissions(ctx, RolePatient, []string{"Not Valid"}), ErrBadRequest)
	assert.ErrorIs(t, roles.SetRolePermissions(ctx, "ghost", []string{"bookings:create"}), ErrNotFound)
	assert.ErrorIs(t, roles.SetRolePermissions(ctx, RolePatient, []string{"payouts:read"}), ErrNotFound)

	_, err := roles.ListRolePermissions(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	store.SetErr(errors.New("db down"))
	_, err = roles.ListRolePermissions(ctx, RolePatient)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestSetRolePermissionsToEmpty(t *testing.T) {
	store := authtest.NewStore()
	store.AddRole(RolePatient, true, "bookings:create")
	roles := NewRoleManager(store, nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, roles.SetRolePermissions(ctx, RolePatient, nil))
	names, err := roles.ListRolePermissions(ctx, RolePatient)
	require.NoError(t, err)
	assert.Empty(t, names)
}
