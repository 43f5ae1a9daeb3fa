package auth

import (
	"context"
	"errors"
	"regexp"

	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/pg/model"
)

var permissionName = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[a-z][a-z0-9_-]*$`)

// ValidPermissionName reports whether name has the form <resource>:<action>.
func ValidPermissionName(name string) bool {
	return permissionName.MatchString(name)
}

// RoleManager edits role permission assignments and keeps the cache coherent.
type RoleManager struct {
	roles model.RoleStore
	cache *PermissionCache
	log   logrus.FieldLogger
}

func NewRoleManager(roles model.RoleStore, cache *PermissionCache, log logrus.FieldLogger) *RoleManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RoleManager{roles: roles, cache: cache, log: log}
}

// ListRolePermissions reads the assignments of role directly from storage.
func (r *RoleManager) ListRolePermissions(ctx context.Context, role string) ([]string, error) {
	found, err := r.findRole(ctx, role)
	if err != nil {
		return nil, err
	}
	perms, err := r.roles.PermissionsForRole(ctx, found.ID)
	if err != nil {
		return nil, ServiceUnavailable("permission lookup failed", err)
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return NewPermissionSet(names...).Names(), nil
}

// SetRolePermissions replaces the assignments of role and invalidates its
// cache entry.
func (r *RoleManager) SetRolePermissions(ctx context.Context, role string, perms []string) error {
	for _, p := range perms {
		if !ValidPermissionName(p) {
			return BadRequest("invalid permission name: " + p)
		}
	}
	found, err := r.findRole(ctx, role)
	if err != nil {
		return err
	}

	names := NewPermissionSet(perms...).Names()
	if err := r.roles.SetRolePermissions(ctx, found.ID, names); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return NotFound("unknown permission in assignment")
		}
		return ServiceUnavailable("permission update failed", err)
	}
	if r.cache != nil {
		r.cache.Invalidate(role)
	}
	r.log.WithFields(logrus.Fields{"role": role, "permissions": names}).Info("role permissions replaced")
	return nil
}

func (r *RoleManager) findRole(ctx context.Context, role string) (*model.Role, error) {
	found, err := r.roles.FindRoleByName(ctx, role)
	if errors.Is(err, model.ErrNotFound) {
		return nil, NotFound("role not found")
	}
	if err != nil {
		return nil, ServiceUnavailable("role lookup failed", err)
	}
	return found, nil
}
