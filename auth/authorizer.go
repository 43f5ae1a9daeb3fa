package auth

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

const DefaultSuperAdminRole = "super_admin"

// PermissionSource resolves a role to its permission set. *PermissionCache
// implements it.
type PermissionSource interface {
	GetPermissions(ctx context.Context, role string) (PermissionSet, error)
}

// Requirement describes the permissions an operation needs. A principal must
// hold every permission in All and, when Any is not empty, at least one in Any.
type Requirement struct {
	All []string
	Any []string
}

// Authorizer decides whether a principal holds the permissions an operation
// needs.
type Authorizer struct {
	perms     PermissionSource
	superRole string
	log       logrus.FieldLogger
	metrics   *Metrics
}

type AuthorizerOption func(*Authorizer)

// WithSuperAdminRole sets the administrator role that bypasses permission
// checks. An empty name disables the bypass.
func WithSuperAdminRole(role string) AuthorizerOption {
	return func(a *Authorizer) { a.superRole = role }
}

func WithAuthorizerLogger(log logrus.FieldLogger) AuthorizerOption {
	return func(a *Authorizer) {
		if log != nil {
			a.log = log
		}
	}
}

func WithAuthorizerMetrics(m *Metrics) AuthorizerOption {
	return func(a *Authorizer) { a.metrics = m }
}

func NewAuthorizer(perms PermissionSource, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		perms:     perms,
		superRole: DefaultSuperAdminRole,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize requires p to hold perm.
func (a *Authorizer) Authorize(ctx context.Context, p *Principal, perm string) error {
	return a.Check(ctx, p, Requirement{All: []string{perm}})
}

// AuthorizeAll requires p to hold every permission in perms. An empty list
// only requires an authenticated principal.
func (a *Authorizer) AuthorizeAll(ctx context.Context, p *Principal, perms ...string) error {
	return a.Check(ctx, p, Requirement{All: perms})
}

// AuthorizeAny requires p to hold at least one permission in perms. An empty
// list never grants access, except to the super administrator.
func (a *Authorizer) AuthorizeAny(ctx context.Context, p *Principal, perms ...string) error {
	if len(perms) == 0 {
		if p != nil && a.isSuperAdmin(p) {
			a.metrics.decision("bypass")
			return nil
		}
		if p == nil {
			a.metrics.decision("unauthenticated")
			return Unauthorized("authentication required")
		}
		a.metrics.decision("denied")
		return Forbidden("no permission satisfies an empty requirement")
	}
	return a.Check(ctx, p, Requirement{Any: perms})
}

// Check evaluates req for p. The super administrator passes every check
// without a permission lookup.
func (a *Authorizer) Check(ctx context.Context, p *Principal, req Requirement) error {
	if p == nil {
		a.metrics.decision("unauthenticated")
		return Unauthorized("authentication required")
	}
	if a.isSuperAdmin(p) {
		a.metrics.decision("bypass")
		return nil
	}

	role, err := ResolveRole(p)
	if err != nil {
		a.deny(p, "", nil)
		return err
	}
	if len(req.All) == 0 && len(req.Any) == 0 {
		a.metrics.decision("allowed")
		return nil
	}

	set, err := a.perms.GetPermissions(ctx, role)
	if err != nil {
		a.metrics.decision("error")
		if authErr := AsAuthError(err); authErr.Type != KindInternal {
			return authErr
		}
		return ServiceUnavailable("permission lookup failed", err)
	}

	var missing []string
	for _, perm := range req.All {
		if !set.Has(perm) {
			missing = append(missing, perm)
		}
	}
	if len(missing) > 0 {
		a.deny(p, role, missing)
		if len(missing) == 1 {
			return Forbidden("missing permission: "+missing[0], missing...)
		}
		return Forbidden("missing permissions: "+strings.Join(missing, ", "), missing...)
	}

	if len(req.Any) > 0 {
		granted := false
		for _, perm := range req.Any {
			if set.Has(perm) {
				granted = true
				break
			}
		}
		if !granted {
			a.deny(p, role, req.Any)
			return Forbidden("requires one of: "+strings.Join(req.Any, ", "), req.Any...)
		}
	}

	a.metrics.decision("allowed")
	return nil
}

func (a *Authorizer) isSuperAdmin(p *Principal) bool {
	return a.superRole != "" && p.Type == PrincipalAdmin && p.Role == a.superRole
}

func (a *Authorizer) deny(p *Principal, role string, missing []string) {
	a.metrics.decision("denied")
	a.log.WithFields(logrus.Fields{
		"principal_id":   p.ID,
		"principal_type": p.Type,
		"role":           role,
		"missing":        missing,
	}).Info("authorization denied")
}
