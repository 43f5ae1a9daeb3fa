package fiber

import (
	"github.com/gofiber/fiber/v2"

	"therapyhub.io/shared/auth"
)

const principalLocal = "auth_principal"

// Middleware adapts the framework-agnostic authenticator and authorizer to
// fiber handlers.
type Middleware struct {
	authn *auth.Authenticator
	authz *auth.Authorizer
}

func NewMiddleware(authn *auth.Authenticator, authz *auth.Authorizer) *Middleware {
	return &Middleware{authn: authn, authz: authz}
}

// RequireAuth validates the bearer token and stores the principal. Requests
// without a valid access token never reach the next handler.
func (m *Middleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := m.authn.Authenticate(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return WriteError(c, err)
		}
		setPrincipal(c, p)
		return c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is present and
// otherwise continues anonymously.
func (m *Middleware) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			if p, err := m.authn.Authenticate(header); err == nil {
				setPrincipal(c, p)
			}
		}
		return c.Next()
	}
}

// RequireActive re-checks the account status of the authenticated principal.
func (m *Middleware) RequireActive() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := GetPrincipal(c)
		if !ok {
			return WriteError(c, auth.Unauthorized("authentication required"))
		}
		if err := m.authn.CheckActive(c.UserContext(), p); err != nil {
			return WriteError(c, err)
		}
		return c.Next()
	}
}

// RequirePermission requires the principal to hold perm.
func (m *Middleware) RequirePermission(perm string) fiber.Handler {
	return m.Require(auth.Requirement{All: []string{perm}})
}

// RequireAll requires every permission in perms.
func (m *Middleware) RequireAll(perms ...string) fiber.Handler {
	return m.Require(auth.Requirement{All: perms})
}

// RequireAny requires at least one permission in perms.
func (m *Middleware) RequireAny(perms ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _ := GetPrincipal(c)
		if err := m.authz.AuthorizeAny(c.UserContext(), p, perms...); err != nil {
			return WriteError(c, err)
		}
		return c.Next()
	}
}

// Require applies an arbitrary requirement.
func (m *Middleware) Require(req auth.Requirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _ := GetPrincipal(c)
		if err := m.authz.Check(c.UserContext(), p, req); err != nil {
			return WriteError(c, err)
		}
		return c.Next()
	}
}

func setPrincipal(c *fiber.Ctx, p *auth.Principal) {
	c.Locals(principalLocal, p)
	c.SetUserContext(auth.ContextWithPrincipal(c.UserContext(), p))
}

// GetPrincipal returns the principal stored by RequireAuth or OptionalAuth.
func GetPrincipal(c *fiber.Ctx) (*auth.Principal, bool) {
	p, ok := c.Locals(principalLocal).(*auth.Principal)
	return p, ok && p != nil
}
