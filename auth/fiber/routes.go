package fiber

import (
	"github.com/gofiber/fiber/v2"
)

// Permissions guarding the role administration routes.
const (
	PermRolesRead   = "roles:read"
	PermRolesManage = "roles:manage"
)

// SetupAuthRoutes sets up all authentication routes for a Fiber app
func SetupAuthRoutes(app fiber.Router, h *Handlers, mw *Middleware) {
	// Public auth routes (no authentication required)
	authPublic := app.Group("/auth")
	authPublic.Post("/login", h.Login)
	authPublic.Post("/refresh", h.RefreshToken)
	authPublic.Post("/logout", h.Logout)

	// Protected auth routes (authentication and an active account required)
	protected := []fiber.Handler{mw.RequireAuth(), mw.RequireActive()}
	authPublic.Post("/logout-all", append(protected, h.LogoutAll)...)
	authPublic.Put("/password", append(protected, h.ChangePassword)...)
	authPublic.Get("/me", append(protected, h.Me)...)

	authPublic.Get("/roles/:role/permissions",
		append(protected, mw.RequirePermission(PermRolesRead), h.GetRolePermissions)...)
	authPublic.Put("/roles/:role/permissions",
		append(protected, mw.RequirePermission(PermRolesManage), h.SetRolePermissions)...)
}
