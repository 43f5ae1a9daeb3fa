package fiber

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"therapyhub.io/shared/auth"
)

// Handlers provides all authentication endpoints
type Handlers struct {
	service   *auth.AuthService
	roles     *auth.RoleManager
	validator *validator.Validate
}

// NewHandlers creates a new auth handlers instance
func NewHandlers(service *auth.AuthService, roles *auth.RoleManager) *Handlers {
	return &Handlers{
		service:   service,
		roles:     roles,
		validator: validator.New(),
	}
}

type LoginRequest struct {
	AccountType string `json:"account_type" validate:"required,oneof=admin therapist user"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type RolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type LoginResponse struct {
	Principal *auth.Principal `json:"principal"`
	*auth.TokenPair
}

type RolePermissionsResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// parse decodes and validates the JSON body into req.
func (h *Handlers) parse(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return auth.BadRequest("Invalid request body: " + err.Error())
	}
	if err := h.validator.Struct(req); err != nil {
		return auth.BadRequest("Validation failed: " + err.Error())
	}
	return nil
}

// Login handles user login requests
// POST /auth/login
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}

	pair, p, err := h.service.Login(c.UserContext(), auth.PrincipalType(req.AccountType), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(LoginResponse{Principal: p, TokenPair: pair})
}

// RefreshToken exchanges a refresh token for a new pair
// POST /auth/refresh
func (h *Handlers) RefreshToken(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}

	pair, err := h.service.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

// Logout revokes the given refresh token
// POST /auth/logout
func (h *Handlers) Logout(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := h.service.Logout(c.UserContext(), req.RefreshToken); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LogoutAll revokes every session of the caller
// POST /auth/logout-all
func (h *Handlers) LogoutAll(c *fiber.Ctx) error {
	p, _ := GetPrincipal(c)
	n, err := h.service.LogoutAll(c.UserContext(), p)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"revoked": n})
}

// ChangePassword replaces the caller's password and returns a fresh pair
// PUT /auth/password
func (h *Handlers) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	p, _ := GetPrincipal(c)
	pair, err := h.service.ChangePassword(c.UserContext(), p, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

// Me returns the authenticated principal
// GET /auth/me
func (h *Handlers) Me(c *fiber.Ctx) error {
	p, ok := GetPrincipal(c)
	if !ok {
		return auth.Unauthorized("authentication required")
	}
	return c.JSON(p)
}

// GetRolePermissions lists the permissions assigned to a role
// GET /auth/roles/:role/permissions
func (h *Handlers) GetRolePermissions(c *fiber.Ctx) error {
	role := c.Params("role")
	perms, err := h.roles.ListRolePermissions(c.UserContext(), role)
	if err != nil {
		return err
	}
	return c.JSON(RolePermissionsResponse{Role: role, Permissions: perms})
}

// SetRolePermissions replaces the permissions assigned to a role
// PUT /auth/roles/:role/permissions
func (h *Handlers) SetRolePermissions(c *fiber.Ctx) error {
	var req RolePermissionsRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	role := c.Params("role")
	if err := h.roles.SetRolePermissions(c.UserContext(), role, req.Permissions); err != nil {
		return err
	}
	return c.JSON(RolePermissionsResponse{Role: role, Permissions: auth.NewPermissionSet(req.Permissions...).Names()})
}
