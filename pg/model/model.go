package model

import (
	"context"
	"errors"
	"time"
)

// AccountType identifies which account table a principal lives in.
type AccountType string

const (
	AccountAdmin     AccountType = "admin"
	AccountTherapist AccountType = "therapist"
	AccountPatient   AccountType = "user"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAdmin, AccountTherapist, AccountPatient:
		return true
	}
	return false
}

// Account statuses stored in the therapist and user tables.
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusSuspended = "suspended"
	StatusRejected  = "rejected"
)

var (
	ErrNotFound = errors.New("model: not found")
	ErrConflict = errors.New("model: already exists")
	// ErrTokenUnusable is returned by RotateToken when the old token is missing,
	// revoked or expired at the time of rotation.
	ErrTokenUnusable = errors.New("model: refresh token unusable")
)

// Account is the credential record of an administrator, therapist or patient.
type Account struct {
	ID           string      `json:"id"`
	Type         AccountType `json:"type"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"` // Never expose in JSON
	// Role is set for administrators only.
	Role         string      `json:"role,omitempty"`
	Status       string      `json:"status,omitempty"`
	IsActive     bool        `json:"is_active"`
	DeletedAt    *time.Time  `json:"deleted_at,omitempty"`
}

// Role is a named permission bundle.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// Permission is a capability named "<resource>:<action>".
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IssuedToken is one outstanding refresh-token grant.
type IssuedToken struct {
	Token         string      `json:"-"`
	PrincipalType AccountType `json:"principal_type"`
	PrincipalID   string      `json:"principal_id"`
	ExpiresAt     time.Time   `json:"expires_at"`
	RevokedAt     *time.Time  `json:"revoked_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Usable reports whether the token can still be exchanged at now.
func (t *IssuedToken) Usable(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// AccountStore reads and updates credential records.
type AccountStore interface {
	FindAccount(ctx context.Context, accountType AccountType, id string) (*Account, error)
	FindAccountByEmail(ctx context.Context, accountType AccountType, email string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, accountType AccountType, id, passwordHash string) error
}

// RoleStore reads the role -> permission relation.
type RoleStore interface {
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	// SetRolePermissions replaces every assignment of roleID with the named permissions.
	SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error
}

// SessionStore persists refresh-token grants. Records are revoked, never deleted.
type SessionStore interface {
	StoreToken(ctx context.Context, tok *IssuedToken) error
	FindToken(ctx context.Context, token string) (*IssuedToken, error)
	RevokeToken(ctx context.Context, token string, at time.Time) error
	RevokeAllTokens(ctx context.Context, principalType AccountType, principalID string, at time.Time) (int64, error)
	// RotateToken atomically revokes oldToken, provided it is still usable at the
	// given time, and stores next. It returns ErrTokenUnusable otherwise.
	RotateToken(ctx context.Context, oldToken string, next *IssuedToken, at time.Time) error
}
