package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"therapyhub.io/shared/pg/model"
)

// PrincipalType is the closed set of account kinds a principal may have.
type PrincipalType = model.AccountType

const (
	PrincipalAdmin     = model.AccountAdmin
	PrincipalTherapist = model.AccountTherapist
	PrincipalPatient   = model.AccountPatient
)

// Role labels used to look up permissions.
const (
	RoleAdmin     = "admin"
	RoleTherapist = "therapist"
	RolePatient   = "patient"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Principal is the authenticated caller, rebuilt from verified claims on every
// request and never persisted.
type Principal struct {
	ID    string        `json:"id"`
	Email string        `json:"email"`
	Type  PrincipalType `json:"type"`
	Role  string        `json:"role"`
}

// Claims carried by access and refresh tokens.
type Claims struct {
	UserID    string        `json:"id"`
	Email     string        `json:"email"`
	Type      PrincipalType `json:"type"`
	Role      string        `json:"role"`
	TokenType TokenType     `json:"token_type"`
	jwt.RegisteredClaims
}

// Principal returns the principal the claims describe.
func (c *Claims) Principal() *Principal {
	return &Principal{
		ID:    c.UserID,
		Email: c.Email,
		Type:  c.Type,
		Role:  c.Role,
	}
}

// ResolveRole maps a principal to the role whose permissions it holds.
// Administrators carry their own role; therapists and patients always get the
// fixed role of their type, whatever the claims say.
func ResolveRole(p *Principal) (string, error) {
	switch p.Type {
	case PrincipalAdmin:
		if p.Role == "" {
			return RoleAdmin, nil
		}
		return p.Role, nil
	case PrincipalTherapist:
		return RoleTherapist, nil
	case PrincipalPatient:
		return RolePatient, nil
	default:
		return "", Forbidden("unknown principal type")
	}
}
