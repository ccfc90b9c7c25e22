package auth

import (
	"errors"
	"regexp"
)

// usernamePattern: alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks operator username format.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is an operator's authorisation tier for the local API.
type Role string

const (
	// RoleViewer may read the inventory, performance samples and audit log.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally register devices and run connect,
	// restart and shutdown.
	RoleOperator Role = "operator"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleViewer || r == RoleOperator
}

// Operator is an API account defined in the security.operators config.
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// Errors.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrInvalidOperator    = errors.New("auth: invalid operator")
)
