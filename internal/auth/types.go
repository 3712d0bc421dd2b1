package auth

import "errors"

// Role is the authorisation tier carried in an access token.
type Role string

const (
	// RoleViewer may read bridge status and subscribe to events.
	RoleViewer Role = "viewer"

	// RoleOperator may also start bridges and send commands to them.
	RoleOperator Role = "operator"

	// RoleAdmin has every permission, including minting tokens.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles accepted in tokens.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for token handling.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrEmptySecret  = errors.New("signing secret is empty")
	ErrForbidden    = errors.New("insufficient permissions")
)
