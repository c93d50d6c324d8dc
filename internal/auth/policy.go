package auth

import (
	"errors"

	"github.com/geocoder89/userhub/internal/domain/user"
)

// Policy is a named authorization rule evaluated against access-token claims.
type Policy string

const (
	PolicyAuthenticated Policy = "RequireAuthenticatedUser"
	PolicyAdminOnly     Policy = "AdminOnly"
	PolicyUserOrAdmin   Policy = "UserOrAdmin"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient role")
	ErrUnknownPolicy   = errors.New("unknown policy")
)

// Evaluate returns nil when the principal satisfies the policy,
// ErrUnauthenticated when there is no principal and ErrForbidden otherwise.
func (p Policy) Evaluate(claims *Claims) error {
	if claims == nil || claims.Subject == "" {
		return ErrUnauthenticated
	}

	role := user.Role(claims.Role)

	switch p {
	case PolicyAuthenticated:
		return nil
	case PolicyAdminOnly:
		if role != user.RoleAdmin {
			return ErrForbidden
		}
		return nil
	case PolicyUserOrAdmin:
		if !role.IsValid() {
			return ErrForbidden
		}
		return nil
	default:
		return ErrUnknownPolicy
	}
}
