package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func claimsWithRole(role string) *Claims {
	return &Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"}}
}

func TestPolicyEvaluate(t *testing.T) {
	tests := []struct {
		policy Policy
		claims *Claims
		want   error
	}{
		{PolicyAuthenticated, nil, ErrUnauthenticated},
		{PolicyAuthenticated, &Claims{Role: "Admin"}, ErrUnauthenticated},
		{PolicyAuthenticated, claimsWithRole("User"), nil},
		{PolicyAuthenticated, claimsWithRole(""), nil},

		{PolicyAdminOnly, nil, ErrUnauthenticated},
		{PolicyAdminOnly, claimsWithRole("User"), ErrForbidden},
		{PolicyAdminOnly, claimsWithRole("admin"), ErrForbidden},
		{PolicyAdminOnly, claimsWithRole("Admin"), nil},

		{PolicyUserOrAdmin, claimsWithRole("User"), nil},
		{PolicyUserOrAdmin, claimsWithRole("Admin"), nil},
		{PolicyUserOrAdmin, claimsWithRole("None"), ErrForbidden},
		{PolicyUserOrAdmin, claimsWithRole(""), ErrForbidden},

		{Policy("Nope"), claimsWithRole("Admin"), ErrUnknownPolicy},
	}

	for _, tt := range tests {
		role := "<nil>"
		if tt.claims != nil {
			role = tt.claims.Role
		}
		t.Run(string(tt.policy)+"/"+role, func(t *testing.T) {
			err := tt.policy.Evaluate(tt.claims)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
