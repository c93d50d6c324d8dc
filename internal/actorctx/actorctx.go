package actorctx

import (
	"context"

	"github.com/geocoder89/userhub/internal/domain/user"
)

type ctxKey struct{}

// Principal is the authenticated caller as resolved from an access token.
type Principal struct {
	UserID string
	Email  string
	Role   user.Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == user.RoleAdmin
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)

	return p, ok && p.UserID != ""
}
