package middlewares

import (
	"net/http"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt    TokenVerifier
	tokens *transport.Transport
}

func NewAuthMiddleware(jwt TokenVerifier, tokens *transport.Transport) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, tokens: tokens}
}

// RequireAuth resolves the principal from the access token (cookie or
// Authorization header) and rejects the request when there is none.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := m.tokens.AccessToken(c)
		if raw == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid access token")
			return
		}

		claims, err := m.jwt.VerifyAccessToken(raw)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired access token")
			return
		}

		p := actorctx.Principal{
			UserID: claims.UserID(),
			Email:  claims.Email,
			Role:   user.Role(claims.Role),
		}

		// Stash identity on both the gin and the request context
		c.Set(CtxClaims, claims)
		c.Set(CtxPrincipal, p)
		c.Request = c.Request.WithContext(actorctx.WithPrincipal(c.Request.Context(), p))

		c.Next()
	}
}

// Optional helpers so handlers don't need to know the magic keys.

func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(CtxClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

func PrincipalFromContext(c *gin.Context) (actorctx.Principal, bool) {
	v, ok := c.Get(CtxPrincipal)
	if !ok {
		return actorctx.Principal{}, false
	}
	p, ok := v.(actorctx.Principal)
	return p, ok && p.UserID != ""
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	p, ok := PrincipalFromContext(c)
	return p.UserID, ok
}

func abortError(c *gin.Context, status int, code, message string) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if id := c.GetString(CtxRequestID); id != "" {
		body["requestId"] = id
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
