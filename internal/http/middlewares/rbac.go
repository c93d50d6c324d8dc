package middlewares

import (
	"errors"
	"net/http"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/gin-gonic/gin"
)

// RequirePolicy must run after RequireAuth. A failing policy stops the
// request before any handler sees it.
func RequirePolicy(p auth.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c)

		err := p.Evaluate(claims)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrUnauthenticated):
			abortError(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
		case errors.Is(err, auth.ErrForbidden):
			abortError(c, http.StatusForbidden, "forbidden", "You do not have access to this resource")
		default:
			abortError(c, http.StatusInternalServerError, "internal_error", "Authorization policy misconfigured")
		}
	}
}
