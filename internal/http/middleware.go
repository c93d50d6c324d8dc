package http

import (
	"log/slog"
	"net/http"

	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into a generic 500 envelope. The panic value is
// logged server-side only.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(ctx *gin.Context, recovered any) {
		log.ErrorContext(ctx.Request.Context(), "panic recovered",
			slog.Any("panic", recovered),
			slog.String("route", ctx.FullPath()),
			slog.String("request_id", ctx.GetString(middlewares.CtxRequestID)),
		)

		handlers.RespondError(ctx, http.StatusInternalServerError, "internal_error", "Something went wrong", nil)
		ctx.Abort()
	})
}
