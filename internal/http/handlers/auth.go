package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/geocoder89/userhub/internal/authz"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/geocoder89/userhub/internal/users"
	"github.com/gin-gonic/gin"
)

type AuthFlows interface {
	Login(ctx context.Context, email, password string) (authz.TokenPair, error)
	Refresh(ctx context.Context, raw string) (authz.TokenPair, error)
	Logout(ctx context.Context, userID string) error
}

type Registrar interface {
	Register(ctx context.Context, req user.RegisterRequest) (user.User, error)
}

type AuthHandler struct {
	flows     AuthFlows
	registrar Registrar
	tokens    *transport.Transport
}

func NewAuthHandler(flows AuthFlows, registrar Registrar, tokens *transport.Transport) *AuthHandler {
	return &AuthHandler{
		flows:     flows,
		registrar: registrar,
		tokens:    tokens,
	}
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.registrar.Register(ctx.Request.Context(), req)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	pair, err := h.flows.Login(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrInvalidCredentials):
			RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		case errors.Is(err, authz.ErrAccountInactive):
			RespondForbidden(ctx, "account_inactive", "This account is disabled.")
		default:
			RespondInternal(ctx, "Could not log in")
		}
		return
	}

	h.respondTokens(ctx, pair)
}

// Refresh takes the refresh token from the cookie (cookie mode) or the
// request body, and answers with a rotated pair.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req user.RefreshRequest

	if !BindOptionalJSON(ctx, &req) {
		return
	}

	raw := h.tokens.RefreshToken(ctx, req.RefreshToken)
	if raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	pair, err := h.flows.Refresh(ctx.Request.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrInvalidRefreshToken):
			h.tokens.ClearTokens(ctx)
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid or expired refresh token")
		case errors.Is(err, authz.ErrAccountInactive):
			h.tokens.ClearTokens(ctx)
			RespondForbidden(ctx, "account_inactive", "This account is disabled.")
		default:
			RespondInternal(ctx, "Could not refresh session")
		}
		return
	}

	h.respondTokens(ctx, pair)
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	if err := h.flows.Logout(ctx.Request.Context(), userID); err != nil {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	h.tokens.ClearTokens(ctx)
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) respondTokens(ctx *gin.Context, pair authz.TokenPair) {
	h.tokens.SetTokens(ctx, pair.AccessToken, pair.ExpiresAt, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	ctx.JSON(http.StatusOK, pair)
}
