package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserService interface {
	GetProfile(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context, limit, offset int) ([]user.User, error)
	UpdateProfile(ctx context.Context, actor actorctx.Principal, id string, req user.UpdateProfileRequest) (user.User, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	ChangeRole(ctx context.Context, actor actorctx.Principal, id, role string) (user.User, error)
}

type UsersHandler struct {
	svc UserService
}

func NewUsersHandler(svc UserService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

type ListUsersResponse struct {
	Items  []user.User `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// GET /users/me
func (h *UsersHandler) Me(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	u, err := h.svc.GetProfile(ctx.Request.Context(), p.UserID)
	if err != nil {
		respondUserError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// PUT /users/me
func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	h.update(ctx, p, p.UserID)
}

// PUT /users/me/password
func (h *UsersHandler) ChangeMyPassword(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req user.ChangePasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := h.svc.ChangePassword(ctx.Request.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondUserError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// GET /users?limit=&offset=
func (h *UsersHandler) List(ctx *gin.Context) {
	limit, err := queryInt(ctx, "limit", users.DefaultPageSize)
	if err != nil {
		RespondBadRequest(ctx, "limit must be a number", nil)
		return
	}
	offset, err := queryInt(ctx, "offset", 0)
	if err != nil {
		RespondBadRequest(ctx, "offset must be a number", nil)
		return
	}

	items, err := h.svc.List(ctx.Request.Context(), limit, offset)
	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	if limit > users.MaxPageSize {
		limit = users.MaxPageSize
	}
	ctx.JSON(http.StatusOK, ListUsersResponse{Items: items, Limit: limit, Offset: offset})
}

// GET /users/:id
func (h *UsersHandler) Get(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	u, err := h.svc.GetProfile(ctx.Request.Context(), id)
	if err != nil {
		respondUserError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// PUT /users/:id
func (h *UsersHandler) Update(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx)
	if !ok {
		return
	}
	h.update(ctx, p, id)
}

// PUT /users/:id/role
func (h *UsersHandler) ChangeRole(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	var req user.ChangeRoleRequest
	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.ChangeRole(ctx.Request.Context(), p, id, req.Role)
	if err != nil {
		respondUserError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) update(ctx *gin.Context, p actorctx.Principal, id string) {
	var req user.UpdateProfileRequest
	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.UpdateProfile(ctx.Request.Context(), p, id, req)
	if err != nil {
		respondUserError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func respondUserError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, users.ErrEmailTaken):
		RespondConflict(ctx, "email_taken", "Email is already in use.")
	case errors.Is(err, users.ErrForbidden):
		RespondForbidden(ctx, "forbidden", "You do not have access to this resource")
	case errors.Is(err, users.ErrSelfDemotion):
		RespondConflict(ctx, "self_demotion", "You cannot remove your own admin role.")
	case errors.Is(err, users.ErrInvalidRole):
		RespondBadRequest(ctx, "Role must be User or Admin", nil)
	case errors.Is(err, users.ErrWrongPassword):
		RespondBadRequest(ctx, "Current password is incorrect", nil)
	default:
		RespondInternal(ctx, "Could not process request")
	}
}

func principal(ctx *gin.Context) (actorctx.Principal, bool) {
	p, ok := middlewares.PrincipalFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
	}
	return p, ok
}

func pathID(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		RespondBadRequest(ctx, "Invalid user id", nil)
		return "", false
	}
	return id, true
}

func queryInt(ctx *gin.Context, key string, def int) (int, error) {
	raw := ctx.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
