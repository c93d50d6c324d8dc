package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/domain/user"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const TokenTypeBearer = "Bearer"

type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	ExpiresAt             time.Time `json:"expiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	TokenType             string    `json:"tokenType"`
}

// Login checks credentials, refuses inactive accounts and issues a fresh pair.
// A failure to persist the refresh token is logged; the caller still gets
// the pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Login")
	defer span.End()

	u, err := s.ValidateCredentials(ctx, email, password)
	if err != nil {
		s.metrics.AuthEvent("login", "invalid_credentials")
		return TokenPair{}, err
	}

	if !u.IsActive {
		s.metrics.AuthEvent("login", "inactive")
		return TokenPair{}, ErrAccountInactive
	}

	pair, err := s.issue(u)
	if err != nil {
		span.SetStatus(codes.Error, "issue failed")
		s.metrics.AuthEvent("login", "error")
		return TokenPair{}, err
	}

	if !s.SaveRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshTokenExpiresAt) {
		s.log.ErrorContext(ctx, "login succeeded without a stored refresh token", slog.String("user_id", u.ID))
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	s.metrics.AuthEvent("login", "ok")
	s.log.InfoContext(ctx, "user logged in", slog.String("user_id", u.ID))

	return pair, nil
}

// Refresh rotates the presented refresh token. The overwrite is conditional on
// the slot still holding the presented token, so of two concurrent rotations
// only one is accepted.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Refresh")
	defer span.End()

	u, err := s.ValidateRefreshToken(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			s.log.ErrorContext(ctx, "refresh lookup failed", slog.Any("error", err))
			s.metrics.AuthEvent("refresh", "error")
		} else {
			s.metrics.AuthEvent("refresh", "invalid_token")
		}
		return TokenPair{}, err
	}

	if !u.IsActive {
		s.metrics.AuthEvent("refresh", "inactive")
		return TokenPair{}, ErrAccountInactive
	}

	pair, err := s.issue(u)
	if err != nil {
		span.SetStatus(codes.Error, "issue failed")
		s.metrics.AuthEvent("refresh", "error")
		return TokenPair{}, err
	}

	previous := s.tokens.HashRefreshToken(raw)
	err = s.users.SaveRefreshToken(ctx, u.ID, s.tokens.HashRefreshToken(pair.RefreshToken), pair.RefreshTokenExpiresAt, &previous)
	switch {
	case errors.Is(err, user.ErrRefreshTokenConflict):
		s.log.WarnContext(ctx, "refresh token rotated concurrently", slog.String("user_id", u.ID))
		s.metrics.AuthEvent("refresh", "conflict")
		return TokenPair{}, ErrInvalidRefreshToken
	case err != nil:
		s.log.ErrorContext(ctx, "rotated refresh token not stored",
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	s.metrics.AuthEvent("refresh", "ok")

	return pair, nil
}

// Logout revokes the principal's refresh token. Revocation failures are only
// logged; a resolved principal always logs out.
func (s *Service) Logout(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "authz.Logout")
	defer span.End()

	if userID == "" {
		s.metrics.AuthEvent("logout", "unauthenticated")
		return auth.ErrUnauthenticated
	}

	if !s.RevokeRefreshToken(ctx, userID) {
		s.log.ErrorContext(ctx, "logout could not revoke refresh token", slog.String("user_id", userID))
	}

	s.metrics.AuthEvent("logout", "ok")
	s.log.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

func (s *Service) issue(u *user.User) (TokenPair, error) {
	access, accessExp, err := s.tokens.GenerateAccessToken(u.ID, u.Email, u.FirstName, u.LastName, u.Role.String())
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate access token: %w", err)
	}

	refresh, refreshExp, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		ExpiresAt:             accessExp,
		RefreshTokenExpiresAt: refreshExp,
		TokenType:             TokenTypeBearer,
	}, nil
}
