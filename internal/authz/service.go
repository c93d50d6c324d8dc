package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrPersistence         = errors.New("user store failure")
)

// UserStore is the slice of the user repository the service depends on.
// Both repo/memory and repo/postgres satisfy it.
type UserStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByRefreshToken(ctx context.Context, tokenHash string) (user.User, error)
	SaveRefreshToken(ctx context.Context, id, tokenHash string, expiresAt time.Time, expectedPrevious *string) error
	TouchRefreshToken(ctx context.Context, id string, usedAt time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error
}

type PasswordVerifier interface {
	Verify(plain, hash, salt string) bool
}

type TokenIssuer interface {
	GenerateAccessToken(userID, email, firstName, lastName, role string) (string, time.Time, error)
	GenerateRefreshToken() (string, time.Time, error)
	HashRefreshToken(raw string) string
}

// Recorder counts auth outcomes. observability.Prom implements it.
type Recorder interface {
	AuthEvent(op, result string)
}

type noopRecorder struct{}

func (noopRecorder) AuthEvent(string, string) {}

// A well-formed but unmatchable credential. Verifying against it when the
// email is unknown keeps both failure paths at roughly the same cost.
const (
	dummyHash = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	dummySalt = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
)

type Service struct {
	users   UserStore
	hasher  PasswordVerifier
	tokens  TokenIssuer
	log     *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

func NewService(users UserStore, hasher PasswordVerifier, tokens TokenIssuer, log *slog.Logger, metrics Recorder) *Service {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		log:     log.With(slog.String("component", "authz")),
		metrics: metrics,
		tracer:  otel.Tracer("userhub/authz"),
		now:     time.Now,
	}
}

// WithClock returns a copy of the service reading time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

// ValidateCredentials returns the account for email when password matches.
// Unknown email and wrong password are the same error. The active flag is
// left to the caller.
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) (*user.User, error) {
	ctx, span := s.tracer.Start(ctx, "authz.ValidateCredentials")
	defer span.End()

	if email == "" || password == "" {
		s.hasher.Verify(password, dummyHash, dummySalt)
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.log.ErrorContext(ctx, "credential lookup failed", slog.Any("error", err))
			span.SetStatus(codes.Error, "lookup failed")
		}
		s.hasher.Verify(password, dummyHash, dummySalt)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, u.PasswordHash, u.PasswordSalt) {
		return nil, ErrInvalidCredentials
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	return &u, nil
}

// SaveRefreshToken hashes raw and overwrites the user's refresh slot.
func (s *Service) SaveRefreshToken(ctx context.Context, userID, raw string, expiresAt time.Time) bool {
	if userID == "" || raw == "" {
		return false
	}

	err := s.users.SaveRefreshToken(ctx, userID, s.tokens.HashRefreshToken(raw), expiresAt, nil)
	if err != nil {
		s.log.WarnContext(ctx, "save refresh token failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// ValidateRefreshToken resolves the account holding raw in its slot. The
// slot must carry an expiry in the future. A successful check bumps the
// use counter.
func (s *Service) ValidateRefreshToken(ctx context.Context, raw string) (*user.User, error) {
	ctx, span := s.tracer.Start(ctx, "authz.ValidateRefreshToken")
	defer span.End()

	if raw == "" {
		return nil, ErrInvalidRefreshToken
	}

	u, err := s.users.GetByRefreshToken(ctx, s.tokens.HashRefreshToken(raw))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		span.SetStatus(codes.Error, "lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := s.now().UTC()
	if !u.HasLiveRefreshToken(now) {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.users.TouchRefreshToken(ctx, u.ID, now); err != nil {
		s.log.WarnContext(ctx, "refresh token usage not recorded",
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	} else {
		u.RefreshTokenUseCount++
		u.RefreshTokenLastUsedAt = &now
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	return &u, nil
}

// RevokeRefreshToken empties the user's refresh slot.
func (s *Service) RevokeRefreshToken(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "revoke refresh token failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// RevokeAllRefreshTokens has the same effect as RevokeRefreshToken while
// accounts hold a single slot.
func (s *Service) RevokeAllRefreshTokens(ctx context.Context, userID string) bool {
	return s.RevokeRefreshToken(ctx, userID)
}
