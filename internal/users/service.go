package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/notifications"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound      = user.ErrNotFound
	ErrEmailTaken    = user.ErrEmailTaken
	ErrForbidden     = errors.New("not allowed to modify this account")
	ErrInvalidRole   = errors.New("role must be User or Admin")
	ErrWrongPassword = errors.New("current password is incorrect")
	ErrSelfDemotion  = errors.New("admins cannot remove their own admin role")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Store interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	List(ctx context.Context, limit, offset int) ([]user.User, error)
	UpdateProfile(ctx context.Context, u user.User) (user.User, error)
	UpdatePassword(ctx context.Context, id, hash, salt string) error
	UpdateRole(ctx context.Context, id string, role user.Role) error
}

type PasswordHasher interface {
	Hash(plain string) (hash string, salt string, err error)
	Verify(plain, hash, salt string) bool
}

type Service struct {
	store    Store
	hasher   PasswordHasher
	notifier notifications.Notifier
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store Store, hasher PasswordHasher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		log:    log.With(slog.String("component", "users")),
		tracer: otel.Tracer("userhub/users"),
		now:    time.Now,
	}
}

// WithNotifier sends security notices for password and role changes.
func (s *Service) WithNotifier(n notifications.Notifier) *Service {
	s.notifier = n
	return s
}

// notify is best effort; the account change has already been committed.
func (s *Service) notify(ctx context.Context, kind notifications.NoticeKind, u user.User, actorID, detail string) {
	if s.notifier == nil {
		return
	}

	err := s.notifier.SendSecurityNotice(ctx, notifications.SecurityNotice{
		Kind:    kind,
		UserID:  u.ID,
		Email:   u.Email,
		Name:    u.FullName(),
		ActorID: actorID,
		Detail:  detail,
		At:      s.now().UTC(),
	})
	if err != nil {
		s.log.WarnContext(ctx, "security notice not sent",
			slog.String("kind", string(kind)),
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	}
}

// Register creates an active, unverified account with the User role.
func (s *Service) Register(ctx context.Context, req user.RegisterRequest) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "users.Register")
	defer span.End()

	hash, salt, err := s.hasher.Hash(req.Password)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.Create(ctx, user.User{
		Email:        user.NormalizeEmail(req.Email),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		PasswordSalt: salt,
		IsActive:     true,
		Role:         user.RoleUser,
	})
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return user.User{}, ErrEmailTaken
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.InfoContext(ctx, "user registered", slog.String("user_id", u.ID))
	return u, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (user.User, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]user.User, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// UpdateProfile applies the non-nil fields of req. Callers may edit their own
// profile; admins may edit anyone's and are the only ones allowed to touch
// the active and verified flags. A self-service email change clears the
// verified flag.
func (s *Service) UpdateProfile(ctx context.Context, actor actorctx.Principal, id string, req user.UpdateProfileRequest) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "users.UpdateProfile")
	defer span.End()

	if actor.UserID != id && !actor.IsAdmin() {
		return user.User{}, ErrForbidden
	}
	if (req.IsActive != nil || req.IsEmailVerified != nil) && !actor.IsAdmin() {
		return user.User{}, ErrForbidden
	}

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.Email != nil {
		email := user.NormalizeEmail(*req.Email)
		if email != u.Email && !actor.IsAdmin() {
			u.IsEmailVerified = false
		}
		u.Email = email
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsEmailVerified != nil {
		u.IsEmailVerified = *req.IsEmailVerified
	}

	updated, err := s.store.UpdateProfile(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	s.log.InfoContext(ctx, "profile updated",
		slog.String("user_id", id),
		slog.String("actor_id", actor.UserID),
	)
	return updated, nil
}

// ChangePassword replaces hash and salt after checking the current password.
// The refresh slot is left as it is.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx, span := s.tracer.Start(ctx, "users.ChangePassword")
	defer span.End()

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(current, u.PasswordHash, u.PasswordSalt) {
		return ErrWrongPassword
	}

	hash, salt, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, id, hash, salt); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "password changed", slog.String("user_id", id))
	s.notify(ctx, notifications.NoticePasswordChanged, u, id, "")
	return nil
}

func (s *Service) ChangeRole(ctx context.Context, actor actorctx.Principal, id, role string) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "users.ChangeRole")
	defer span.End()

	if !actor.IsAdmin() {
		return user.User{}, ErrForbidden
	}

	r, ok := user.ParseRole(role)
	if !ok {
		return user.User{}, ErrInvalidRole
	}
	if actor.UserID == id && r != user.RoleAdmin {
		return user.User{}, ErrSelfDemotion
	}

	if err := s.store.UpdateRole(ctx, id, r); err != nil {
		return user.User{}, err
	}

	s.log.InfoContext(ctx, "role changed",
		slog.String("user_id", id),
		slog.String("actor_id", actor.UserID),
		slog.String("role", r.String()),
	)

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	s.notify(ctx, notifications.NoticeRoleChanged, u, actor.UserID, r.String())
	return u, nil
}
