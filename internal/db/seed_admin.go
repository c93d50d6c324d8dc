package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geocoder89/userhub/internal/domain/user"
)

type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	UpdateRole(ctx context.Context, id string, role user.Role) error
}

type PasswordHasher interface {
	Hash(plain string) (hash string, salt string, err error)
}

type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// EnsureAdminUser creates the configured admin when no account uses its email,
// and promotes an existing account that is not yet an admin. The password of
// an existing account is never touched. An empty seed is a no-op.
func EnsureAdminUser(ctx context.Context, store AdminStore, hasher PasswordHasher, seed AdminSeed, log *slog.Logger) error {
	if seed.Email == "" || seed.Password == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}

	existing, err := store.GetByEmail(ctx, seed.Email)
	if err == nil {
		if existing.Role == user.RoleAdmin {
			return nil
		}
		if err := store.UpdateRole(ctx, existing.ID, user.RoleAdmin); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
		log.InfoContext(ctx, "existing user promoted to admin", slog.String("user_id", existing.ID))
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, salt, err := hasher.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	u, err := store.Create(ctx, user.User{
		Email:           user.NormalizeEmail(seed.Email),
		FirstName:       seed.FirstName,
		LastName:        seed.LastName,
		PasswordHash:    hash,
		PasswordSalt:    salt,
		IsActive:        true,
		IsEmailVerified: true,
		Role:            user.RoleAdmin,
	})
	if err != nil {
		// another replica won the race
		if errors.Is(err, user.ErrEmailTaken) {
			return nil
		}
		return fmt.Errorf("create admin: %w", err)
	}

	log.InfoContext(ctx, "admin user created", slog.String("user_id", u.ID))
	return nil
}
