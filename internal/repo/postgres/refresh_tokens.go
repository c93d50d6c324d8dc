package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrRefreshTokenConflict = user.ErrRefreshTokenConflict

// The refresh token lives in a single slot on the users row: token digest and
// expiry are always written or cleared by the same statement.

func (r *UsersRepo) GetByRefreshToken(ctx context.Context, tokenHash string) (user.User, error) {
	if tokenHash == "" {
		return user.User{}, ErrUserNotFound
	}
	return r.getOne(ctx, "users.get_by_refresh_token",
		`SELECT `+userColumns+` FROM users WHERE refresh_token = $1`, tokenHash)
}

// SaveRefreshToken overwrites the slot. When expectedPrevious is non-nil the
// update is conditional on the slot still holding that digest, so two
// concurrent rotations of the same token cannot both succeed.
func (r *UsersRepo) SaveRefreshToken(ctx context.Context, id, tokenHash string, expiresAt time.Time, expectedPrevious *string) error {
	if expectedPrevious == nil {
		return r.execOne(ctx, "users.save_refresh_token",
			`UPDATE users
			SET refresh_token = $2, refresh_token_expiry_time = $3, updated_at = NOW()
			WHERE id = $1`,
			id, tokenHash, expiresAt.UTC(),
		)
	}

	var tag pgconn.CommandTag
	err := r.obs.ObserveDB("users.rotate_refresh_token", func() error {
		var err error
		tag, err = r.db.Exec(ctx,
			`UPDATE users
			SET refresh_token = $2, refresh_token_expiry_time = $3, updated_at = NOW()
			WHERE id = $1 AND refresh_token = $4`,
			id, tokenHash, expiresAt.UTC(), *expectedPrevious,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRefreshTokenConflict
	}
	return nil
}

func (r *UsersRepo) TouchRefreshToken(ctx context.Context, id string, usedAt time.Time) error {
	return r.execOne(ctx, "users.touch_refresh_token",
		`UPDATE users
		SET refresh_token_use_count = refresh_token_use_count + 1, refresh_token_last_used_at = $2
		WHERE id = $1`,
		id, usedAt.UTC(),
	)
}

func (r *UsersRepo) ClearRefreshToken(ctx context.Context, id string) error {
	return r.execOne(ctx, "users.clear_refresh_token",
		`UPDATE users
		SET refresh_token = NULL, refresh_token_expiry_time = NULL, updated_at = NOW()
		WHERE id = $1`,
		id,
	)
}

// ClearExpiredRefreshTokens moves every EXPIRED slot to EMPTY.
func (r *UsersRepo) ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	var tag pgconn.CommandTag

	err := r.obs.ObserveDB("users.clear_expired_refresh_tokens", func() error {
		var err error
		tag, err = r.db.Exec(ctx,
			`UPDATE users
			SET refresh_token = NULL, refresh_token_expiry_time = NULL, updated_at = NOW()
			WHERE refresh_token_expiry_time IS NOT NULL AND refresh_token_expiry_time <= $1`,
			now.UTC(),
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", err)
	}

	return tag.RowsAffected(), nil
}
