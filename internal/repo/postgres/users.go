package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound     = user.ErrNotFound
	ErrEmailAlreadyUsed = user.ErrEmailTaken
)

// DB is the subset of pgxpool.Pool the repository needs. pgx.Tx satisfies it
// as well, and so does pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Observer times a logical DB operation. observability.Prom implements it.
type Observer interface {
	ObserveDB(op string, fn func() error) error
}

type noopObserver struct{}

func (noopObserver) ObserveDB(_ string, fn func() error) error { return fn() }

type UsersRepo struct {
	db  DB
	obs Observer
}

func NewUsersRepo(db DB, obs Observer) *UsersRepo {
	if obs == nil {
		obs = noopObserver{}
	}
	return &UsersRepo{db: db, obs: obs}
}

const userColumns = `id, email, first_name, last_name, password_hash, password_salt,
	is_active, is_email_verified, role,
	refresh_token, refresh_token_expiry_time, refresh_token_use_count, refresh_token_last_used_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u    user.User
		role string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.PasswordSalt,
		&u.IsActive,
		&u.IsEmailVerified,
		&role,
		&u.RefreshToken,
		&u.RefreshTokenExpiryTime,
		&u.RefreshTokenUseCount,
		&u.RefreshTokenLastUsedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	var out user.User
	err := r.obs.ObserveDB("users.create", func() error {
		var err error
		out, err = scanUser(r.db.QueryRow(ctx,
			`INSERT INTO users (id, email, first_name, last_name, password_hash, password_salt,
				is_active, is_email_verified, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING `+userColumns,
			u.ID,
			user.NormalizeEmail(u.Email),
			u.FirstName,
			u.LastName,
			u.PasswordHash,
			u.PasswordSalt,
			u.IsActive,
			u.IsEmailVerified,
			string(u.Role),
			now,
		))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	return out, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, user.NormalizeEmail(email))
}

func (r *UsersRepo) getOne(ctx context.Context, op, query string, arg any) (user.User, error) {
	var u user.User

	err := r.obs.ObserveDB(op, func() error {
		var err error
		u, err = scanUser(r.db.QueryRow(ctx, query, arg))
		if errors.Is(err, ErrUserNotFound) {
			// a miss is not a DB failure
			return nil
		}
		return err
	})
	if err != nil {
		return user.User{}, err
	}
	if u.ID == "" {
		return user.User{}, ErrUserNotFound
	}

	return u, nil
}

func (r *UsersRepo) List(ctx context.Context, limit, offset int) ([]user.User, error) {
	if limit <= 0 {
		limit = 50
	}

	out := make([]user.User, 0, limit)

	err := r.obs.ObserveDB("users.list", func() error {
		rows, err := r.db.Query(ctx,
			`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return out, nil
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, u user.User) (user.User, error) {
	var out user.User

	err := r.obs.ObserveDB("users.update_profile", func() error {
		var err error
		out, err = scanUser(r.db.QueryRow(ctx,
			`UPDATE users
			SET email = $2, first_name = $3, last_name = $4, is_active = $5, is_email_verified = $6, updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns,
			u.ID,
			user.NormalizeEmail(u.Email),
			u.FirstName,
			u.LastName,
			u.IsActive,
			u.IsEmailVerified,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return user.User{}, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}
		return user.User{}, fmt.Errorf("update user: %w", err)
	}

	return out, nil
}

// UpdatePassword writes hash and salt in one statement so they never diverge.
func (r *UsersRepo) UpdatePassword(ctx context.Context, id, hash, salt string) error {
	return r.execOne(ctx, "users.update_password",
		`UPDATE users SET password_hash = $2, password_salt = $3, updated_at = NOW() WHERE id = $1`,
		id, hash, salt,
	)
}

func (r *UsersRepo) UpdateRole(ctx context.Context, id string, role user.Role) error {
	return r.execOne(ctx, "users.update_role",
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`,
		id, string(role),
	)
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// execOne runs a single-row update and maps "no row touched" to ErrUserNotFound.
func (r *UsersRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	var tag pgconn.CommandTag

	err := r.obs.ObserveDB(op, func() error {
		var err error
		tag, err = r.db.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
