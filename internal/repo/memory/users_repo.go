package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo is a process-local user store. Every method works on copies so
// callers never share record memory with the store.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // id -> user
	byEmail map[string]string    // normalized email -> id
	now     func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	email := user.NormalizeEmail(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[email]; taken {
		return user.User{}, user.ErrEmailTaken
	}

	now := r.now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	r.items[u.ID] = cloneUser(u)
	r.byEmail[email] = u.ID

	return cloneUser(u), nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return cloneUser(r.items[id]), nil
}

func (r *UsersRepo) GetByRefreshToken(_ context.Context, tokenHash string) (user.User, error) {
	if tokenHash == "" {
		return user.User{}, user.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.RefreshToken != nil && *u.RefreshToken == tokenHash {
			return cloneUser(u), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) List(_ context.Context, limit, offset int) ([]user.User, error) {
	r.mu.RLock()
	out := make([]user.User, 0, len(r.items))
	for _, u := range r.items {
		out = append(out, cloneUser(u))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []user.User{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *UsersRepo) UpdateProfile(_ context.Context, u user.User) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[u.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	email := user.NormalizeEmail(u.Email)
	if email != cur.Email {
		if _, taken := r.byEmail[email]; taken {
			return user.User{}, user.ErrEmailTaken
		}
		delete(r.byEmail, cur.Email)
		r.byEmail[email] = cur.ID
	}

	cur.Email = email
	cur.FirstName = u.FirstName
	cur.LastName = u.LastName
	cur.IsActive = u.IsActive
	cur.IsEmailVerified = u.IsEmailVerified
	cur.UpdatedAt = r.now().UTC()

	r.items[cur.ID] = cur
	return cloneUser(cur), nil
}

func (r *UsersRepo) UpdatePassword(_ context.Context, id, hash, salt string) error {
	return r.mutate(id, func(u *user.User) error {
		u.PasswordHash = hash
		u.PasswordSalt = salt
		return nil
	})
}

func (r *UsersRepo) UpdateRole(_ context.Context, id string, role user.Role) error {
	return r.mutate(id, func(u *user.User) error {
		u.Role = role
		return nil
	})
}

// SaveRefreshToken overwrites the refresh slot. With expectedPrevious set the
// write only happens if the slot still holds that value.
func (r *UsersRepo) SaveRefreshToken(_ context.Context, id, tokenHash string, expiresAt time.Time, expectedPrevious *string) error {
	return r.mutate(id, func(u *user.User) error {
		if expectedPrevious != nil && (u.RefreshToken == nil || *u.RefreshToken != *expectedPrevious) {
			return user.ErrRefreshTokenConflict
		}
		token := tokenHash
		exp := expiresAt.UTC()
		u.RefreshToken = &token
		u.RefreshTokenExpiryTime = &exp
		return nil
	})
}

func (r *UsersRepo) TouchRefreshToken(_ context.Context, id string, usedAt time.Time) error {
	return r.mutate(id, func(u *user.User) error {
		at := usedAt.UTC()
		u.RefreshTokenUseCount++
		u.RefreshTokenLastUsedAt = &at
		return nil
	})
}

func (r *UsersRepo) ClearRefreshToken(_ context.Context, id string) error {
	return r.mutate(id, func(u *user.User) error {
		u.RefreshToken = nil
		u.RefreshTokenExpiryTime = nil
		return nil
	})
}

func (r *UsersRepo) ClearExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, u := range r.items {
		if u.RefreshTokenExpiryTime != nil && !now.Before(*u.RefreshTokenExpiryTime) {
			u.RefreshToken = nil
			u.RefreshTokenExpiryTime = nil
			u.UpdatedAt = r.now().UTC()
			r.items[id] = u
			n++
		}
	}
	return n, nil
}

// Ping lets the memory store stand in wherever a readiness check expects one.
func (r *UsersRepo) Ping(context.Context) error {
	return nil
}

func (r *UsersRepo) mutate(id string, fn func(u *user.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	if err := fn(&u); err != nil {
		return err
	}

	u.UpdatedAt = r.now().UTC()
	r.items[id] = u
	return nil
}

func cloneUser(u user.User) user.User {
	if u.RefreshToken != nil {
		v := *u.RefreshToken
		u.RefreshToken = &v
	}
	if u.RefreshTokenExpiryTime != nil {
		v := *u.RefreshTokenExpiryTime
		u.RefreshTokenExpiryTime = &v
	}
	if u.RefreshTokenLastUsedAt != nil {
		v := *u.RefreshTokenLastUsedAt
		u.RefreshTokenLastUsedAt = &v
	}
	return u
}
