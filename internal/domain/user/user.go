package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound             = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already in use")
	ErrRefreshTokenConflict = errors.New("refresh token slot changed concurrently")
)

// User is the persisted account record. Credential and refresh-token fields
// never leave the server.
type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	PasswordHash    string `json:"-"`
	PasswordSalt    string `json:"-"`
	IsActive        bool   `json:"isActive"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	Role            Role   `json:"role"`

	// single refresh-token slot: token and expiry are written and cleared together
	RefreshToken           *string    `json:"-"`
	RefreshTokenExpiryTime *time.Time `json:"-"`
	RefreshTokenUseCount   int        `json:"-"`
	RefreshTokenLastUsedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasLiveRefreshToken reports whether the slot holds a token that has not expired at now.
func (u User) HasLiveRefreshToken(now time.Time) bool {
	if u.RefreshToken == nil || u.RefreshTokenExpiryTime == nil {
		return false
	}
	return now.Before(*u.RefreshTokenExpiryTime)
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
