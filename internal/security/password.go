package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 32 // 256-bit salt
	KeySize    = 32 // 256-bit derived key
	Iterations = 100_000
)

var ErrInvalidPassword = errors.New("password must not be empty")

// Hasher derives password hashes with PBKDF2-HMAC-SHA256. It holds no mutable
// state and is safe for concurrent use.
type Hasher struct {
	iterations int
}

func NewHasher() *Hasher {
	return &Hasher{iterations: Iterations}
}

// Hash salts and hashes a plain text password. Hash and salt are returned as
// standard base64 text and must be stored together.
func (h *Hasher) Hash(plain string) (hash string, salt string, err error) {
	if strings.TrimSpace(plain) == "" {
		return "", "", ErrInvalidPassword
	}

	saltBytes := make([]byte, SaltSize)

	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(plain), saltBytes, h.iterations, KeySize, sha256.New)

	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(saltBytes), nil
}

// Verify recomputes the hash with the stored salt and compares in constant time.
// Malformed input of any kind is a failed verification, never an error.
func (h *Hasher) Verify(plain, hash, salt string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if plain == "" || hash == "" || salt == "" {
		return false
	}

	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(want) != KeySize {
		return false
	}

	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(plain), saltBytes, h.iterations, KeySize, sha256.New)

	return subtle.ConstantTimeCompare(got, want) == 1
}

var defaultHasher = NewHasher()

// HashPassword hashes with the package default hasher.
func HashPassword(plain string) (string, string, error) {
	return defaultHasher.Hash(plain)
}

// CheckPassword verifies with the package default hasher.
func CheckPassword(plain, hash, salt string) bool {
	return defaultHasher.Verify(plain, hash, salt)
}
