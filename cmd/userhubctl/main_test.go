package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/geocoder89/userhub/internal/db"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCLI(stdin string) (*cli, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &cli{
		stdin:  strings.NewReader(stdin),
		stdout: &out,
		stderr: &errOut,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, &out, &errOut
}

func withMemoryStore(t *testing.T) *memory.UsersRepo {
	t.Helper()

	store := memory.NewUsersRepo()
	prev := openAdminStore
	openAdminStore = func(context.Context, string) (db.AdminStore, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openAdminStore = prev })
	return store
}

func TestRun_UsageAndUnknownCommand(t *testing.T) {
	c, _, errOut := newCLI("")
	assert.Equal(t, 2, c.run(context.Background(), nil))
	assert.Contains(t, errOut.String(), "usage:")

	c, _, errOut = newCLI("")
	assert.Equal(t, 2, c.run(context.Background(), []string{"frobnicate"}))
	assert.Contains(t, errOut.String(), `unknown command "frobnicate"`)
}

func TestHashPassword_FromStdin(t *testing.T) {
	c, out, _ := newCLI("Secur3Pass!\n")

	require.Equal(t, 0, c.run(context.Background(), []string{"hash-password", "-password-stdin"}))

	var hash, salt string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, _ := strings.Cut(line, ": ")
		switch k {
		case "hash":
			hash = v
		case "salt":
			salt = v
		}
	}
	require.NotEmpty(t, hash)
	require.NotEmpty(t, salt)
	assert.True(t, security.CheckPassword("Secur3Pass!", hash, salt))
}

func TestHashPassword_TooShort(t *testing.T) {
	c, _, errOut := newCLI("short\n")
	assert.Equal(t, 1, c.run(context.Background(), []string{"hash-password", "-password-stdin"}))
	assert.Contains(t, errOut.String(), "at least 8")
}

func TestHashPassword_PromptsOnTerminal(t *testing.T) {
	prevRead, prevTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = prevRead, prevTerm })

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("Pr0mptedPass"), nil }

	c, out, errOut := newCLI("")
	require.Equal(t, 0, c.run(context.Background(), []string{"hash-password"}))
	assert.Contains(t, errOut.String(), "Password:")
	assert.Contains(t, out.String(), "hash: ")
}

func TestHashPassword_NoTerminal(t *testing.T) {
	prev := isTerminal
	t.Cleanup(func() { isTerminal = prev })
	isTerminal = func(int) bool { return false }

	c, _, errOut := newCLI("")
	assert.Equal(t, 1, c.run(context.Background(), []string{"hash-password"}))
	assert.Contains(t, errOut.String(), "-password-stdin")
}

func TestCreateAdmin_CreatesAccount(t *testing.T) {
	store := withMemoryStore(t)

	c, out, errOut := newCLI("Adm1nPassword\n")
	code := c.run(context.Background(), []string{"create-admin", "-email", "Root@Example.com", "-password-stdin", "-database-url", "postgres://unused"})
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "admin root@example.com is ready")

	u, err := store.GetByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, u.Role)
	assert.True(t, security.CheckPassword("Adm1nPassword", u.PasswordHash, u.PasswordSalt))
}

func TestCreateAdmin_PromptMismatch(t *testing.T) {
	withMemoryStore(t)

	prevRead, prevTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = prevRead, prevTerm })

	answers := [][]byte{[]byte("Adm1nPassword"), []byte("Different1")}
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}

	c, _, errOut := newCLI("")
	assert.Equal(t, 1, c.run(context.Background(), []string{"create-admin", "-email", "root@example.com", "-database-url", "x"}))
	assert.Contains(t, errOut.String(), "do not match")
}

func TestCreateAdmin_RequiresEmail(t *testing.T) {
	c, _, errOut := newCLI("Adm1nPassword\n")
	assert.Equal(t, 1, c.run(context.Background(), []string{"create-admin", "-password-stdin"}))
	assert.Contains(t, errOut.String(), "-email is required")
}

func TestMigrate_UsesFlagURL(t *testing.T) {
	prev := migrate
	t.Cleanup(func() { migrate = prev })

	var got string
	migrate = func(_ context.Context, dbURL string) error {
		got = dbURL
		return nil
	}

	c, out, _ := newCLI("")
	require.Equal(t, 0, c.run(context.Background(), []string{"migrate", "-database-url", "postgres://ops@db/userhub"}))
	assert.Equal(t, "postgres://ops@db/userhub", got)
	assert.Contains(t, out.String(), "migrations applied")

	migrate = func(context.Context, string) error { return errors.New("boom") }
	c, _, errOut := newCLI("")
	assert.Equal(t, 1, c.run(context.Background(), []string{"migrate", "-database-url", "x"}))
	assert.Contains(t, errOut.String(), "boom")
}
