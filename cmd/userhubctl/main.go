// Command userhubctl is the operator tool: schema migrations, admin
// bootstrap and offline password hashing.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/db"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/geocoder89/userhub/internal/security"
	"golang.org/x/term"
)

const usage = `usage: userhubctl <command> [flags]

commands:
  migrate         apply database migrations
  create-admin    create or promote an admin account
  hash-password   print a PBKDF2 hash and salt for a password
`

// seams for tests
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal

	migrate = func(ctx context.Context, dbURL string) error {
		pool, err := db.NewPool(ctx, dbURL, db.WithApplicationName("userhubctl"), db.WithMaxConns(2))
		if err != nil {
			return err
		}
		defer pool.Close()
		return db.Migrate(ctx, pool)
	}

	openAdminStore = func(ctx context.Context, dbURL string) (db.AdminStore, func(), error) {
		pool, err := db.NewPool(ctx, dbURL, db.WithApplicationName("userhubctl"), db.WithMaxConns(2))
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewUsersRepo(pool, nil), pool.Close, nil
	}
)

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		log:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	os.Exit(c.run(ctx, os.Args[1:]))
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "migrate":
		err = c.migrate(ctx, args[1:])
	case "create-admin":
		err = c.createAdmin(ctx, args[1:])
	case "hash-password":
		err = c.hashPassword(args[1:])
	case "-h", "--help", "help":
		fmt.Fprint(c.stdout, usage)
		return 0
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(c.stderr, "error:", err)
		return 1
	}
	return 0
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) migrate(ctx context.Context, args []string) error {
	fs := c.flagSet("migrate")
	dbURL := fs.String("database-url", "", "postgres url (default from DATABASE_URL / DB_*)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dbURL == "" {
		*dbURL = config.DatabaseURL()
	}

	if err := migrate(ctx, *dbURL); err != nil {
		return err
	}

	fmt.Fprintln(c.stdout, "migrations applied")
	return nil
}

func (c *cli) createAdmin(ctx context.Context, args []string) error {
	fs := c.flagSet("create-admin")
	dbURL := fs.String("database-url", "", "postgres url (default from DATABASE_URL / DB_*)")
	email := fs.String("email", "", "admin email (required)")
	first := fs.String("first-name", "Admin", "first name")
	last := fs.String("last-name", "User", "last name")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*email) == "" {
		return errors.New("-email is required")
	}

	password, err := c.password(*fromStdin, true)
	if err != nil {
		return err
	}

	if *dbURL == "" {
		*dbURL = config.DatabaseURL()
	}

	store, closeStore, err := openAdminStore(ctx, *dbURL)
	if err != nil {
		return err
	}
	defer closeStore()

	err = db.EnsureAdminUser(ctx, store, security.NewHasher(), db.AdminSeed{
		Email:     *email,
		Password:  password,
		FirstName: *first,
		LastName:  *last,
	}, c.log)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "admin %s is ready\n", strings.ToLower(strings.TrimSpace(*email)))
	return nil
}

func (c *cli) hashPassword(args []string) error {
	fs := c.flagSet("hash-password")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := c.password(*fromStdin, false)
	if err != nil {
		return err
	}

	hash, salt, err := security.HashPassword(password)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "hash: %s\nsalt: %s\n", hash, salt)
	return nil
}

// password reads one line from stdin, or prompts on the terminal with echo
// off. confirm asks twice.
func (c *cli) password(fromStdin, confirm bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(c.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return checkPassword(strings.TrimRight(line, "\r\n"))
	}

	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.New("stdin is not a terminal, use -password-stdin")
	}

	fmt.Fprint(c.stderr, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(c.stderr)
	if err != nil {
		return "", err
	}

	if confirm {
		fmt.Fprint(c.stderr, "Repeat password: ")
		second, err := readPassword(fd)
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", err
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
	}

	return checkPassword(string(first))
}

func checkPassword(p string) (string, error) {
	if len(p) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	return p, nil
}
