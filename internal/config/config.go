package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrConfiguration = auth.ErrConfiguration

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	Port        int
	MetricsPort int
	WorkerPort  int

	StoreDriver string
	DBURL       string
	AutoMigrate bool

	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	UseCookies    bool
	CookiePath    string
	CookieDomain  string
	CookieSecure  bool
	CORSOrigins   []string
	MaxBodyBytes  int64
	AuthRateLimit int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint    string
	TraceSampleRate float64

	AdminEmail     string
	AdminPassword  string
	AdminFirstName string
	AdminLastName  string

	SweepInterval time.Duration
}

// Load reads an optional .env file, then the process environment. Values
// already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	return FromViper(newViper())
}

// DatabaseURL resolves DATABASE_URL (or the DB_* parts) without validating
// the rest of the configuration. Operator tooling only needs the database.
func DatabaseURL() string {
	_ = godotenv.Load()

	v := newViper()
	if u := v.GetString("DATABASE_URL"); u != "" {
		return u
	}
	return buildDBURL(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("PORT", 8080)
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("WORKER_PORT", 8081)

	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "userhub")
	v.SetDefault("DB_PASSWORD", "userhub")
	v.SetDefault("DB_NAME", "userhub")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("JWT_ISSUER", "userhub")
	v.SetDefault("JWT_AUDIENCE", "userhub-clients")
	v.SetDefault("JWT_ACCESS_TTL_MINUTES", 60)
	v.SetDefault("JWT_REFRESH_TTL_DAYS", 7)
	v.SetDefault("AUTH_USE_COOKIES", false)
	v.SetDefault("COOKIE_PATH", "/")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("MAX_BODY_BYTES", 1<<20)
	v.SetDefault("RATE_LIMIT_AUTH_PER_MINUTE", 10)

	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ADMIN_FIRST_NAME", "Admin")
	v.SetDefault("ADMIN_LAST_NAME", "User")

	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("OTEL_TRACES_SAMPLER_ARG", 1.0)

	return v
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:         v.GetString("APP_ENV"),
		Port:        v.GetInt("PORT"),
		MetricsPort: v.GetInt("METRICS_PORT"),
		WorkerPort:  v.GetInt("WORKER_PORT"),

		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DBURL:       v.GetString("DATABASE_URL"),
		AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),

		JWTSecret:     v.GetString("JWT_SECRET"),
		JWTIssuer:     v.GetString("JWT_ISSUER"),
		JWTAudience:   v.GetString("JWT_AUDIENCE"),
		AccessTTL:     time.Duration(v.GetInt("JWT_ACCESS_TTL_MINUTES")) * time.Minute,
		RefreshTTL:    time.Duration(v.GetInt("JWT_REFRESH_TTL_DAYS")) * 24 * time.Hour,
		UseCookies:    v.GetBool("AUTH_USE_COOKIES"),
		CookiePath:    v.GetString("COOKIE_PATH"),
		CookieDomain:  v.GetString("COOKIE_DOMAIN"),
		CookieSecure:  v.GetBool("COOKIE_SECURE"),
		CORSOrigins:   splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:  v.GetInt64("MAX_BODY_BYTES"),
		AuthRateLimit: v.GetInt("RATE_LIMIT_AUTH_PER_MINUTE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		OTLPEndpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRate: v.GetFloat64("OTEL_TRACES_SAMPLER_ARG"),

		AdminEmail:     v.GetString("ADMIN_EMAIL"),
		AdminPassword:  v.GetString("ADMIN_PASSWORD"),
		AdminFirstName: v.GetString("ADMIN_FIRST_NAME"),
		AdminLastName:  v.GetString("ADMIN_LAST_NAME"),

		SweepInterval: v.GetDuration("SWEEP_INTERVAL"),
	}

	if cfg.DBURL == "" {
		cfg.DBURL = buildDBURL(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func buildDBURL(v *viper.Viper) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("DB_USER"), v.GetString("DB_PASSWORD")),
		Host:     v.GetString("DB_HOST") + ":" + v.GetString("DB_PORT"),
		Path:     "/" + v.GetString("DB_NAME"),
		RawQuery: "sslmode=" + v.GetString("DB_SSLMODE"),
	}
	return u.String()
}

// Validate rejects settings the process cannot start with. Every error wraps
// ErrConfiguration.
func (c Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", auth.MinSecretLength))
	}
	if strings.TrimSpace(c.JWTIssuer) == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required"))
	}
	if strings.TrimSpace(c.JWTAudience) == "" {
		errs = append(errs, errors.New("JWT_AUDIENCE is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL_MINUTES must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT_REFRESH_TTL_DAYS must be positive"))
	}
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory))
	}
	if c.AuthRateLimit <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_AUTH_PER_MINUTE must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
