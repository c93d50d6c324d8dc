package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/authz"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/db"
	httpx "github.com/geocoder89/userhub/internal/http"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/geocoder89/userhub/internal/notifications"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/ratelimit"
	"github.com/geocoder89/userhub/internal/redisclient"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/geocoder89/userhub/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// userStore is what both backends provide.
type userStore interface {
	authz.UserStore
	users.Store
	Ping(ctx context.Context) error
}

func main() {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: "userhub-api",
		Env:         cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	jwt, err := auth.NewManager(auth.Options{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	hasher := security.NewHasher()

	var store userStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory user store, data is lost on restart")
		store = memory.NewUsersRepo()
	default:
		pool, err := db.NewPool(ctx, cfg.DBURL, db.WithApplicationName("userhub-api"))
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		store = postgres.NewUsersRepo(pool, prom)
	}

	err = db.EnsureAdminUser(ctx, store, hasher, db.AdminSeed{
		Email:     cfg.AdminEmail,
		Password:  cfg.AdminPassword,
		FirstName: cfg.AdminFirstName,
		LastName:  cfg.AdminLastName,
	}, log)
	if err != nil {
		return err
	}

	checks := []handlers.Check{{Name: "store", Ping: store.Ping}}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.AuthRateLimit, time.Minute)
	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, 2*time.Second)
		if err != nil {
			return err
		}
		defer rc.Close()

		limiter = ratelimit.NewRedisLimiter(rc.Raw(), cfg.AuthRateLimit, time.Minute)
		checks = append(checks, handlers.Check{Name: "redis", Ping: rc.Ping})
	}

	notifier := notifications.NewProtectedNotifier(notifications.NewLogNotifier(log), notifications.ProtectedNotifierConfig{Log: log})

	router := httpx.NewRouter(httpx.RouterDeps{
		Log:          log,
		Env:          cfg.Env,
		ServiceName:  "userhub-api",
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		HSTS:         cfg.IsProd(),
		JWT:          jwt,
		Tokens: transport.New(transport.Config{
			UseCookies: cfg.UseCookies,
			Path:       cfg.CookiePath,
			Domain:     cfg.CookieDomain,
			Secure:     cfg.CookieSecure,
		}),
		Flows:   authz.NewService(store, hasher, jwt, log, prom),
		Users:   users.NewService(store, hasher, log).WithNotifier(notifier),
		Checks:  checks,
		Limiter: limiter,
		Prom:    prom,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		return listen(srv)
	})
	g.Go(func() error {
		log.Info("metrics server starting", "port", cfg.MetricsPort)
		return listen(metricsSrv)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return errors.Join(srv.Shutdown(sctx), metricsSrv.Shutdown(sctx))
	})

	return g.Wait()
}

func listen(srv *http.Server) error {
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
