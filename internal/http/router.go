package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// UserDirectory is implemented by *users.Service.
type UserDirectory interface {
	handlers.UserService
	handlers.Registrar
}

// RouterDeps is everything the API needs, built in main.
type RouterDeps struct {
	Log          *slog.Logger
	Env          string
	ServiceName  string
	CORSOrigins  []string
	MaxBodyBytes int64
	HSTS         bool

	JWT     middlewares.TokenVerifier
	Tokens  *transport.Transport
	Flows   handlers.AuthFlows
	Users   UserDirectory
	Checks  []handlers.Check
	Limiter ratelimit.Limiter
	Prom    *observability.Prom
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.ServiceName == "" {
		d.ServiceName = "userhub-api"
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewMemoryLimiter(10, time.Minute)
	}

	handlers.RegisterValidators()

	r := gin.New()

	// middleware
	r.Use(middlewares.RequestID())
	r.Use(Recovery(d.Log))
	r.Use(otelgin.Middleware(d.ServiceName))
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.HSTS))
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(d.MaxBodyBytes))
	r.Use(middlewares.RequireJSON())

	var onLimited middlewares.RateLimitHook
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
		onLimited = d.Prom.RateLimitHit
	}

	// health
	h := handlers.NewHealthHandler(d.Checks...)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	am := middlewares.NewAuthMiddleware(d.JWT, d.Tokens)
	authn := am.RequireAuth()
	limit := middlewares.RateLimit(d.Limiter, middlewares.KeyByIP, onLimited, d.Log)

	authHandler := handlers.NewAuthHandler(d.Flows, d.Users, d.Tokens)
	usersHandler := handlers.NewUsersHandler(d.Users)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", limit, authHandler.Register)
		authGroup.POST("/login", limit, authHandler.Login)
		authGroup.POST("/refresh", limit, authHandler.Refresh)
		authGroup.POST("/logout", authn, middlewares.RequirePolicy(auth.PolicyAuthenticated), authHandler.Logout)
	}

	me := r.Group("/users/me", authn)
	{
		me.GET("", middlewares.RequirePolicy(auth.PolicyAuthenticated), usersHandler.Me)
		me.PUT("", middlewares.RequirePolicy(auth.PolicyUserOrAdmin), usersHandler.UpdateMe)
		me.PUT("/password", middlewares.RequirePolicy(auth.PolicyUserOrAdmin), usersHandler.ChangeMyPassword)
	}

	admin := r.Group("/users", authn, middlewares.RequirePolicy(auth.PolicyAdminOnly))
	{
		admin.GET("", usersHandler.List)
		admin.GET("/:id", usersHandler.Get)
		admin.PUT("/:id", usersHandler.Update)
		admin.PUT("/:id/role", usersHandler.ChangeRole)
	}

	return r
}
