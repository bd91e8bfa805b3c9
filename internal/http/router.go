package http

import (
	"log/slog"
	"net/http"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/geocoder89/feedbackhub/internal/http/handlers"
	"github.com/geocoder89/feedbackhub/internal/http/middlewares"
	"github.com/geocoder89/feedbackhub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 64 << 10

type RouterDeps struct {
	Log         *slog.Logger
	Env         string
	Prom        *observability.Prom
	Gatherer    prometheus.Gatherer
	Auth        *handlers.AuthHandler
	Health      *handlers.HealthHandler
	Tokens      middlewares.TokenVerifier
	Limiter     *middlewares.RateLimiter
	CORSOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(observability.ServiceName))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.Env == "prod"))
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	r.GET("/health", d.Health.Health)
	r.GET("/health/ping", d.Health.Ping)
	r.GET("/readyz", d.Health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMW := middlewares.NewAuthMiddleware(d.Tokens)
	rl := d.Limiter

	// public auth routes, limited per client IP
	authGroup := r.Group("/auth")
	authGroup.POST("/register", rl.Limit("register", middlewares.RegisterLimit, middlewares.KeyByIP), d.Auth.Register)
	authGroup.POST("/login", rl.Limit("login", middlewares.LoginLimit, middlewares.KeyByIP), d.Auth.Login)
	authGroup.POST("/refresh", rl.Limit("refresh", middlewares.DefaultLimit, middlewares.KeyByIP), d.Auth.Refresh)
	authGroup.POST("/bootstrap-admin", rl.Limit("bootstrap", middlewares.BootstrapLimit, middlewares.KeyByIP), d.Auth.BootstrapAdmin)

	// authenticated
	me := authGroup.Group("",
		authMW.RequireAuth(),
		rl.Limit("account", middlewares.DefaultLimit, middlewares.KeyByAccountOrIP),
	)
	me.GET("/me", d.Auth.Me)
	me.PUT("/password", d.Auth.ChangePassword)

	// admin only
	admin := r.Group("/admin",
		authMW.RequireAuth(),
		authMW.RequireRole(account.RoleAdmin),
		rl.Limit("admin", middlewares.DefaultLimit, middlewares.KeyByAccountOrIP),
	)
	admin.PUT("/accounts/credentials", d.Auth.AdminSetCredentials)

	r.NoRoute(func(ctx *gin.Context) {
		handlers.RespondError(ctx, http.StatusNotFound, "not_found", "Route not found", nil)
	})

	return r
}
