package http

import (
	"time"

	"github.com/geocoder89/tripadmin/internal/http/handlers"
	"github.com/geocoder89/tripadmin/internal/http/middlewares"
	"github.com/geocoder89/tripadmin/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxRequestBody = 1 << 20

type Deps struct {
	Env         string
	ServiceName string
	CORSOrigins []string

	Console     handlers.Console
	Credentials handlers.CredentialVerifier
	Tokens      *TokenAuth

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
	Checks   map[string]handlers.Check

	// LoginLimit caps login attempts per client per minute.
	LoginLimit int
}

// TokenAuth bundles the issuer used by login with the verifier used by the auth middleware.
// *auth.Manager satisfies both.
type TokenAuth struct {
	Issuer   handlers.TokenIssuer
	Verifier middlewares.TokenVerifier
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.LoginLimit <= 0 {
		d.LoginLimit = 10
	}

	r := gin.New()

	r.Use(gin.Recovery())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))

	health := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMW := middlewares.NewAuthMiddleware(d.Tokens.Verifier)
	loginLimiter := middlewares.NewRateLimiter(d.LoginLimit, time.Minute)
	adminLimiter := middlewares.NewRateLimiter(600, time.Minute)

	authHandler := handlers.NewAuthHandler(d.Credentials, d.Tokens.Issuer)
	users := handlers.NewUsersHandler(d.Console)
	funnel := handlers.NewFunnelHandler(d.Console)
	messages := handlers.NewMessagesHandler(d.Console)
	manage := handlers.NewManageHandler(d.Console)

	r.POST("/admin/login",
		loginLimiter.Limit(middlewares.KeyByLoginAttempt),
		middlewares.MaxBodyBytes(4<<10),
		middlewares.RequireJSON(),
		authHandler.Login,
	)

	admin := r.Group("/admin")
	admin.Use(
		authMW.RequireAuth(),
		authMW.RequireRole("admin"),
		adminLimiter.Limit(middlewares.KeyBySubjectOrIP),
		middlewares.MaxBodyBytes(maxRequestBody),
		middlewares.RequireJSON(),
	)
	{
		admin.POST("/users/hydrate", users.Hydrate)
		admin.GET("/users", users.List)
		admin.GET("/users/:id", users.Get)
		admin.DELETE("/users/:id", users.Delete)
		admin.POST("/users/bulk-delete", users.BulkDelete)
		admin.POST("/users/:id/analyze", users.Analyze)
		admin.DELETE("/cache", users.ClearCache)
		admin.POST("/cleanup-orphaned-data", users.CleanupOrphans)

		admin.GET("/users/:id/stages", manage.Stages)
		admin.PUT("/users/:id/stages", manage.UpdateStage)
		admin.PUT("/users/:id/flags", manage.UpdateFlag)
		admin.POST("/users/:id/stages/:stage/reset", manage.ResetStage)
		admin.GET("/user/:id", manage.Account)
		admin.POST("/user/:id/cleanup-duplicates", manage.CleanupDuplicates)
		admin.POST("/user/:id/reset-journey", manage.ResetJourney)

		admin.GET("/journey", funnel.Journey)
		admin.GET("/funnel", funnel.Funnel)
		admin.PUT("/funnel/stage", funnel.UpdateStage)

		admin.GET("/messages/templates", messages.Templates)
		admin.GET("/messages/eligible", messages.Eligible)
		admin.POST("/messages", messages.Send)
	}

	return r
}
