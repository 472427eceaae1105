package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // Echo web framework used for routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/activation-server/internal/config"
	"github.com/iliyamo/activation-server/internal/handler"
	"github.com/iliyamo/activation-server/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterProtocol registers the encrypted protocol endpoints under /v3.
// These endpoints authenticate through the envelope itself (possession
// of the activation's keys), not through a bearer token. Token
// validation and recovery confirmation additionally pass the redis
// token-bucket rate limiter since both are credential checks an
// attacker could hammer.
func RegisterProtocol(e *echo.Echo, tokens *handler.TokenHandler, upgrades *handler.UpgradeHandler, recovery *handler.RecoveryHandler, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	limiter := middleware.NewTokenBucket(rlCfg, rdb)

	g := e.Group("/v3")
	g.POST("/upgrade/start", upgrades.StartUpgrade)
	g.POST("/upgrade/commit", upgrades.CommitUpgrade)
	g.POST("/token/create", tokens.CreateToken)
	g.POST("/token/validate", tokens.ValidateToken, limiter)
	g.POST("/token/remove", tokens.RemoveToken)
	g.POST("/recovery/confirm", recovery.ConfirmRecoveryCode, limiter)
}

// RegisterAdmin registers the administrative recovery endpoints under
// /admin. All of them require a valid bearer token with the ADMIN role.
func RegisterAdmin(e *echo.Echo, recovery *handler.RecoveryHandler, jwtSecret string) {
	g := e.Group("/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN"))
	g.POST("/recovery/create", recovery.CreateRecoveryCode)
	g.POST("/recovery/lookup", recovery.LookupRecoveryCodes)
	g.POST("/recovery/revoke", recovery.RevokeRecoveryCodes)
	g.GET("/recovery/config/:applicationId", recovery.GetRecoveryConfig)
	g.PUT("/recovery/config/:applicationId", recovery.UpdateRecoveryConfig)
}
