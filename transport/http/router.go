package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/warden/service"
)

// PingFunc reports whether the backing store is reachable
type PingFunc func(ctx context.Context) error

// SetupRouter sets up the Gin router. Every /auth route passes through the
// guard with authRule; ping may be nil.
func SetupRouter(authService *service.AuthService, guard *service.Guard, authRule service.RateLimitRule, ping PingFunc) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(authService)

	router.GET("/healthz", Health(ping))

	auth := router.Group("/auth")
	auth.Use(GuardMiddleware(guard, &authRule))
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/verify", handlers.Verify)
	}

	return router
}
