package server

import (
	"log/slog"

	"school-gateway/internal/gateway"
	"school-gateway/internal/server/handlers"
	"school-gateway/internal/server/middleware"
	"school-gateway/internal/token"

	"github.com/gin-gonic/gin"
)

// Router wires the REST auth surface and the websocket endpoint.
type Router struct {
	engine *gin.Engine
	gw     *gateway.Gateway
	gate   *token.Gate
	logger *slog.Logger
}

func NewRouter(gw *gateway.Gateway, gate *token.Gate, logger *slog.Logger) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Router{
		engine: engine,
		gw:     gw,
		gate:   gate,
		logger: logger,
	}
}

func (r *Router) SetupRoutes() {
	authHandler := handlers.NewAuthHandler(r.gate)

	api := r.engine.Group("/api/v1")
	{
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.Auth(r.gate), authHandler.Logout)
	}

	r.engine.GET("/ws", r.gw.HandleWS)

	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
