package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/api/handlers"
	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/game"
	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/middleware"
	"github.com/playmatatu/duels/internal/players"
	"github.com/playmatatu/duels/internal/ws"
)

// Deps bundles what the HTTP layer talks to.
type Deps struct {
	Config   *config.Config
	Players  *players.Store
	Matcher  *lobby.Matcher
	Sessions *game.Manager
	Gateway  *ws.Gateway
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	auth := handlers.AuthMiddleware(cfg)
	wsOrigin := middleware.WebSocketCORSCheck(cfg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d.Sessions, d.Gateway.Hub()))
		v1.GET("/config", handlers.GetConfig(cfg))
		v1.POST("/auth/login", handlers.Login(d.Players, cfg))
		v1.GET("/me", auth, handlers.GetMe(d.Players))

		mm := v1.Group("/matchmaking")
		{
			mm.POST("/find-or-create", auth, handlers.FindOrCreateMatch(d.Matcher))
			mm.GET("/lobbies", handlers.GetLobbies(d.Matcher))
			mm.DELETE("/lobbies/:gameId", auth, handlers.LeaveLobby(d.Matcher))
			mm.GET("/ws", wsOrigin, handlers.HandleMatchmakingWebSocket(d.Gateway))
		}

		games := v1.Group("/games")
		{
			games.GET("/active", auth, handlers.ActiveGames(d.Sessions))
			games.GET("/:gameKey/ws", wsOrigin, handlers.HandleGameWebSocket(d.Gateway))
		}
	}
}
