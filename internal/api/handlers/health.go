package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/game"
)

var startTime = time.Now()

const version = "1.0.0-duels"

// Counter reports a gauge such as live sessions or open channels.
type Counter interface {
	Count() int
}

// HealthCheck returns server health status
func HealthCheck(sessions, channels Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"service":         "duels-api",
			"version":         version,
			"uptime":          time.Since(startTime).String(),
			"active_sessions": sessions.Count(),
			"lobby_channels":  channels.Count(),
		})
	}
}

// ActiveGames lists live sessions for operators.
func ActiveGames(mgr *game.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": mgr.Active()})
	}
}
