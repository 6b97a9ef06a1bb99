package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/ws"
)

// HandleMatchmakingWebSocket registers the caller for lobby pushes
func HandleMatchmakingWebSocket(gw *ws.Gateway) gin.HandlerFunc {
	return gw.Matchmaking
}

// HandleGameWebSocket handles real-time game communication
func HandleGameWebSocket(gw *ws.Gateway) gin.HandlerFunc {
	return gw.Game
}
