package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/lobby"
)

// FindOrCreateMatch handles POST /matchmaking/find-or-create.
func FindOrCreateMatch(m *lobby.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := currentPlayer(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			GameID    int `json:"gameId"`
			TargetFee int `json:"targetFee"`
			FeeRange  int `json:"feeRange"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gameId, targetFee and feeRange must be integers"})
			return
		}

		res, err := m.FindOrCreate(c.Request.Context(), pid, req.GameID, req.TargetFee, req.FeeRange)
		switch {
		case errors.Is(err, lobby.ErrUnknownGameType), errors.Is(err, lobby.ErrInvalidFee):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, lobby.ErrInsufficientBalance):
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient balance to create this room."})
			return
		case err != nil:
			log.Printf("[LOBBY] find-or-create for player %d failed: %v", pid, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// GetLobbies returns the waiting rooms keyed by game type id.
func GetLobbies(m *lobby.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.GetLobbies())
	}
}

// LeaveLobby handles DELETE /matchmaking/lobbies/:gameId.
func LeaveLobby(m *lobby.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := currentPlayer(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		gameID, err := strconv.Atoi(c.Param("gameId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gameId"})
			return
		}
		if !m.Leave(c.Request.Context(), pid, gameID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "You are not waiting in this lobby."})
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": true})
	}
}
