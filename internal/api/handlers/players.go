package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/models"
	"github.com/playmatatu/duels/internal/players"
)

// Profiles resolves identities and wallet balances.
type Profiles interface {
	FindByID(ctx context.Context, id int) (*models.Player, error)
	Balance(ctx context.Context, playerID int) (float64, error)
}

// GetMe returns the authenticated player's profile and wallet balance
func GetMe(profiles Profiles) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := currentPlayer(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		p, err := profiles.FindByID(c.Request.Context(), pid)
		if errors.Is(err, players.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
			return
		}
		if err != nil {
			log.Printf("[AUTH] profile for player %d failed: %v", pid, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		balance, err := profiles.Balance(c.Request.Context(), pid)
		if err != nil {
			log.Printf("[ACCT] balance for player %d failed: %v", pid, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           p.ID,
			"username":     p.Username,
			"display_name": p.Name(),
			"balance":      balance,
		})
	}
}
