package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/models"
)

// GetConfig returns the game catalog and timing values the frontend renders
func GetConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"game_types":               models.GameTypes,
			"disconnect_grace_seconds": cfg.DisconnectGraceSeconds,
			"rps_round_seconds":        cfg.RPSRoundSeconds,
			"rps_round_wins":           cfg.RPSRoundWins,
			"race_rows":                cfg.RaceRows,
			"race_cols":                cfg.RaceCols,
			"race_bombs":               cfg.RaceBombs,
			"race_time_seconds":        cfg.RaceTimeSeconds,
			"winner_payout_percent":    cfg.WinnerPayoutPercent,
		})
	}
}
