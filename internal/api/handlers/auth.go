package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/models"
	"github.com/playmatatu/duels/internal/players"
)

// Authenticator checks a username/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.Player, error)
}

var errInvalidToken = errors.New("invalid token")

// IssueToken signs an HS256 token carrying the player id.
func IssueToken(secret string, playerID int, ttl time.Duration) (string, error) {
	exp := time.Now().Add(ttl)
	claims := jwt.MapClaims{"player_id": playerID, "exp": jwt.NewNumericDate(exp).Unix()}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies a token and returns the player id it carries.
func ParseToken(secret, token string) (int, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty", errInvalidToken)
	}
	parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errInvalidToken
	}
	playerIDf, ok := claims["player_id"].(float64)
	if !ok || playerIDf <= 0 {
		return 0, fmt.Errorf("%w: missing player_id", errInvalidToken)
	}
	return int(playerIDf), nil
}

// Login validates credentials, issues a JWT, and returns player info
func Login(auth Authenticator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}

		player, err := auth.Authenticate(c.Request.Context(), req.Username, req.Password)
		if errors.Is(err, players.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if err != nil {
			log.Printf("[AUTH] login for %q failed: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		signed, err := IssueToken(cfg.JWTSecret, player.ID, time.Duration(cfg.TokenTTLHours)*time.Hour)
		if err != nil {
			log.Printf("[AUTH] Failed to sign token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		log.Printf("[AUTH] player %d (%s) logged in", player.ID, player.Username)
		c.JSON(http.StatusOK, gin.H{"token": signed, "player": gin.H{"id": player.ID, "username": player.Username, "display_name": player.Name()}})
	}
}

// AuthMiddleware validates bearer JWT and sets player_id in context
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		playerID, err := ParseToken(cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("player_id", playerID)
		c.Next()
	}
}

func currentPlayer(c *gin.Context) (int, bool) {
	v, ok := c.Get("player_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
