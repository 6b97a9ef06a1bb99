package ws

import (
	"context"
	"errors"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/duels/internal/game"
	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/matchid"
)

// Authenticator resolves the token query parameter to a player id.
type Authenticator func(token string) (int, error)

// Sessions is the part of the session registry the gateway needs.
type Sessions interface {
	Join(ctx context.Context, id matchid.ID, playerID int) (*game.Session, error)
}

// Gateway upgrades HTTP requests into matchmaking and game channels.
type Gateway struct {
	hub      *Hub
	sessions Sessions
	auth     Authenticator
}

func NewGateway(hub *Hub, sessions Sessions, auth Authenticator) *Gateway {
	return &Gateway{hub: hub, sessions: sessions, auth: auth}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Matchmaking handles GET /matchmaking/ws?token=. The connection only
// receives pushes such as match_found.
func (g *Gateway) Matchmaking(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	playerID, err := g.auth(c.Query("token"))
	if err != nil || playerID <= 0 {
		log.Printf("[WS] matchmaking connection rejected: %v", err)
		reject(conn, game.ClosePolicyViolation, "User not authenticated")
		return
	}

	client := newClient(conn, playerID)
	g.hub.Register(client)

	go client.writePump()
	go func() {
		client.readPump(nil)
		g.hub.Unregister(client)
	}()
}

// Game handles GET /games/:gameKey/ws?gameId=&token= and attaches the player
// to the match session, creating it on first contact.
func (g *Gateway) Game(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	playerID, err := g.auth(c.Query("token"))
	if err != nil || playerID <= 0 {
		log.Printf("[WS] game connection rejected: %v", err)
		reject(conn, game.ClosePolicyViolation, "User not authenticated")
		return
	}

	id, err := matchid.Parse(c.Query("gameId"))
	if err != nil {
		reject(conn, game.ClosePolicyViolation, "Invalid or missing gameId.")
		return
	}
	if id.GameKey != c.Param("gameKey") {
		reject(conn, game.ClosePolicyViolation, "This match does not belong to this game.")
		return
	}

	s, err := g.sessions.Join(c.Request.Context(), id, playerID)
	if err != nil {
		code, message := joinFailure(err)
		log.Printf("[WS] player %d could not join %s: %v", playerID, id, err)
		reject(conn, code, message)
		return
	}

	client := newClient(conn, playerID)
	if err := s.Attach(playerID, client); err != nil {
		code, message := joinFailure(err)
		reject(conn, code, message)
		return
	}

	go client.writePump()
	go client.readPump(func(raw []byte) {
		s.Deliver(playerID, client, raw)
	})
	go func() {
		select {
		case <-s.Done():
			client.Close(game.CloseNormal, "match concluded")
		case <-client.Done():
			s.Detach(playerID, client)
		}
	}()
}

// joinFailure maps bootstrap errors onto a close code and the message sent
// before closing.
func joinFailure(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrNotParticipant):
		return game.ClosePolicyViolation, "You are not a participant in this match."
	case errors.Is(err, game.ErrMatchFinished), errors.Is(err, game.ErrMatchClosed):
		return game.CloseNormal, "This match has already concluded."
	case errors.Is(err, game.ErrHandoffMissing):
		return game.CloseInternalError, "Match details not found. Please return to the lobby."
	case errors.Is(err, lobby.ErrInvalidHandoff):
		return game.CloseInternalError, "Match details are invalid. Please return to the lobby."
	case errors.Is(err, game.ErrStakeUnaffordable):
		return game.ClosePolicyViolation, "Insufficient balance to start this match."
	default:
		return game.CloseInternalError, "Could not start the match. Please try again."
	}
}
