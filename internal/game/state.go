package game

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/playmatatu/duels/internal/accounts"
	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/settlement"
)

var (
	ErrHandoffMissing = errors.New("match details not found")
	ErrNotParticipant = errors.New("player is not part of this match")
	ErrMatchClosed    = errors.New("match session is closed")
	ErrMatchFinished  = errors.New("match already concluded")

	// ErrHandoffInvalid is the lobby's sentinel, re-exported for callers of Join.
	ErrHandoffInvalid = lobby.ErrInvalidHandoff
	// ErrStakeUnaffordable is returned by Join when a participant's wallet no
	// longer covers the stake.
	ErrStakeUnaffordable = accounts.ErrInsufficientFunds
)

// Server to client events
const (
	EventError           = "error"
	EventStatusUpdate    = "status_update"
	EventMatchOver       = "match_over"
	EventGameStateUpdate = "game_state_update"
	EventNewRound        = "new_round"
	EventOpponentPlayed  = "opponent_played"
	EventRoundResult     = "round_result"
	EventGameSetupReady  = "game_setup_ready"
	EventOpponentUpdate  = "opponent_update"
)

// Client to server events
const (
	EventPlay       = "play"
	EventGameUpdate = "game_update"
)

// WebSocket close codes used when rejecting a connection.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is the session's view of one player's real-time channel. Send must not
// block.
type Conn interface {
	Send(event string, data interface{})
	Close(code int, reason string)
}

// Settler is the durable side of a match: stake debit at start, payout or
// refund at the end.
type Settler interface {
	StartMatch(ctx context.Context, playerOneID, playerTwoID int, stake float64, gameKey, lobbyUUID string) (settlement.StartResult, error)
	Resolve(ctx context.Context, o settlement.Outcome) error
}

// HandoffSource hands paired matches from the lobby to the session layer.
type HandoffSource interface {
	Get(ctx context.Context, matchID string) (*lobby.Handoff, bool)
	Forget(ctx context.Context, matchID string)
}

// Clock schedules timer callbacks. The returned func stops the timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Settings tunes session timing and the game variants.
type Settings struct {
	DisconnectGrace time.Duration
	ShowUpTimeout   time.Duration

	RoundDuration  time.Duration
	RoundWins      int
	NextRoundDelay time.Duration

	RaceRows     int
	RaceCols     int
	RaceBombs    int
	RaceDuration time.Duration

	SettleTimeout time.Duration
}

// DefaultSettings mirrors the production defaults.
func DefaultSettings() Settings {
	return Settings{
		DisconnectGrace: 30 * time.Second,
		ShowUpTimeout:   60 * time.Second,
		RoundDuration:   15 * time.Second,
		RoundWins:       3,
		NextRoundDelay:  3 * time.Second,
		RaceRows:        14,
		RaceCols:        18,
		RaceBombs:       40,
		RaceDuration:    120 * time.Second,
		SettleTimeout:   15 * time.Second,
	}
}

// Result is what a variant hands to conclude: the settlement outcome plus the
// match_over payload shown to both players.
type Result struct {
	WinnerID int
	LoserID  int
	Draw     bool
	Score    string
	Payload  interface{}
}

// envelope is the wire shape in both directions. Older clients send the body
// under "payload".
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e envelope) body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

type messageBody struct {
	Message string `json:"message"`
}

// variant is implemented once per game type. Every method runs on the
// session's actor goroutine.
type variant interface {
	// attached runs after a slot binds a channel, before the start gate is checked.
	attached(sl *Slot, reconnect bool)
	// start runs once when both players are attached for the first time.
	start()
	// rejoined runs for an attach after the match has started.
	rejoined(sl *Slot)
	detached(sl *Slot)
	handle(sl *Slot, event string, body json.RawMessage)
	// forfeitable reports whether a grace expiry for sl should end the match.
	forfeitable(sl *Slot) bool
	forfeit(loser *Slot) Result
	// abandonable reports whether both players being gone should end the
	// match as a refund. A variant that can still rank the players on what
	// they already did returns false and settles through its own timer.
	abandonable() bool
	draw(reason string) Result
}
