package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/playmatatu/duels/internal/matchid"
	"github.com/playmatatu/duels/internal/models"
	appredis "github.com/playmatatu/duels/internal/redis"
	"github.com/redis/go-redis/v9"
)

var (
	ErrUnknownGameType     = errors.New("unknown game type")
	ErrInvalidFee          = errors.New("invalid fee")
	ErrInsufficientBalance = errors.New("insufficient balance to create this room")
)

// Result statuses
const (
	StatusAlreadyWaiting = "already_waiting"
	StatusMatched        = "matched"
	StatusWaiting        = "waiting"
)

const (
	msgMatched        = "Match successfully created!"
	msgWaiting        = "No suitable match found. Created a new waiting room for you."
	msgAlreadyWaiting = "You are already in a waiting room for this game type."
)

// EventMatchFound is pushed to both players when a room pairs.
const EventMatchFound = "match_found"

// EventLobbyExpired is pushed to a creator whose room was swept.
const EventLobbyExpired = "lobby_expired"

// Directory resolves identities and current wallet balances.
type Directory interface {
	FindByID(ctx context.Context, id int) (*models.Player, error)
	Balance(ctx context.Context, playerID int) (float64, error)
}

// Notifier pushes out-of-session events to connected players.
type Notifier interface {
	SendToUser(playerID int, event string, payload interface{})
}

// Publisher announces room changes for discovery UIs. *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Room is a waiting entry for one player seeking an opponent at a given fee.
type Room struct {
	ID         string    `json:"id"`
	GameTypeID int       `json:"gameTypeId"`
	CreatorID  int       `json:"creatorId"`
	Fee        int       `json:"fee"`
	CreatedAt  time.Time `json:"createdAt"`

	gameKey string
}

// MatchFound is the payload of the match_found notification.
type MatchFound struct {
	GameTypeID    int    `json:"gameTypeId"`
	PlayerOneID   int    `json:"playerOneId"`
	PlayerTwoID   int    `json:"playerTwoId"`
	EntryFee      int    `json:"entryFee"`
	MatchID       string `json:"matchId"`
	PlayerOneName string `json:"playerOneName"`
	PlayerTwoName string `json:"playerTwoName"`
}

// Result is returned by FindOrCreate.
type Result struct {
	Status  string      `json:"status"`
	Room    *Room       `json:"room,omitempty"`
	Match   *MatchFound `json:"match,omitempty"`
	Message string      `json:"message"`
}

// Matcher keeps the in-memory waiting rooms per game type and pairs incoming
// requests first-fit in insertion order.
type Matcher struct {
	mu    sync.Mutex
	rooms map[int][]*Room

	dir       Directory
	notifier  Notifier
	handoffs  *HandoffStore
	publisher Publisher
	now       func() time.Time

	// balanceTimeout bounds each wallet lookup made while rooms are locked.
	balanceTimeout time.Duration
}

const defaultBalanceTimeout = 2 * time.Second

func NewMatcher(dir Directory, notifier Notifier, handoffs *HandoffStore) *Matcher {
	return &Matcher{
		rooms:          make(map[int][]*Room),
		dir:            dir,
		notifier:       notifier,
		handoffs:       handoffs,
		now:            time.Now,
		balanceTimeout: defaultBalanceTimeout,
	}
}

// SetPublisher enables room change announcements.
func (m *Matcher) SetPublisher(p Publisher) {
	m.publisher = p
}

// Handoffs exposes the handoff store shared with the session layer.
func (m *Matcher) Handoffs() *HandoffStore {
	return m.handoffs
}

// ValidateRequest checks the request shape before any balance is consulted.
func ValidateRequest(gameTypeID, targetFee, feeRange int) (models.GameType, error) {
	gt, ok := models.GameTypeByID(gameTypeID)
	if !ok {
		return models.GameType{}, fmt.Errorf("%w: %d", ErrUnknownGameType, gameTypeID)
	}
	if targetFee <= 0 {
		return gt, fmt.Errorf("%w: targetFee must be positive", ErrInvalidFee)
	}
	if feeRange < 0 {
		return gt, fmt.Errorf("%w: feeRange cannot be negative", ErrInvalidFee)
	}
	if feeRange >= targetFee {
		return gt, fmt.Errorf("%w: feeRange must be smaller than targetFee", ErrInvalidFee)
	}
	return gt, nil
}

// FindOrCreate pairs the caller with the first affordable compatible room or
// opens a new room for them.
func (m *Matcher) FindOrCreate(ctx context.Context, playerID, gameTypeID, targetFee, feeRange int) (Result, error) {
	gt, err := ValidateRequest(gameTypeID, targetFee, feeRange)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()

	for _, r := range m.rooms[gameTypeID] {
		if r.CreatorID == playerID {
			room := *r
			m.mu.Unlock()
			return Result{Status: StatusAlreadyWaiting, Room: &room, Message: msgAlreadyWaiting}, nil
		}
	}

	playerBalance, err := m.balance(ctx, playerID)
	if err != nil {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("balance for player %d: %w", playerID, err)
	}

	minFee, maxFee := targetFee-feeRange, targetFee+feeRange
	var matched *Room
	for i, r := range m.rooms[gameTypeID] {
		if r.Fee < minFee || r.Fee > maxFee {
			continue
		}
		fee := float64(r.Fee)
		if playerBalance < fee {
			log.Printf("[LOBBY] player %d cannot afford room %s (balance=%.2f fee=%d)", playerID, r.ID, playerBalance, r.Fee)
			continue
		}
		creatorBalance, err := m.balance(ctx, r.CreatorID)
		if err != nil {
			log.Printf("[LOBBY] skipping room %s: creator %d balance lookup failed: %v", r.ID, r.CreatorID, err)
			continue
		}
		if creatorBalance < fee {
			log.Printf("[LOBBY] skipping room %s: creator %d can no longer afford fee %d (balance=%.2f)", r.ID, r.CreatorID, r.Fee, creatorBalance)
			continue
		}
		matched = r
		m.rooms[gameTypeID] = removeAt(m.rooms[gameTypeID], i)
		break
	}

	if matched == nil {
		if playerBalance < float64(targetFee) {
			m.mu.Unlock()
			return Result{}, ErrInsufficientBalance
		}
		id := matchid.New(gt.Key, targetFee)
		room := &Room{
			ID:         id.String(),
			GameTypeID: gameTypeID,
			CreatorID:  playerID,
			Fee:        targetFee,
			CreatedAt:  m.now().UTC(),
			gameKey:    gt.Key,
		}
		m.rooms[gameTypeID] = append(m.rooms[gameTypeID], room)
		snapshot := *room
		m.mu.Unlock()

		log.Printf("[LOBBY] player %d opened room %s (game=%s fee=%d)", playerID, room.ID, gt.Key, targetFee)
		m.publish(ctx, "room_opened", snapshot)
		return Result{Status: StatusWaiting, Room: &snapshot, Message: msgWaiting}, nil
	}
	m.mu.Unlock()

	found := m.pair(ctx, matched, playerID)
	log.Printf("[LOBBY] room %s matched: creator=%d joiner=%d fee=%d", matched.ID, matched.CreatorID, playerID, matched.Fee)
	m.publish(ctx, "room_closed", *matched)
	return Result{Status: StatusMatched, Match: found, Message: msgMatched}, nil
}

// pair turns a removed room into a handoff and notifies both players. The
// creator becomes player one.
func (m *Matcher) balance(ctx context.Context, playerID int) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.balanceTimeout)
	defer cancel()
	return m.dir.Balance(ctx, playerID)
}

func (m *Matcher) pair(ctx context.Context, r *Room, joinerID int) *MatchFound {
	one := Participant{ID: r.CreatorID, Name: m.displayName(ctx, r.CreatorID)}
	two := Participant{ID: joinerID, Name: m.displayName(ctx, joinerID)}

	if m.handoffs != nil {
		m.handoffs.Put(ctx, &Handoff{
			MatchID:    r.ID,
			GameKey:    r.gameKey,
			GameTypeID: r.GameTypeID,
			Stake:      float64(r.Fee),
			PlayerOne:  one,
			PlayerTwo:  two,
			CreatedAt:  m.now().UTC(),
		})
	}

	found := &MatchFound{
		GameTypeID:    r.GameTypeID,
		PlayerOneID:   one.ID,
		PlayerTwoID:   two.ID,
		EntryFee:      r.Fee,
		MatchID:       r.ID,
		PlayerOneName: one.Name,
		PlayerTwoName: two.Name,
	}
	if m.notifier != nil {
		m.notifier.SendToUser(one.ID, EventMatchFound, found)
		m.notifier.SendToUser(two.ID, EventMatchFound, found)
	}
	return found
}

func (m *Matcher) displayName(ctx context.Context, playerID int) string {
	p, err := m.dir.FindByID(ctx, playerID)
	if err != nil || p == nil {
		log.Printf("[LOBBY] name lookup for player %d failed: %v", playerID, err)
		return fmt.Sprintf("Player %d", playerID)
	}
	return p.Name()
}

// Leave removes the caller's waiting room for a game type.
func (m *Matcher) Leave(ctx context.Context, playerID, gameTypeID int) bool {
	m.mu.Lock()
	var removed *Room
	for i, r := range m.rooms[gameTypeID] {
		if r.CreatorID == playerID {
			removed = r
			m.rooms[gameTypeID] = removeAt(m.rooms[gameTypeID], i)
			break
		}
	}
	m.mu.Unlock()

	if removed == nil {
		return false
	}
	log.Printf("[LOBBY] player %d left room %s", playerID, removed.ID)
	m.publish(ctx, "room_closed", *removed)
	return true
}

// GetLobbies returns a read-only snapshot of the open rooms grouped by game type id.
func (m *Matcher) GetLobbies() map[int][]Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int][]Room, len(m.rooms))
	for gameTypeID, rooms := range m.rooms {
		if len(rooms) == 0 {
			continue
		}
		list := make([]Room, 0, len(rooms))
		for _, r := range rooms {
			list = append(list, *r)
		}
		out[gameTypeID] = list
	}
	return out
}

// Sweep removes rooms older than maxAge and tells their creators.
func (m *Matcher) Sweep(ctx context.Context, maxAge time.Duration) []Room {
	cutoff := m.now().UTC().Add(-maxAge)

	m.mu.Lock()
	var expired []Room
	for gameTypeID, rooms := range m.rooms {
		kept := rooms[:0]
		for _, r := range rooms {
			if r.CreatedAt.Before(cutoff) {
				expired = append(expired, *r)
				continue
			}
			kept = append(kept, r)
		}
		m.rooms[gameTypeID] = kept
	}
	m.mu.Unlock()

	for _, r := range expired {
		log.Printf("[LOBBY] room %s expired (creator=%d age>%s)", r.ID, r.CreatorID, maxAge)
		if m.notifier != nil {
			m.notifier.SendToUser(r.CreatorID, EventLobbyExpired, map[string]interface{}{
				"roomId":     r.ID,
				"gameTypeId": r.GameTypeID,
			})
		}
		m.publish(ctx, "room_closed", r)
	}
	return expired
}

// ScheduleSweep registers the periodic room expiry on a gocron scheduler.
func (m *Matcher) ScheduleSweep(sched gocron.Scheduler, every, maxAge time.Duration) error {
	_, err := sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if expired := m.Sweep(ctx, maxAge); len(expired) > 0 {
				log.Printf("[LOBBY] Sweep removed %d idle room(s)", len(expired))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule lobby sweep: %w", err)
	}
	return nil
}

func (m *Matcher) publish(ctx context.Context, kind string, r Room) {
	if m.publisher == nil {
		return
	}
	b, err := json.Marshal(map[string]interface{}{"type": kind, "room": r})
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, appredis.LobbyEventsChannel, b).Err(); err != nil {
		log.Printf("[LOBBY] publish %s for room %s failed: %v", kind, r.ID, err)
	}
}

func removeAt(rooms []*Room, i int) []*Room {
	out := make([]*Room, 0, len(rooms)-1)
	out = append(out, rooms[:i]...)
	return append(out, rooms[i+1:]...)
}
