package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	appredis "github.com/playmatatu/duels/internal/redis"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidHandoff marks a handoff that cannot seed a session.
var ErrInvalidHandoff = errors.New("invalid match handoff")

// Participant is one side of a paired match.
type Participant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Handoff is produced once when a room pairs and consumed by the game session
// on the first real-time connection.
type Handoff struct {
	MatchID    string      `json:"matchId"`
	GameKey    string      `json:"gameKey"`
	GameTypeID int         `json:"gameTypeId"`
	Stake      float64     `json:"stake"`
	PlayerOne  Participant `json:"playerOne"`
	PlayerTwo  Participant `json:"playerTwo"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Validate rejects handoffs with a missing player, a non-positive stake or an
// empty game key.
func (h *Handoff) Validate() error {
	switch {
	case h == nil:
		return fmt.Errorf("%w: nil", ErrInvalidHandoff)
	case h.PlayerOne.ID <= 0 || h.PlayerTwo.ID <= 0:
		return fmt.Errorf("%w: missing player", ErrInvalidHandoff)
	case h.PlayerOne.ID == h.PlayerTwo.ID:
		return fmt.Errorf("%w: player paired with themselves", ErrInvalidHandoff)
	case h.Stake <= 0:
		return fmt.Errorf("%w: stake %.2f", ErrInvalidHandoff, h.Stake)
	case h.GameKey == "":
		return fmt.Errorf("%w: empty game key", ErrInvalidHandoff)
	}
	return nil
}

// Has reports whether playerID is one of the two participants.
func (h *Handoff) Has(playerID int) bool {
	return h.PlayerOne.ID == playerID || h.PlayerTwo.ID == playerID
}

// Cache is the key/value primitive used to mirror handoffs outside the process.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	Client *redis.Client
}

func (c RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.Client.SetEx(ctx, key, value, ttl).Err()
}

func (c RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// HandoffStore keeps paired-match handoffs in memory and mirrors them to an
// optional cache so a restarted process can still bootstrap sessions.
type HandoffStore struct {
	mu    sync.RWMutex
	local map[string]*Handoff
	cache Cache
	ttl   time.Duration
}

func NewHandoffStore(cache Cache, ttl time.Duration) *HandoffStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HandoffStore{local: make(map[string]*Handoff), cache: cache, ttl: ttl}
}

func (s *HandoffStore) Put(ctx context.Context, h *Handoff) {
	s.mu.Lock()
	s.local[h.MatchID] = h
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	b, err := json.Marshal(h)
	if err != nil {
		log.Printf("[LOBBY] handoff %s marshal failed: %v", h.MatchID, err)
		return
	}
	if err := s.cache.Set(ctx, appredis.HandoffKeyPrefix+h.MatchID, b, s.ttl); err != nil {
		log.Printf("[LOBBY] handoff %s cache write failed: %v", h.MatchID, err)
	}
}

// Get returns the handoff for a composite match id, falling back to the cache.
func (s *HandoffStore) Get(ctx context.Context, matchID string) (*Handoff, bool) {
	s.mu.RLock()
	h, ok := s.local[matchID]
	s.mu.RUnlock()
	if ok {
		return h, true
	}
	if s.cache == nil {
		return nil, false
	}

	b, found, err := s.cache.Get(ctx, appredis.HandoffKeyPrefix+matchID)
	if err != nil {
		log.Printf("[LOBBY] handoff %s cache read failed: %v", matchID, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var cached Handoff
	if err := json.Unmarshal(b, &cached); err != nil {
		log.Printf("[LOBBY] handoff %s is unreadable: %v", matchID, err)
		return nil, false
	}

	s.mu.Lock()
	s.local[matchID] = &cached
	s.mu.Unlock()
	return &cached, true
}

// Forget drops a handoff once its match has concluded.
func (s *HandoffStore) Forget(ctx context.Context, matchID string) {
	s.mu.Lock()
	delete(s.local, matchID)
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, appredis.HandoffKeyPrefix+matchID); err != nil {
		log.Printf("[LOBBY] handoff %s cache delete failed: %v", matchID, err)
	}
}
