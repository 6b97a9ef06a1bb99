package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/matchid"
	"github.com/playmatatu/duels/internal/models"
	"golang.org/x/sync/singleflight"
)

// Manager owns every live session, keyed by composite match id. Concurrent
// first connections to the same match share a single bootstrap.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	boot     singleflight.Group

	handoffs HandoffSource
	settler  Settler
	settings Settings
	clock    Clock
}

// NewManager creates a session registry.
func NewManager(handoffs HandoffSource, settler Settler, settings Settings) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		handoffs: handoffs,
		settler:  settler,
		settings: settings,
		clock:    realClock{},
	}
}

// SettingsFromConfig maps the environment configuration onto session settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	s.DisconnectGrace = config.Seconds(cfg.DisconnectGraceSeconds)
	s.ShowUpTimeout = config.Seconds(cfg.ShowUpTimeoutSeconds)
	s.RoundDuration = config.Seconds(cfg.RPSRoundSeconds)
	s.RoundWins = cfg.RPSRoundWins
	s.NextRoundDelay = config.Millis(cfg.RPSNextRoundDelayMs)
	s.RaceRows = cfg.RaceRows
	s.RaceCols = cfg.RaceCols
	s.RaceBombs = cfg.RaceBombs
	s.RaceDuration = config.Seconds(cfg.RaceTimeSeconds)
	return s
}

// Join returns the session for id, creating it on the first connection. The
// caller must be one of the two paired players.
func (m *Manager) Join(ctx context.Context, id matchid.ID, playerID int) (*Session, error) {
	key := id.String()
	if s := m.Get(key); s != nil {
		if !s.Has(playerID) {
			return nil, ErrNotParticipant
		}
		return s, nil
	}

	h, ok := m.handoffs.Get(ctx, key)
	if !ok {
		return nil, ErrHandoffMissing
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.MatchID != key || h.GameKey != id.GameKey {
		return nil, fmt.Errorf("%w: handoff %s does not describe %s", lobby.ErrInvalidHandoff, h.MatchID, key)
	}
	if !h.Has(playerID) {
		return nil, ErrNotParticipant
	}

	v, err, shared := m.boot.Do(key, func() (interface{}, error) {
		if s := m.Get(key); s != nil {
			return s, nil
		}
		return m.bootstrap(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("[GAME] %s: joined a concurrent bootstrap", key)
	}
	return v.(*Session), nil
}

func (m *Manager) bootstrap(ctx context.Context, h *lobby.Handoff) (*Session, error) {
	if _, ok := models.GameTypeByKey(h.GameKey); !ok {
		return nil, fmt.Errorf("%w: unsupported game %q", lobby.ErrInvalidHandoff, h.GameKey)
	}

	res, err := m.settler.StartMatch(ctx, h.PlayerOne.ID, h.PlayerTwo.ID, h.Stake, h.GameKey, h.MatchID)
	if err != nil {
		return nil, fmt.Errorf("start match %s: %w", h.MatchID, err)
	}
	if res.State != "" && !models.IsInProgress(res.State) {
		m.handoffs.Forget(ctx, h.MatchID)
		return nil, ErrMatchFinished
	}
	if res.AlreadyExisted {
		log.Printf("[GAME] %s: reusing durable match %d", h.MatchID, res.MatchID)
	}

	s, err := newSession(h, res.MatchID, m.settings, m.clock, m.settler, m.evict)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[h.MatchID] = s
	m.mu.Unlock()

	log.Printf("[GAME] %s: session created for match %d (%d vs %d, stake %.2f)", h.MatchID, res.MatchID, h.PlayerOne.ID, h.PlayerTwo.ID, h.Stake)
	return s, nil
}

// evict runs once a session has concluded and settled.
func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.settings.SettleTimeout)
	defer cancel()
	m.handoffs.Forget(ctx, s.key)
	log.Printf("[GAME] %s: session evicted", s.key)
}

// Get returns the live session for a composite id, or nil.
func (m *Manager) Get(key string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Active snapshots every live session, oldest match first.
func (m *Manager) Active() []SessionInfo {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		if info, ok := s.Info(); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBMatchID < out[j].DBMatchID })
	return out
}
