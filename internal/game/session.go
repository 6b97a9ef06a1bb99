package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/settlement"
)

// Slot is one participant of a session. Game state that belongs to the player
// is keyed by ID inside the variant, so it survives reconnects; conn only
// names the current channel.
type Slot struct {
	ID   int
	Name string

	conn  Conn
	grace *timer
}

func (sl *Slot) connected() bool {
	return sl.conn != nil
}

func (sl *Slot) send(event string, data interface{}) {
	if sl.conn != nil {
		sl.conn.Send(event, data)
	}
}

func (sl *Slot) status(format string, args ...interface{}) {
	sl.send(EventStatusUpdate, messageBody{Message: fmt.Sprintf(format, args...)})
}

func (sl *Slot) fail(message string) {
	sl.send(EventError, messageBody{Message: message})
}

type timer struct {
	stop func() bool
	done bool
}

// Session is the authoritative state of one match. All state is owned by a
// single goroutine; connections, timers and messages reach it through post.
type Session struct {
	key     string
	gameKey string
	matchID int64
	stake   float64
	slots   [2]*Slot

	settings Settings
	clock    Clock
	settler  Settler
	variant  variant
	onClosed func(*Session)

	events chan func()
	done   chan struct{}

	// actor state
	started   bool
	startedAt time.Time
	concluded bool
	final     interface{}
	showUp    *timer
	timers    map[*timer]struct{}
}

// SessionInfo is a point-in-time view of a session for diagnostics.
type SessionInfo struct {
	MatchID   string    `json:"matchId"`
	DBMatchID int64     `json:"dbMatchId"`
	GameKey   string    `json:"gameKey"`
	Stake     float64   `json:"stake"`
	Players   [2]int    `json:"players"`
	Connected [2]bool   `json:"connected"`
	Started   bool      `json:"started"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Concluded bool      `json:"concluded"`
}

func newSession(h *lobby.Handoff, matchID int64, settings Settings, clock Clock, settler Settler, onClosed func(*Session)) (*Session, error) {
	s := &Session{
		key:      h.MatchID,
		gameKey:  h.GameKey,
		matchID:  matchID,
		stake:    h.Stake,
		slots:    [2]*Slot{{ID: h.PlayerOne.ID, Name: h.PlayerOne.Name}, {ID: h.PlayerTwo.ID, Name: h.PlayerTwo.Name}},
		settings: settings,
		clock:    clock,
		settler:  settler,
		onClosed: onClosed,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		timers:   make(map[*timer]struct{}),
	}

	v, err := newVariant(s)
	if err != nil {
		return nil, err
	}
	s.variant = v

	if settings.ShowUpTimeout > 0 {
		s.showUp = s.after(settings.ShowUpTimeout, s.showUpExpired)
	}
	go s.run()
	return s, nil
}

func (s *Session) Key() string { return s.key }

// MatchID is the durable match record id.
func (s *Session) MatchID() int64 { return s.matchID }

func (s *Session) GameKey() string { return s.gameKey }

// Done is closed after the match has concluded and settlement has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Has(playerID int) bool { return s.pick(playerID) != nil }

func (s *Session) pick(id int) *Slot {
	for _, sl := range s.slots {
		if sl.ID == id {
			return sl
		}
	}
	return nil
}

func (s *Session) opponent(sl *Slot) *Slot {
	if s.slots[0] == sl {
		return s.slots[1]
	}
	return s.slots[0]
}

func (s *Session) broadcast(event string, data interface{}) {
	for _, sl := range s.slots {
		sl.send(event, data)
	}
}

// Attach binds conn as playerID's current channel.
func (s *Session) Attach(playerID int, conn Conn) error {
	if !s.Has(playerID) {
		return ErrNotParticipant
	}
	if !s.post(func() { s.attach(playerID, conn) }) {
		return ErrMatchClosed
	}
	return nil
}

// Detach reports that conn closed. Stale connections are ignored.
func (s *Session) Detach(playerID int, conn Conn) {
	s.post(func() { s.detach(playerID, conn) })
}

// Deliver decodes one client frame and hands it to the game.
func (s *Session) Deliver(playerID int, conn Conn, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		conn.Send(EventError, messageBody{Message: "Invalid message format from client."})
		return
	}
	s.post(func() { s.message(playerID, conn, env) })
}

// Info snapshots the session. It returns false once the session has closed.
func (s *Session) Info() (SessionInfo, bool) {
	var info SessionInfo
	ok := s.call(func() {
		info = SessionInfo{
			MatchID:   s.key,
			DBMatchID: s.matchID,
			GameKey:   s.gameKey,
			Stake:     s.stake,
			Players:   [2]int{s.slots[0].ID, s.slots[1].ID},
			Connected: [2]bool{s.slots[0].connected(), s.slots[1].connected()},
			Started:   s.started,
			StartedAt: s.startedAt,
			Concluded: s.concluded,
		}
	})
	return info, ok
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the actor. Never call it from the actor itself.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

// after schedules fn on the actor. A cancelled or superseded timer never runs
// fn, and nothing runs once the session has concluded.
func (s *Session) after(d time.Duration, fn func()) *timer {
	t := &timer{}
	s.timers[t] = struct{}{}
	t.stop = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if t.done || s.concluded {
				return
			}
			t.done = true
			delete(s.timers, t)
			fn()
		})
	})
	return t
}

func (s *Session) cancel(t *timer) {
	if t == nil || t.done {
		return
	}
	t.done = true
	t.stop()
	delete(s.timers, t)
}

func (s *Session) attach(playerID int, conn Conn) {
	sl := s.pick(playerID)
	if s.concluded {
		if s.final != nil {
			conn.Send(EventMatchOver, s.final)
		}
		return
	}

	if sl.conn != nil && sl.conn != conn {
		sl.conn.Close(CloseNormal, "replaced by new connection")
	}
	sl.conn = conn
	opp := s.opponent(sl)

	reconnect := sl.grace != nil
	if reconnect {
		s.cancel(sl.grace)
		sl.grace = nil
		log.Printf("[SESSION] %s: player %d (%s) reconnected within grace period", s.key, sl.ID, sl.Name)
		opp.status("%s has reconnected.", sl.Name)
	} else {
		log.Printf("[SESSION] %s: player %d (%s) connected", s.key, sl.ID, sl.Name)
	}

	s.variant.attached(sl, reconnect)

	switch {
	case !s.started && opp.connected():
		s.started = true
		s.startedAt = s.clock.Now()
		s.cancel(s.showUp)
		s.showUp = nil
		log.Printf("[SESSION] %s: both players connected, starting %s", s.key, s.gameKey)
		s.variant.start()
	case s.started:
		s.variant.rejoined(sl)
	default:
		sl.status("Connected. Waiting for opponent, %s, to join/reconnect.", opp.Name)
	}
}

func (s *Session) detach(playerID int, conn Conn) {
	sl := s.pick(playerID)
	if sl.conn != conn {
		return
	}
	sl.conn = nil
	if s.concluded {
		return
	}

	opp := s.opponent(sl)
	log.Printf("[SESSION] %s: player %d (%s) disconnected", s.key, sl.ID, sl.Name)
	opp.status("%s disconnected. Waiting for reconnect (%ds)...", sl.Name, int(s.settings.DisconnectGrace/time.Second))
	s.variant.detached(sl)

	if s.started && s.variant.forfeitable(sl) {
		s.cancel(sl.grace)
		sl.grace = s.after(s.settings.DisconnectGrace, func() { s.graceExpired(sl) })
	}
}

func (s *Session) message(playerID int, conn Conn, env envelope) {
	sl := s.pick(playerID)
	if sl.conn != conn {
		return
	}
	if s.concluded {
		sl.fail("This match has already concluded.")
		return
	}
	s.variant.handle(sl, env.Event, env.body())
}

func (s *Session) graceExpired(sl *Slot) {
	sl.grace = nil
	if sl.connected() {
		return
	}
	opp := s.opponent(sl)
	if !opp.connected() {
		if !s.variant.abandonable() {
			log.Printf("[SESSION] %s: grace expired for %d with opponent also gone, leaving the result to the clock", s.key, sl.ID)
			return
		}
		log.Printf("[SESSION] %s: grace expired for %d with opponent also gone, abandoning", s.key, sl.ID)
		s.conclude(s.variant.draw("Both players left the match."))
		return
	}
	log.Printf("[SESSION] %s: player %d (%s) did not reconnect, forfeiting", s.key, sl.ID, sl.Name)
	s.conclude(s.variant.forfeit(sl))
}

func (s *Session) showUpExpired() {
	s.showUp = nil
	if s.started {
		return
	}
	a, b := s.slots[0], s.slots[1]
	switch {
	case a.connected():
		log.Printf("[SESSION] %s: player %d never showed up", s.key, b.ID)
		s.conclude(s.variant.forfeit(b))
	case b.connected():
		log.Printf("[SESSION] %s: player %d never showed up", s.key, a.ID)
		s.conclude(s.variant.forfeit(a))
	default:
		log.Printf("[SESSION] %s: nobody showed up, refunding", s.key)
		s.conclude(s.variant.draw("Neither player joined the match."))
	}
}

// conclude ends the match. Only the first call has any effect.
func (s *Session) conclude(res Result) bool {
	if s.concluded {
		return false
	}
	s.concluded = true
	for t := range s.timers {
		t.done = true
		t.stop()
	}
	s.timers = make(map[*timer]struct{})
	for _, sl := range s.slots {
		sl.grace = nil
	}

	s.final = res.Payload
	s.broadcast(EventMatchOver, res.Payload)
	if res.Draw {
		log.Printf("[SESSION] %s concluded as a draw (%s)", s.key, res.Score)
	} else {
		log.Printf("[SESSION] %s concluded: winner=%d loser=%d (%s)", s.key, res.WinnerID, res.LoserID, res.Score)
	}

	go s.settle(res)
	return true
}

func (s *Session) settle(res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.SettleTimeout)
	defer cancel()

	o := settlement.Outcome{
		MatchID:   s.matchID,
		LobbyUUID: s.key,
		Stake:     s.stake,
		WinnerID:  res.WinnerID,
		LoserID:   res.LoserID,
		Draw:      res.Draw,
		Score:     res.Score,
	}
	if err := s.settler.Resolve(ctx, o); err != nil {
		log.Printf("[SESSION] %s: settlement of match %d failed: %v", s.key, s.matchID, err)
	} else {
		log.Printf("[SESSION] %s: match %d settled", s.key, s.matchID)
	}

	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.done)
}

func newVariant(s *Session) (variant, error) {
	switch s.gameKey {
	case gameKeyRounds:
		return newRoundDuel(s), nil
	case gameKeyRace:
		return newRaceDuel(s, nil), nil
	}
	return nil, fmt.Errorf("%w: no engine for game %q", lobby.ErrInvalidHandoff, s.gameKey)
}
