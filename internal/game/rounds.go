package game

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/playmatatu/duels/internal/models"
)

const gameKeyRounds = models.GameKeyRockPaperScissors

// Move statuses within a round
const (
	movePending  = "pending"
	movePlayed   = "played"
	moveTimedOut = "timed_out"
)

var beats = map[string]string{
	"rock":     "scissors",
	"scissors": "paper",
	"paper":    "rock",
}

// roundOutcome compares two moves: 1 if a wins, -1 if b wins, 0 on a draw.
func roundOutcome(a, b string) int {
	switch {
	case a == b:
		return 0
	case beats[a] == b:
		return 1
	default:
		return -1
	}
}

type roundScores struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type gameStateUpdate struct {
	MatchID            string      `json:"matchId"`
	Player1Name        string      `json:"player1Name"`
	Player2Name        string      `json:"player2Name"`
	OverallScores      roundScores `json:"overallScores"`
	CurrentRoundNumber int         `json:"currentRoundNumber"`
}

type newRound struct {
	MatchID       string      `json:"matchId"`
	OverallScores roundScores `json:"overallScores"`
	RoundNumber   int         `json:"roundNumber"`
	TimerDuration int         `json:"timerDuration"`
}

type matchRef struct {
	MatchID string `json:"matchId"`
}

type roundResult struct {
	MatchID       string             `json:"matchId"`
	Moves         map[string]*string `json:"moves"`
	RoundWinnerID *int               `json:"roundWinnerId"`
	OverallScores roundScores        `json:"overallScores"`
	Reason        string             `json:"reason"`
}

type roundMatchOver struct {
	MatchID     string      `json:"matchId"`
	WinnerID    *int        `json:"winnerId"`
	WinnerName  string      `json:"winnerName,omitempty"`
	FinalScores roundScores `json:"finalScores"`
	Message     string      `json:"message"`
}

type playMessage struct {
	MatchID string `json:"matchId"`
	Move    string `json:"move"`
}

// roundDuel is best-of-N rock paper scissors: simultaneous moves, a timer per
// round, first to RoundWins takes the match.
type roundDuel struct {
	s *Session

	scores roundScores
	round  int
	moves  map[int]string
	status map[int]string

	// inRound is set from the start of a round until it is resolved. A paused
	// round keeps it set and restarts with the same number.
	inRound bool
	// awaiting means a round should start as soon as both players are attached.
	awaiting bool
	timer    *timer
	next     *timer
}

func newRoundDuel(s *Session) *roundDuel {
	return &roundDuel{
		s:      s,
		moves:  make(map[int]string),
		status: make(map[int]string),
	}
}

func (r *roundDuel) p1() *Slot { return r.s.slots[0] }
func (r *roundDuel) p2() *Slot { return r.s.slots[1] }

func (r *roundDuel) currentRound() int {
	if r.inRound {
		return r.round
	}
	return r.round + 1
}

func (r *roundDuel) attached(sl *Slot, _ bool) {
	sl.send(EventGameStateUpdate, gameStateUpdate{
		MatchID:            r.s.key,
		Player1Name:        r.p1().Name,
		Player2Name:        r.p2().Name,
		OverallScores:      r.scores,
		CurrentRoundNumber: r.currentRound(),
	})
}

func (r *roundDuel) start() {
	r.beginRound()
}

func (r *roundDuel) rejoined(sl *Slot) {
	opp := r.s.opponent(sl)
	if !opp.connected() {
		sl.status("Connected. Waiting for opponent, %s, to join/reconnect.", opp.Name)
		return
	}
	switch {
	case r.timer != nil:
		sl.send(EventNewRound, r.newRoundPayload())
	case r.awaiting:
		r.beginRound()
	}
}

func (r *roundDuel) detached(sl *Slot) {
	if r.timer == nil {
		return
	}
	r.s.cancel(r.timer)
	r.timer = nil
	r.awaiting = true
	log.Printf("[RPS] %s: round %d paused, player %d disconnected", r.s.key, r.round, sl.ID)
	r.s.opponent(sl).status("Round paused. %s disconnected.", sl.Name)
}

func (r *roundDuel) forfeitable(*Slot) bool { return true }

// abandonable is always true: rounds won so far do not decide a match that
// both players walked away from, so the stakes are refunded.
func (r *roundDuel) abandonable() bool { return true }

func (r *roundDuel) handle(sl *Slot, event string, body json.RawMessage) {
	switch event {
	case EventPlay:
		var msg playMessage
		if len(body) > 0 {
			if err := json.Unmarshal(body, &msg); err != nil {
				sl.fail("Invalid or missing move in play event.")
				return
			}
		}
		if msg.MatchID != "" && msg.MatchID != r.s.key {
			sl.fail("Client message does not belong to this match.")
			return
		}
		r.play(sl, msg.Move)
	default:
		sl.fail(fmt.Sprintf("Unknown event type: %s", event))
	}
}

func (r *roundDuel) play(sl *Slot, move string) {
	if _, ok := beats[move]; !ok {
		sl.fail("Invalid or missing move in play event.")
		return
	}
	switch r.status[sl.ID] {
	case movePlayed:
		sl.fail("You have already submitted a move for this round.")
		return
	case movePending:
	default:
		sl.fail("Cannot make a move at this time (your status is not pending).")
		return
	}
	opp := r.s.opponent(sl)
	if !opp.connected() {
		sl.fail("Cannot play move, opponent not currently connected.")
		return
	}
	if r.timer == nil {
		sl.fail("The round is not currently active or has already timed out.")
		return
	}

	r.moves[sl.ID] = move
	r.status[sl.ID] = movePlayed
	log.Printf("[RPS] %s: player %d played round %d", r.s.key, sl.ID, r.round)
	opp.send(EventOpponentPlayed, matchRef{MatchID: r.s.key})

	if r.status[opp.ID] == movePlayed {
		r.s.cancel(r.timer)
		r.timer = nil
		r.resolveMoves()
	}
}

func (r *roundDuel) beginRound() {
	if !r.p1().connected() || !r.p2().connected() {
		r.awaiting = true
		for _, sl := range r.s.slots {
			if sl.connected() {
				sl.status("Waiting for %s to reconnect before starting next round.", r.s.opponent(sl).Name)
			}
		}
		return
	}

	r.awaiting = false
	if !r.inRound {
		r.round++
		r.inRound = true
	}
	r.moves = make(map[int]string)
	r.status = map[int]string{r.p1().ID: movePending, r.p2().ID: movePending}
	r.s.cancel(r.timer)
	r.timer = r.s.after(r.s.settings.RoundDuration, r.roundTimeout)

	log.Printf("[RPS] %s: round %d started (%d-%d)", r.s.key, r.round, r.scores.Player1, r.scores.Player2)
	r.s.broadcast(EventNewRound, r.newRoundPayload())
}

func (r *roundDuel) newRoundPayload() newRound {
	return newRound{
		MatchID:       r.s.key,
		OverallScores: r.scores,
		RoundNumber:   r.round,
		TimerDuration: int(r.s.settings.RoundDuration.Seconds()),
	}
}

func (r *roundDuel) roundTimeout() {
	r.timer = nil
	p1, p2 := r.p1(), r.p2()
	for _, sl := range r.s.slots {
		if r.status[sl.ID] == movePending {
			r.status[sl.ID] = moveTimedOut
		}
	}

	s1, s2 := r.status[p1.ID], r.status[p2.ID]
	var winner *Slot
	var reason string
	switch {
	case s1 == movePlayed && s2 == movePlayed:
		r.resolveMoves()
		return
	case s1 == movePlayed && s2 == moveTimedOut:
		winner = p1
		reason = fmt.Sprintf("%s did not make a move in time.", p2.Name)
	case s2 == movePlayed && s1 == moveTimedOut:
		winner = p2
		reason = fmt.Sprintf("%s did not make a move in time.", p1.Name)
	case s1 == moveTimedOut && s2 == moveTimedOut:
		reason = "Both players timed out. The round is a draw."
	default:
		reason = "Round ended due to time limit."
	}
	r.finishRound(winner, reason)
}

func (r *roundDuel) resolveMoves() {
	p1, p2 := r.p1(), r.p2()
	m1, m2 := r.moves[p1.ID], r.moves[p2.ID]

	var winner *Slot
	var reason string
	switch roundOutcome(m1, m2) {
	case 1:
		winner = p1
		reason = fmt.Sprintf("%s wins the round! (%s beats %s)", p1.Name, m1, m2)
	case -1:
		winner = p2
		reason = fmt.Sprintf("%s wins the round! (%s beats %s)", p2.Name, m2, m1)
	default:
		reason = fmt.Sprintf("Round is a draw! (Both played %s)", m1)
	}
	r.finishRound(winner, reason)
}

func (r *roundDuel) finishRound(winner *Slot, reason string) {
	r.inRound = false

	var winnerID *int
	if winner != nil {
		id := winner.ID
		winnerID = &id
		if winner == r.p1() {
			r.scores.Player1++
		} else {
			r.scores.Player2++
		}
	}

	moves := make(map[string]*string, 2)
	for _, sl := range r.s.slots {
		var mv *string
		if m, ok := r.moves[sl.ID]; ok {
			mv = &m
		}
		moves[strconv.Itoa(sl.ID)] = mv
	}

	log.Printf("[RPS] %s: round %d resolved: %s (%d-%d)", r.s.key, r.round, reason, r.scores.Player1, r.scores.Player2)
	r.s.broadcast(EventRoundResult, roundResult{
		MatchID:       r.s.key,
		Moves:         moves,
		RoundWinnerID: winnerID,
		OverallScores: r.scores,
		Reason:        reason,
	})

	wins := r.s.settings.RoundWins
	switch {
	case r.scores.Player1 >= wins:
		r.s.conclude(r.win(r.p1(), ""))
	case r.scores.Player2 >= wins:
		r.s.conclude(r.win(r.p2(), ""))
	default:
		r.next = r.s.after(r.s.settings.NextRoundDelay, func() {
			r.next = nil
			r.beginRound()
		})
	}
}

func (r *roundDuel) scoreLine() string {
	return fmt.Sprintf("%d-%d", r.scores.Player1, r.scores.Player2)
}

func (r *roundDuel) win(winner *Slot, forfeitBy string) Result {
	loser := r.s.opponent(winner)
	score := r.scoreLine()
	message := fmt.Sprintf("%s wins the Best of %d match! Final Score: %s.", winner.Name, 2*r.s.settings.RoundWins-1, score)
	if forfeitBy != "" {
		score = fmt.Sprintf("%s (Forfeit by %s)", score, forfeitBy)
		message = fmt.Sprintf("%s wins by forfeit: %s did not reconnect.", winner.Name, forfeitBy)
	}
	id := winner.ID
	return Result{
		WinnerID: winner.ID,
		LoserID:  loser.ID,
		Score:    score,
		Payload: roundMatchOver{
			MatchID:     r.s.key,
			WinnerID:    &id,
			WinnerName:  winner.Name,
			FinalScores: r.scores,
			Message:     message,
		},
	}
}

func (r *roundDuel) forfeit(loser *Slot) Result {
	winner := r.s.opponent(loser)
	if winner == r.p1() {
		r.scores.Player1 = r.s.settings.RoundWins
	} else {
		r.scores.Player2 = r.s.settings.RoundWins
	}
	return r.win(winner, loser.Name)
}

func (r *roundDuel) draw(reason string) Result {
	return Result{
		Draw:  true,
		Score: fmt.Sprintf("%s (%s)", r.scoreLine(), reason),
		Payload: roundMatchOver{
			MatchID:     r.s.key,
			FinalScores: r.scores,
			Message:     reason,
		},
	}
}
