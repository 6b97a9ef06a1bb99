package game

import (
	"testing"
	"time"

	"github.com/playmatatu/duels/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func play(move string) map[string]interface{} {
	return map[string]interface{}{"move": move}
}

func TestRoundOutcomeTable(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"rock", "scissors", 1},
		{"paper", "rock", 1},
		{"scissors", "paper", 1},
		{"scissors", "rock", -1},
		{"rock", "paper", -1},
		{"paper", "scissors", -1},
		{"rock", "rock", 0},
		{"paper", "paper", 0},
		{"scissors", "scissors", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, roundOutcome(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestRoundDuelStartsWhenBothAttached(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)

	assert.Equal(t, 0, c1.count(EventNewRound))
	assert.Contains(t, c1.messages(EventStatusUpdate), "Connected. Waiting for opponent, bob, to join/reconnect.")
	state := c1.last(EventGameStateUpdate)
	require.NotNil(t, state)
	assert.Equal(t, "alice", state["player1Name"])
	assert.Equal(t, float64(1), state["currentRoundNumber"])

	_, c2 := h.join(2)
	for _, c := range []*fakeConn{c1, c2} {
		nr := c.last(EventNewRound)
		require.NotNil(t, nr)
		assert.Equal(t, float64(1), nr["roundNumber"])
		assert.Equal(t, float64(15), nr["timerDuration"])
		assert.Equal(t, s.Key(), nr["matchId"])
	}
}

func TestRoundDuelResolvesWhenBothPlay(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	send(s, 1, c1, EventPlay, play("rock"))
	assert.Equal(t, 1, c2.count(EventOpponentPlayed))
	assert.Equal(t, 0, c1.count(EventOpponentPlayed))
	assert.Equal(t, 0, c1.count(EventRoundResult))

	send(s, 2, c2, EventPlay, play("scissors"))
	res := c1.last(EventRoundResult)
	require.NotNil(t, res)
	assert.Equal(t, float64(1), res["roundWinnerId"])
	assert.Equal(t, "alice wins the round! (rock beats scissors)", res["reason"])
	assert.Equal(t, map[string]interface{}{"1": "rock", "2": "scissors"}, res["moves"])
	assert.Equal(t, map[string]interface{}{"player1": float64(1), "player2": float64(0)}, res["overallScores"])

	// the round timer was cancelled: nothing more happens until the next-round delay
	h.advance(s, 2*time.Second)
	assert.Equal(t, 1, c1.count(EventRoundResult))
	h.advance(s, time.Second)
	assert.Equal(t, float64(2), c1.last(EventNewRound)["roundNumber"])
}

func TestRoundDuelDrawKeepsScore(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	send(s, 1, c1, EventPlay, play("paper"))
	send(s, 2, c2, EventPlay, play("paper"))

	res := c2.last(EventRoundResult)
	require.NotNil(t, res)
	assert.Nil(t, res["roundWinnerId"])
	assert.Equal(t, "Round is a draw! (Both played paper)", res["reason"])
	assert.Equal(t, map[string]interface{}{"player1": float64(0), "player2": float64(0)}, res["overallScores"])
}

func TestRoundTimeoutMoverWins(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	send(s, 1, c1, EventPlay, play("rock"))
	h.advance(s, 15*time.Second)

	res := c2.last(EventRoundResult)
	require.NotNil(t, res)
	assert.Equal(t, float64(1), res["roundWinnerId"])
	assert.Equal(t, "bob did not make a move in time.", res["reason"])
	moves := res["moves"].(map[string]interface{})
	assert.Equal(t, "rock", moves["1"])
	assert.Nil(t, moves["2"])

	send(s, 2, c2, EventPlay, play("paper"))
	assert.Contains(t, c2.messages(EventError), "Cannot make a move at this time (your status is not pending).")
}

func TestRoundTimeoutBothSilentIsScorelessDraw(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	h.join(2)

	h.advance(s, 15*time.Second)
	res := c1.last(EventRoundResult)
	require.NotNil(t, res)
	assert.Nil(t, res["roundWinnerId"])
	assert.Equal(t, "Both players timed out. The round is a draw.", res["reason"])
	assert.Equal(t, map[string]interface{}{"player1": float64(0), "player2": float64(0)}, res["overallScores"])

	h.advance(s, 3*time.Second)
	assert.Equal(t, 2, c1.count(EventNewRound))
	assert.Equal(t, float64(2), c1.last(EventNewRound)["roundNumber"])
}

func TestRoundTimeoutAfterBothPlayedUsesMoves(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	h.join(2)

	s.call(func() {
		r := s.variant.(*roundDuel)
		r.moves[1], r.moves[2] = "paper", "rock"
		r.status[1], r.status[2] = movePlayed, movePlayed
		r.s.cancel(r.timer)
		r.roundTimeout()
	})

	res := c1.last(EventRoundResult)
	require.NotNil(t, res)
	assert.Equal(t, "alice wins the round! (paper beats rock)", res["reason"])
}

func TestFirstToThreeEndsMatch(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	for round := 1; round <= 3; round++ {
		send(s, 1, c1, EventPlay, play("scissors"))
		send(s, 2, c2, EventPlay, play("rock"))
		if round < 3 {
			h.advance(s, h.settings.NextRoundDelay)
		}
	}
	waitClosed(t, s)

	assert.Equal(t, 3, c1.count(EventNewRound))
	over := c1.last(EventMatchOver)
	require.NotNil(t, over)
	assert.Equal(t, float64(2), over["winnerId"])
	assert.Equal(t, "bob wins the Best of 5 match! Final Score: 0-3.", over["message"])
	assert.Equal(t, 1, c2.count(EventMatchOver))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 3, c1.count(EventNewRound), "no round after the match is decided")

	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].WinnerID)
	assert.Equal(t, 1, out[0].LoserID)
	assert.False(t, out[0].Draw)
	assert.Equal(t, "0-3", out[0].Score)
	assert.Equal(t, int64(77), out[0].MatchID)
	assert.Equal(t, s.Key(), out[0].LobbyUUID)
	assert.Equal(t, 10.0, out[0].Stake)
}

func TestPlayValidation(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)

	send(s, 1, c1, EventPlay, play("rock"))
	assert.Contains(t, c1.messages(EventError), "Cannot make a move at this time (your status is not pending).")

	_, c2 := h.join(2)
	send(s, 1, c1, EventPlay, play("lizard"))
	assert.Contains(t, c1.messages(EventError), "Invalid or missing move in play event.")

	send(s, 1, c1, EventPlay, play("rock"))
	send(s, 1, c1, EventPlay, play("paper"))
	assert.Contains(t, c1.messages(EventError), "You have already submitted a move for this round.")

	send(s, 2, c2, "dance", nil)
	assert.Contains(t, c2.messages(EventError), "Unknown event type: dance")

	s.Deliver(2, c2, []byte("{not json"))
	assert.Contains(t, c2.messages(EventError), "Invalid message format from client.")

	detach(s, 1, c1)
	send(s, 2, c2, EventPlay, play("rock"))
	assert.Contains(t, c2.messages(EventError), "Cannot play move, opponent not currently connected.")
}

func TestLegacyPayloadEnvelope(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	s.Deliver(1, c1, []byte(`{"event":"play","payload":{"move":"rock"}}`))
	flush(s)
	assert.Equal(t, 1, c2.count(EventOpponentPlayed))
}

func TestReconnectWithinGraceKeepsScore(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	send(s, 1, c1, EventPlay, play("rock"))
	send(s, 2, c2, EventPlay, play("scissors"))
	h.advance(s, 3*time.Second)

	detach(s, 2, c2)
	msgs := c1.messages(EventStatusUpdate)
	assert.Contains(t, msgs, "bob disconnected. Waiting for reconnect (30s)...")
	assert.Contains(t, msgs, "Round paused. bob disconnected.")

	// the paused round timer must not fire
	h.advance(s, 20*time.Second)
	assert.Equal(t, 1, c1.count(EventRoundResult))

	c2b := h.reattach(s, 2)
	assert.Contains(t, c1.messages(EventStatusUpdate), "bob has reconnected.")
	state := c2b.last(EventGameStateUpdate)
	require.NotNil(t, state)
	assert.Equal(t, map[string]interface{}{"player1": float64(1), "player2": float64(0)}, state["overallScores"])
	assert.Equal(t, float64(2), state["currentRoundNumber"])

	nr := c2b.last(EventNewRound)
	require.NotNil(t, nr)
	assert.Equal(t, float64(2), nr["roundNumber"], "the paused round restarts with the same number")

	h.advance(s, 20*time.Second)
	assert.Equal(t, 0, c1.count(EventMatchOver))
	assert.Empty(t, h.settler.outcomes())
}

func TestGraceExpiryForfeits(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	detach(s, 2, c2)
	h.advance(s, 29*time.Second)
	assert.Equal(t, 0, c1.count(EventMatchOver))

	h.advance(s, time.Second)
	waitClosed(t, s)

	over := c1.last(EventMatchOver)
	require.NotNil(t, over)
	assert.Equal(t, float64(1), over["winnerId"])
	assert.Equal(t, "alice wins by forfeit: bob did not reconnect.", over["message"])
	assert.Equal(t, map[string]interface{}{"player1": float64(3), "player2": float64(0)}, over["finalScores"])

	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].WinnerID)
	assert.Equal(t, 2, out[0].LoserID)
	assert.Equal(t, "3-0 (Forfeit by bob)", out[0].Score)
}

func TestConcludedSessionIgnoresFurtherEvents(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	h.settler.hold = make(chan struct{})
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	detach(s, 2, c2)
	h.advance(s, 30*time.Second)
	require.Equal(t, 1, c1.count(EventMatchOver))

	send(s, 1, c1, EventPlay, play("rock"))
	assert.Contains(t, c1.messages(EventError), "This match has already concluded.")

	h.advance(s, time.Minute)
	assert.Equal(t, 1, c1.count(EventMatchOver))

	late := h.reattach(s, 2)
	assert.Equal(t, 1, late.count(EventMatchOver), "a late joiner sees the final result")
	assert.Equal(t, 0, late.count(EventNewRound))

	close(h.settler.hold)
	waitClosed(t, s)
	assert.Len(t, h.settler.outcomes(), 1)
}

func TestBothPlayersLeaveIsDraw(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	detach(s, 1, c1)
	detach(s, 2, c2)
	h.advance(s, 30*time.Second)
	waitClosed(t, s)

	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.True(t, out[0].Draw)
	assert.Contains(t, out[0].Score, "Both players left the match.")
}

func TestBothPlayersLeaveDiscardsRoundTally(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	for round := 1; round <= 2; round++ {
		send(s, 1, c1, EventPlay, play("rock"))
		send(s, 2, c2, EventPlay, play("scissors"))
		h.advance(s, h.settings.NextRoundDelay)
	}
	detach(s, 1, c1)
	detach(s, 2, c2)
	h.advance(s, 30*time.Second)
	waitClosed(t, s)

	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.True(t, out[0].Draw)
	assert.Zero(t, out[0].WinnerID)
	assert.Equal(t, "2-0 (Both players left the match.)", out[0].Score)
}

func TestNoShowForfeitsAbsentPlayer(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)

	h.advance(s, h.settings.ShowUpTimeout)
	waitClosed(t, s)

	over := c1.last(EventMatchOver)
	require.NotNil(t, over)
	assert.Equal(t, float64(1), over["winnerId"])
	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].WinnerID)
	assert.Equal(t, 2, out[0].LoserID)
}

func TestNoShowNobodyPresentRefunds(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	detach(s, 1, c1)

	h.advance(s, h.settings.ShowUpTimeout)
	waitClosed(t, s)

	out := h.settler.outcomes()
	require.Len(t, out, 1)
	assert.True(t, out[0].Draw)
}

func TestReplacedConnectionIsClosedAndIgnored(t *testing.T) {
	h := newHarness(t, models.GameKeyRockPaperScissors)
	s, c1 := h.join(1)
	_, c2 := h.join(2)

	c1b := h.reattach(s, 1)
	assert.True(t, c1.closed)
	assert.Equal(t, CloseNormal, c1.closeCode)
	assert.Equal(t, "replaced by new connection", c1.closeReason)

	detach(s, 1, c1)
	for _, msg := range c2.messages(EventStatusUpdate) {
		assert.NotContains(t, msg, "disconnected")
	}

	send(s, 1, c1, EventPlay, play("rock"))
	assert.Equal(t, 0, c2.count(EventOpponentPlayed), "frames from a superseded channel are dropped")

	send(s, 1, c1b, EventPlay, play("rock"))
	assert.Equal(t, 1, c2.count(EventOpponentPlayed))
}
