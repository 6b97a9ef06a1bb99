package game

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/playmatatu/duels/internal/models"
)

const gameKeyRace = models.GameKeyMinesweeper

// minimal elapsed time credited to a forfeit winner when the match never started
const nominalElapsedSeconds = 0.1

type raceSetup struct {
	MatchID            string   `json:"matchId"`
	Bombs              [][]bool `json:"bombs"`
	ServerStartTimeMs  int64    `json:"serverStartTimeMs"`
	InitialTimeSeconds int      `json:"initialTimeSeconds"`
	Rows               int      `json:"rows"`
	Cols               int      `json:"cols"`
	BombCount          int      `json:"bombCount"`
}

type raceReport struct {
	MatchID          string  `json:"matchId"`
	Score            float64 `json:"score"`
	TimeTakenSeconds float64 `json:"timeTakenSeconds"`
	HitBomb          bool    `json:"hitBomb"`
	ClearedBoard     bool    `json:"clearedBoard"`
}

type opponentUpdate struct {
	OpponentScore            int     `json:"opponentScore"`
	OpponentTimeTakenSeconds float64 `json:"opponentTimeTakenSeconds"`
	OpponentLostByBomb       bool    `json:"opponentLostByBomb"`
	OpponentWonByClear       bool    `json:"opponentWonByClear"`
}

type racePlayerResults struct {
	ID                     int     `json:"id"`
	Name                   string  `json:"name"`
	Score                  int     `json:"score"`
	TimeTakenSeconds       float64 `json:"timeTakenSeconds"`
	LostByBomb             bool    `json:"lostByBomb"`
	WonByClear             bool    `json:"wonByClear"`
	TimedOutOrStillPlaying bool    `json:"timedOutOrStillPlaying"`
}

type raceMatchOver struct {
	MatchID          string            `json:"matchId"`
	WinnerID         *int              `json:"winnerId"`
	Player1Results   racePlayerResults `json:"player1Results"`
	Player2Results   racePlayerResults `json:"player2Results"`
	Reason           string            `json:"reason"`
	FinalScoreString string            `json:"finalScoreString"`
}

// racer is one player's side of a race. It outlives reconnects.
type racer struct {
	score        int
	timeTaken    float64
	hitBomb      bool
	clearedBoard bool
	// stillPlaying is set when the overall timer beat the player's report.
	stillPlaying  bool
	finished      bool
	receivedSetup bool
}

// raceDuel is the minesweeper race: both players solve the same board in
// parallel and report once; the overall timer settles whoever has not.
type raceDuel struct {
	s *Session

	rows, cols, bombCount int
	bombs                 [][]bool
	startMs               int64
	players               map[int]*racer
	timer                 *timer

	perm func(n int) []int
}

func newRaceDuel(s *Session, perm func(n int) []int) *raceDuel {
	if perm == nil {
		perm = rand.Perm
	}
	cells := s.settings.RaceRows * s.settings.RaceCols
	bombs := s.settings.RaceBombs
	if bombs > cells {
		bombs = cells
	}
	return &raceDuel{
		s:         s,
		rows:      s.settings.RaceRows,
		cols:      s.settings.RaceCols,
		bombCount: bombs,
		players: map[int]*racer{
			s.slots[0].ID: {},
			s.slots[1].ID: {},
		},
		perm: perm,
	}
}

// placeBombs picks count distinct cells uniformly at random.
func placeBombs(rows, cols, count int, perm func(n int) []int) [][]bool {
	grid := make([][]bool, rows)
	for r := range grid {
		grid[r] = make([]bool, cols)
	}
	for _, cell := range perm(rows * cols)[:count] {
		grid[cell/cols][cell%cols] = true
	}
	return grid
}

func (d *raceDuel) maxScore() int {
	return d.rows*d.cols - d.bombCount
}

func (d *raceDuel) budgetSeconds() float64 {
	return d.s.settings.RaceDuration.Seconds()
}

func (d *raceDuel) setup() raceSetup {
	return raceSetup{
		MatchID:            d.s.key,
		Bombs:              d.bombs,
		ServerStartTimeMs:  d.startMs,
		InitialTimeSeconds: int(d.budgetSeconds()),
		Rows:               d.rows,
		Cols:               d.cols,
		BombCount:          d.bombCount,
	}
}

func (d *raceDuel) attached(*Slot, bool) {}

func (d *raceDuel) start() {
	d.bombs = placeBombs(d.rows, d.cols, d.bombCount, d.perm)
	d.startMs = d.s.startedAt.UnixMilli()

	payload := d.setup()
	for _, sl := range d.s.slots {
		if sl.connected() {
			sl.send(EventGameSetupReady, payload)
			d.players[sl.ID].receivedSetup = true
		}
	}
	d.timer = d.s.after(d.s.settings.RaceDuration, d.timeout)
	log.Printf("[RACE] %s: board %dx%d with %d bombs sent, %ds on the clock", d.s.key, d.rows, d.cols, d.bombCount, int(d.budgetSeconds()))
}

func (d *raceDuel) rejoined(sl *Slot) {
	p := d.players[sl.ID]
	if !p.receivedSetup {
		sl.send(EventGameSetupReady, d.setup())
		p.receivedSetup = true
		log.Printf("[RACE] %s: resent board to player %d", d.s.key, sl.ID)
		return
	}
	sl.status("Rejoined ongoing game.")
}

func (d *raceDuel) detached(*Slot) {}

func (d *raceDuel) forfeitable(sl *Slot) bool {
	return !d.players[sl.ID].finished
}

// abandonable is false once anyone has reported: the overall timer ranks
// the reported result against the silent player.
func (d *raceDuel) abandonable() bool {
	for _, p := range d.players {
		if p.finished {
			return false
		}
	}
	return true
}

func (d *raceDuel) handle(sl *Slot, event string, body json.RawMessage) {
	switch event {
	case EventGameUpdate:
		var msg raceReport
		if err := json.Unmarshal(body, &msg); err != nil {
			sl.fail("Invalid game_update payload.")
			return
		}
		if msg.MatchID != "" && msg.MatchID != d.s.key {
			sl.fail("Client message does not belong to this match.")
			return
		}
		d.report(sl, msg)
	default:
		sl.fail(fmt.Sprintf("Unknown event type: %s", event))
	}
}

func (d *raceDuel) report(sl *Slot, msg raceReport) {
	if !d.s.started {
		sl.fail("The game has not started yet.")
		return
	}
	p := d.players[sl.ID]
	if p.finished {
		sl.fail("You have already reported your result.")
		return
	}

	p.score = int(math.Round(msg.Score))
	p.timeTaken = math.Min(math.Max(msg.TimeTakenSeconds, 0), d.budgetSeconds())
	p.hitBomb = msg.HitBomb
	p.clearedBoard = msg.ClearedBoard
	p.stillPlaying = false
	p.finished = true
	log.Printf("[RACE] %s: player %d finished: score=%d time=%.2fs bomb=%t clear=%t", d.s.key, sl.ID, p.score, p.timeTaken, p.hitBomb, p.clearedBoard)

	d.s.opponent(sl).send(EventOpponentUpdate, opponentUpdate{
		OpponentScore:            p.score,
		OpponentTimeTakenSeconds: p.timeTaken,
		OpponentLostByBomb:       p.hitBomb,
		OpponentWonByClear:       p.clearedBoard,
	})

	if d.allFinished() {
		d.s.cancel(d.timer)
		d.timer = nil
		d.s.conclude(d.result(""))
	}
}

func (d *raceDuel) allFinished() bool {
	for _, p := range d.players {
		if !p.finished {
			return false
		}
	}
	return true
}

func (d *raceDuel) timeout() {
	d.timer = nil
	for id, p := range d.players {
		if p.finished {
			continue
		}
		p.stillPlaying = true
		p.finished = true
		p.timeTaken = d.budgetSeconds()
		log.Printf("[RACE] %s: player %d still playing at time up", d.s.key, id)
	}
	d.s.conclude(d.result(""))
}

// result ranks the two racers: higher score, then lower time.
func (d *raceDuel) result(reason string) Result {
	s1, s2 := d.s.slots[0], d.s.slots[1]
	p1, p2 := d.players[s1.ID], d.players[s2.ID]
	for _, p := range []*racer{p1, p2} {
		if p.clearedBoard {
			p.score = d.maxScore()
		}
	}

	var winner *Slot
	var why string
	switch {
	case p1.score > p2.score:
		winner, why = s1, fmt.Sprintf("%s wins with a higher score!", s1.Name)
	case p2.score > p1.score:
		winner, why = s2, fmt.Sprintf("%s wins with a higher score!", s2.Name)
	case p1.timeTaken < p2.timeTaken:
		winner, why = s1, fmt.Sprintf("%s wins on faster time with equal scores!", s1.Name)
	case p2.timeTaken < p1.timeTaken:
		winner, why = s2, fmt.Sprintf("%s wins on faster time with equal scores!", s2.Name)
	default:
		why = "It's a perfect draw on score and time!"
	}
	if reason == "" {
		reason = why
	}

	scoreString := fmt.Sprintf("P1 (%s): %d pts, %.2fs - P2 (%s): %d pts, %.2fs",
		s1.Name, p1.score, p1.timeTaken, s2.Name, p2.score, p2.timeTaken)

	payload := raceMatchOver{
		MatchID:          d.s.key,
		Player1Results:   results(s1, p1),
		Player2Results:   results(s2, p2),
		Reason:           reason,
		FinalScoreString: scoreString,
	}
	if winner == nil {
		return Result{Draw: true, Score: scoreString, Payload: payload}
	}
	id := winner.ID
	payload.WinnerID = &id
	return Result{
		WinnerID: winner.ID,
		LoserID:  d.s.opponent(winner).ID,
		Score:    scoreString,
		Payload:  payload,
	}
}

func results(sl *Slot, p *racer) racePlayerResults {
	return racePlayerResults{
		ID:                     sl.ID,
		Name:                   sl.Name,
		Score:                  p.score,
		TimeTakenSeconds:       p.timeTaken,
		LostByBomb:             p.hitBomb,
		WonByClear:             p.clearedBoard,
		TimedOutOrStillPlaying: p.stillPlaying,
	}
}

func (d *raceDuel) forfeit(loser *Slot) Result {
	winner := d.s.opponent(loser)
	lp, wp := d.players[loser.ID], d.players[winner.ID]

	lp.score = -1
	lp.hitBomb = true
	lp.clearedBoard = false
	lp.stillPlaying = false
	lp.timeTaken = d.budgetSeconds()
	lp.finished = true

	wp.clearedBoard = true
	wp.hitBomb = false
	if !wp.finished {
		wp.timeTaken = nominalElapsedSeconds
		if d.s.started {
			wp.timeTaken = math.Min(d.s.clock.Now().Sub(d.s.startedAt).Seconds(), d.budgetSeconds())
		}
		wp.finished = true
	}
	return d.result(fmt.Sprintf("%s forfeited by disconnecting.", loser.Name))
}

func (d *raceDuel) draw(reason string) Result {
	res := d.result(reason)
	if !res.Draw {
		// an abandoned race never pays out on partial reports
		res.Draw = true
		res.WinnerID, res.LoserID = 0, 0
		if p, ok := res.Payload.(raceMatchOver); ok {
			p.WinnerID = nil
			res.Payload = p
		}
	}
	return res
}
