package models

import "strings"

// GameType is a playable duel variant.
type GameType struct {
	ID   int    `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

const (
	GameKeyRockPaperScissors = "rock-paper-scissors"
	GameKeyMinesweeper       = "minesweeper"
)

// GameTypes lists the variants this server hosts. Id 2 (battleships) is
// reserved in the database but not served.
var GameTypes = []GameType{
	{ID: 1, Key: GameKeyRockPaperScissors, Name: "Rock Paper Scissors"},
	{ID: 3, Key: GameKeyMinesweeper, Name: "Minesweeper"},
}

// GameTypeByID looks up a served game type by its numeric id.
func GameTypeByID(id int) (GameType, bool) {
	for _, gt := range GameTypes {
		if gt.ID == id {
			return gt, true
		}
	}
	return GameType{}, false
}

// GameTypeByKey looks up a served game type by its key.
func GameTypeByKey(key string) (GameType, bool) {
	for _, gt := range GameTypes {
		if gt.Key == key {
			return gt, true
		}
	}
	return GameType{}, false
}

// Match states
const (
	MatchStateInProgressPrefix = "IN_PROGRESS"
	MatchStateCompleted        = "COMPLETED"
	MatchStateDraw             = "DRAW"
)

// InProgressState returns the state stored for a freshly started match, e.g.
// IN_PROGRESS_ROCK_PAPER_SCISSORS.
func InProgressState(gameKey string) string {
	return MatchStateInProgressPrefix + "_" + strings.ReplaceAll(strings.ToUpper(gameKey), "-", "_")
}

// IsInProgress reports whether a stored match state is still awaiting settlement.
func IsInProgress(state string) bool {
	return strings.HasPrefix(state, MatchStateInProgressPrefix)
}
