package models

import (
	"database/sql"
	"time"
)

// Player represents a user in the system
type Player struct {
	ID           int       `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Name is the label shown to opponents.
func (p *Player) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Account is one side of the double-entry ledger. Player wallets have an owner,
// system accounts (escrow, platform) do not.
type Account struct {
	ID            int           `db:"id" json:"id"`
	AccountType   string        `db:"account_type" json:"account_type"`
	OwnerPlayerID sql.NullInt64 `db:"owner_player_id" json:"owner_player_id,omitempty"`
	Balance       float64       `db:"balance" json:"balance"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// AccountTransaction records a single debit/credit pair
type AccountTransaction struct {
	ID              int64         `db:"id" json:"id"`
	DebitAccountID  int           `db:"debit_account_id" json:"debit_account_id"`
	CreditAccountID int           `db:"credit_account_id" json:"credit_account_id"`
	Amount          float64       `db:"amount" json:"amount"`
	ReferenceType   string        `db:"reference_type" json:"reference_type"`
	ReferenceID     sql.NullInt64 `db:"reference_id" json:"reference_id,omitempty"`
	Description     string        `db:"description" json:"description"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Match is the durable record of a wagered duel
type Match struct {
	ID          int64          `db:"id" json:"id"`
	GameTypeID  int            `db:"game_type_id" json:"game_type_id"`
	PlayerOneID int            `db:"player_one_id" json:"player_one_id"`
	PlayerTwoID int            `db:"player_two_id" json:"player_two_id"`
	WinnerID    sql.NullInt64  `db:"winner_id" json:"winner_id,omitempty"`
	EntryFee    float64        `db:"entry_fee" json:"entry_fee"`
	MatchState  string         `db:"match_state" json:"match_state"`
	StartTime   time.Time      `db:"start_time" json:"start_time"`
	EndTime     sql.NullTime   `db:"end_time" json:"end_time,omitempty"`
	Score       sql.NullString `db:"score" json:"score,omitempty"`
	LobbyUUID   string         `db:"lobby_uuid" json:"lobby_uuid"`
}

// HasPlayers reports whether a and b are the two players of the match, in either order.
func (m *Match) HasPlayers(a, b int) bool {
	return (m.PlayerOneID == a && m.PlayerTwoID == b) || (m.PlayerOneID == b && m.PlayerTwoID == a)
}

// PlayerStatistics holds the win/loss tallies for a player
type PlayerStatistics struct {
	PlayerID      int       `db:"player_id" json:"player_id"`
	Wins          int       `db:"wins" json:"wins"`
	Losses        int       `db:"losses" json:"losses"`
	Draws         int       `db:"draws" json:"draws"`
	WinRate       float64   `db:"win_rate" json:"win_rate"`
	CurrentStreak int       `db:"current_streak" json:"current_streak"`
	LastUpdated   time.Time `db:"last_updated" json:"last_updated"`
}
