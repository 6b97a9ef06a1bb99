package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/playmatatu/duels/internal/accounts"
	"github.com/playmatatu/duels/internal/database"
	"github.com/playmatatu/duels/internal/models"
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrPlayerMismatch = errors.New("players do not match the match record")
	ErrUnknownGame    = errors.New("unknown game key")
)

// StartResult is returned by StartMatch.
type StartResult struct {
	MatchID        int64
	AlreadyExisted bool
	State          string
}

// Outcome describes how a match ended. Draw outcomes ignore WinnerID/LoserID
// for payout but still carry them as a lookup hint.
type Outcome struct {
	MatchID   int64   `json:"matchId"`
	LobbyUUID string  `json:"lobbyUuid"`
	Stake     float64 `json:"stake"`
	WinnerID  int     `json:"winnerId,omitempty"`
	LoserID   int     `json:"loserId,omitempty"`
	Draw      bool    `json:"draw"`
	Score     string  `json:"score,omitempty"`
}

// Service records match starts and settles stakes against the wallet ledger.
type Service struct {
	db            *sqlx.DB
	payoutPercent int
}

func NewService(db *sqlx.DB, payoutPercent int) *Service {
	if payoutPercent <= 0 || payoutPercent > 100 {
		payoutPercent = 75
	}
	return &Service{db: db, payoutPercent: payoutPercent}
}

const matchColumns = `id, game_type_id, player_one_id, player_two_id, winner_id, entry_fee, match_state, start_time, end_time, score, lobby_uuid`

// StartMatch debits the stake from both players into escrow and creates the
// durable match record. It is idempotent on lobbyUUID: a second call, even a
// concurrent one, returns the existing record without touching any wallet.
func (s *Service) StartMatch(ctx context.Context, playerOneID, playerTwoID int, stake float64, gameKey, lobbyUUID string) (StartResult, error) {
	gt, ok := models.GameTypeByKey(gameKey)
	if !ok {
		return StartResult{}, fmt.Errorf("%w: %q", ErrUnknownGame, gameKey)
	}
	if stake <= 0 {
		return StartResult{}, fmt.Errorf("stake must be positive, got %.2f", stake)
	}
	if lobbyUUID == "" {
		return StartResult{}, fmt.Errorf("lobby uuid is required")
	}

	if existing, err := s.findByLobby(ctx, s.db, lobbyUUID, false); err == nil {
		log.Printf("[SETTLE] Match for lobby %s already exists (id=%d state=%s); stake not deducted again", lobbyUUID, existing.ID, existing.MatchState)
		return StartResult{MatchID: existing.ID, AlreadyExisted: true, State: existing.MatchState}, nil
	} else if !errors.Is(err, ErrMatchNotFound) {
		return StartResult{}, err
	}

	state := models.InProgressState(gameKey)
	var matchID int64
	conflict := false
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		// The insert comes first so a concurrent duplicate blocks on the unique
		// index instead of on the wallet rows.
		err := tx.GetContext(ctx, &matchID, `
			INSERT INTO matches (game_type_id, player_one_id, player_two_id, entry_fee, match_state, start_time, lobby_uuid)
			VALUES ($1, $2, $3, $4, $5, NOW(), $6)
			ON CONFLICT (lobby_uuid) DO NOTHING
			RETURNING id`, gt.ID, playerOneID, playerTwoID, stake, state, lobbyUUID)
		if errors.Is(err, sql.ErrNoRows) {
			conflict = true
			return nil
		}
		if err != nil {
			return err
		}

		escrow, err := accounts.System(ctx, tx, accounts.AccountEscrow)
		if err != nil {
			return fmt.Errorf("escrow account: %w", err)
		}
		ref := sql.NullInt64{Int64: matchID, Valid: true}
		for _, pid := range []int{playerOneID, playerTwoID} {
			wallet, err := accounts.Wallet(ctx, tx, pid)
			if err != nil {
				return fmt.Errorf("wallet for player %d: %w", pid, err)
			}
			desc := fmt.Sprintf("stake for match %d (%s)", matchID, lobbyUUID)
			if err := accounts.Transfer(ctx, tx, wallet.ID, escrow.ID, stake, accounts.RefMatchStake, ref, desc); err != nil {
				return fmt.Errorf("debit stake from player %d: %w", pid, err)
			}
		}
		return nil
	})
	if err != nil && !isUniqueViolation(err) {
		return StartResult{}, err
	}

	if conflict || err != nil {
		log.Printf("[SETTLE] Duplicate start for lobby %s; re-querying the concurrently created match", lobbyUUID)
		existing, ferr := s.findByLobby(ctx, s.db, lobbyUUID, false)
		if ferr != nil {
			return StartResult{}, fmt.Errorf("duplicate match creation for %s but no record found: %w", lobbyUUID, ferr)
		}
		return StartResult{MatchID: existing.ID, AlreadyExisted: true, State: existing.MatchState}, nil
	}

	log.Printf("[SETTLE] Match %d started (lobby=%s game=%s p1=%d p2=%d stake=%.2f)", matchID, lobbyUUID, gameKey, playerOneID, playerTwoID, stake)
	return StartResult{MatchID: matchID, State: state}, nil
}

// Resolve dispatches to ResolveMatch or ResolveDraw.
func (s *Service) Resolve(ctx context.Context, o Outcome) error {
	if o.Draw {
		return s.ResolveDraw(ctx, o.MatchID, o.Stake, o.Score, o.LobbyUUID)
	}
	return s.ResolveMatch(ctx, o.WinnerID, o.LoserID, o.Stake, o.MatchID, o.Score, o.LobbyUUID)
}

// ResolveMatch pays the winner from escrow, books the platform share and
// closes the match record. Matches that are no longer in progress are left
// untouched, which makes the call safe to retry.
func (s *Service) ResolveMatch(ctx context.Context, winnerID, loserID int, stake float64, matchID int64, score, lobbyUUID string) error {
	var settled *models.Match
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		m, err := s.lockMatch(ctx, tx, matchID, lobbyUUID, winnerID, loserID)
		if err != nil {
			return err
		}
		if !m.HasPlayers(winnerID, loserID) {
			log.Printf("[SETTLE] Player mismatch: match %d players (%d, %d) vs winner/loser (%d, %d)", m.ID, m.PlayerOneID, m.PlayerTwoID, winnerID, loserID)
			return ErrPlayerMismatch
		}
		if !models.IsInProgress(m.MatchState) {
			log.Printf("[SETTLE] Match %d already settled (state=%s); skipping payout", m.ID, m.MatchState)
			return nil
		}
		if stake != m.EntryFee {
			log.Printf("[SETTLE] Match %d: stake %.2f differs from recorded entry fee %.2f; using entry fee", m.ID, stake, m.EntryFee)
		}

		payout, commission := splitPot(m.EntryFee, s.payoutPercent)
		escrow, err := accounts.System(ctx, tx, accounts.AccountEscrow)
		if err != nil {
			return err
		}
		wallet, err := accounts.Wallet(ctx, tx, winnerID)
		if err != nil {
			return err
		}
		ref := sql.NullInt64{Int64: m.ID, Valid: true}
		if err := accounts.Transfer(ctx, tx, escrow.ID, wallet.ID, payout, accounts.RefMatchPayout, ref, fmt.Sprintf("winnings for match %d", m.ID)); err != nil {
			return err
		}
		if commission > 0 {
			platform, err := accounts.System(ctx, tx, accounts.AccountPlatform)
			if err != nil {
				return err
			}
			if err := accounts.Transfer(ctx, tx, escrow.ID, platform.ID, commission, accounts.RefMatchCommission, ref, fmt.Sprintf("commission for match %d", m.ID)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE matches SET winner_id=$1, end_time=NOW(), match_state=$2, score=COALESCE(NULLIF($3, ''), score) WHERE id=$4`,
			winnerID, models.MatchStateCompleted, score, m.ID); err != nil {
			return err
		}
		log.Printf("[SETTLE] Match %d resolved: winner=%d payout=%.2f commission=%.2f score=%q", m.ID, winnerID, payout, commission, score)
		settled = m
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		s.recordStats(ctx, settled.ID, winnerID, resultWin)
		s.recordStats(ctx, settled.ID, loserID, resultLoss)
	}
	return nil
}

// ResolveDraw refunds both stakes from escrow and closes the match record.
func (s *Service) ResolveDraw(ctx context.Context, matchID int64, stake float64, score, lobbyUUID string) error {
	var settled *models.Match
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		m, err := s.lockMatch(ctx, tx, matchID, lobbyUUID, 0, 0)
		if err != nil {
			return err
		}
		if !models.IsInProgress(m.MatchState) {
			log.Printf("[SETTLE] Match %d already settled (state=%s); skipping refund", m.ID, m.MatchState)
			return nil
		}

		escrow, err := accounts.System(ctx, tx, accounts.AccountEscrow)
		if err != nil {
			return err
		}
		ref := sql.NullInt64{Int64: m.ID, Valid: true}
		for _, pid := range []int{m.PlayerOneID, m.PlayerTwoID} {
			wallet, err := accounts.Wallet(ctx, tx, pid)
			if err != nil {
				return err
			}
			if err := accounts.Transfer(ctx, tx, escrow.ID, wallet.ID, m.EntryFee, accounts.RefDrawRefund, ref, fmt.Sprintf("draw refund for match %d", m.ID)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE matches SET end_time=NOW(), match_state=$1, score=COALESCE(NULLIF($2, ''), score) WHERE id=$3`,
			models.MatchStateDraw, score, m.ID); err != nil {
			return err
		}
		log.Printf("[SETTLE] Match %d (lobby=%s) drawn; refunded %.2f to players %d and %d", m.ID, m.LobbyUUID, m.EntryFee, m.PlayerOneID, m.PlayerTwoID)
		settled = m
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		s.recordStats(ctx, settled.ID, settled.PlayerOneID, resultDraw)
		s.recordStats(ctx, settled.ID, settled.PlayerTwoID, resultDraw)
	}
	return nil
}

// lockMatch finds the match to settle by durable id, then lobby uuid, then the
// latest in-progress match between the two players, and locks the row.
func (s *Service) lockMatch(ctx context.Context, tx *sqlx.Tx, matchID int64, lobbyUUID string, a, b int) (*models.Match, error) {
	var m models.Match
	if matchID > 0 {
		err := tx.GetContext(ctx, &m, `SELECT `+matchColumns+` FROM matches WHERE id=$1 FOR UPDATE`, matchID)
		if err == nil {
			return &m, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if lobbyUUID != "" {
		log.Printf("[SETTLE] Falling back to lobby lookup for %s", lobbyUUID)
		if found, err := s.findByLobby(ctx, tx, lobbyUUID, true); err == nil {
			return found, nil
		} else if !errors.Is(err, ErrMatchNotFound) {
			return nil, err
		}
	}
	if a > 0 && b > 0 {
		log.Printf("[SETTLE] Falling back to latest in-progress match between %d and %d", a, b)
		err := tx.GetContext(ctx, &m, `SELECT `+matchColumns+` FROM matches
			WHERE ((player_one_id=$1 AND player_two_id=$2) OR (player_one_id=$2 AND player_two_id=$1))
			  AND match_state LIKE $3
			ORDER BY start_time DESC LIMIT 1 FOR UPDATE`, a, b, models.MatchStateInProgressPrefix+"%")
		if err == nil {
			return &m, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (id=%d lobby=%s)", ErrMatchNotFound, matchID, lobbyUUID)
}

func (s *Service) findByLobby(ctx context.Context, q sqlx.QueryerContext, lobbyUUID string, forUpdate bool) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE lobby_uuid=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var m models.Match
	err := sqlx.GetContext(ctx, q, &m, query, lobbyUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// splitPot returns the winner's payout and the platform commission for a
// match where both players staked stake.
func splitPot(stake float64, payoutPercent int) (payout, commission float64) {
	pot := accounts.RoundMoney(stake * 2)
	payout = accounts.RoundMoney(pot * float64(payoutPercent) / 100)
	commission = accounts.RoundMoney(pot - payout)
	return payout, commission
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type matchResult int

const (
	resultWin matchResult = iota
	resultLoss
	resultDraw
)

// recordStats updates a player's statistics. Failures are logged and do not
// undo the settlement.
func (s *Service) recordStats(ctx context.Context, matchID int64, playerID int, result matchResult) {
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO player_statistics (player_id) VALUES ($1) ON CONFLICT DO NOTHING`, playerID); err != nil {
			return err
		}
		var st models.PlayerStatistics
		if err := tx.GetContext(ctx, &st, `SELECT player_id, wins, losses, draws, win_rate, current_streak, last_updated FROM player_statistics WHERE player_id=$1 FOR UPDATE`, playerID); err != nil {
			return err
		}
		st = applyResult(st, result)
		_, err := tx.ExecContext(ctx, `UPDATE player_statistics SET wins=$1, losses=$2, draws=$3, win_rate=$4, current_streak=$5, last_updated=NOW() WHERE player_id=$6`,
			st.Wins, st.Losses, st.Draws, st.WinRate, st.CurrentStreak, playerID)
		return err
	})
	if err != nil {
		log.Printf("[SETTLE] Failed to update statistics for player %d (match %d): %v", playerID, matchID, err)
	}
}

func applyResult(st models.PlayerStatistics, result matchResult) models.PlayerStatistics {
	switch result {
	case resultWin:
		st.Wins++
		if st.CurrentStreak >= 0 {
			st.CurrentStreak++
		} else {
			st.CurrentStreak = 1
		}
	case resultLoss:
		st.Losses++
		st.CurrentStreak = 0
	case resultDraw:
		st.Draws++
		st.CurrentStreak = 0
	}
	st.WinRate = winRate(st.Wins, st.Losses, st.Draws)
	return st
}

func winRate(wins, losses, draws int) float64 {
	total := wins + losses + draws
	if total == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(total)*100*100) / 100
}
