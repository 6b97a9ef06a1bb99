package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/playmatatu/duels/internal/models"
)

// account types constants
const (
	AccountPlayerWallet = "player_wallet"
	AccountEscrow       = "escrow"
	AccountPlatform     = "platform"
	AccountDeposits     = "deposits"
)

// transfer reference types
const (
	RefMatchStake      = "MATCH_STAKE"
	RefMatchPayout     = "MATCH_PAYOUT"
	RefMatchCommission = "MATCH_COMMISSION"
	RefDrawRefund      = "DRAW_REFUND"
	RefDeposit         = "DEPOSIT"
)

// ErrInsufficientFunds is returned when a player wallet cannot cover a debit.
var ErrInsufficientFunds = errors.New("insufficient funds")

const accountColumns = `id, account_type, owner_player_id, balance, created_at, updated_at`

// GetOrCreateAccount returns an account for the given owner and type, creating it if missing.
// A nil owner addresses a system account.
func GetOrCreateAccount(ctx context.Context, q sqlx.ExtContext, accountType string, ownerPlayerID *int) (*models.Account, error) {
	if q == nil {
		return nil, fmt.Errorf("db is nil")
	}

	var a models.Account
	if ownerPlayerID == nil {
		query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_type=$1 AND owner_player_id IS NULL`
		if err := sqlx.GetContext(ctx, q, &a, query, accountType); err == nil {
			return &a, nil
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO accounts (account_type, balance, created_at, updated_at) VALUES ($1, 0, NOW(), NOW()) ON CONFLICT DO NOTHING`, accountType); err != nil {
			return nil, err
		}
		if err := sqlx.GetContext(ctx, q, &a, query, accountType); err != nil {
			return nil, err
		}
		return &a, nil
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_type=$1 AND owner_player_id=$2`
	if err := sqlx.GetContext(ctx, q, &a, query, accountType, *ownerPlayerID); err == nil {
		return &a, nil
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO accounts (account_type, owner_player_id, balance, created_at, updated_at) VALUES ($1, $2, 0, NOW(), NOW()) ON CONFLICT DO NOTHING`, accountType, *ownerPlayerID); err != nil {
		return nil, err
	}
	if err := sqlx.GetContext(ctx, q, &a, query, accountType, *ownerPlayerID); err != nil {
		return nil, err
	}
	return &a, nil
}

// Wallet returns the player's wallet account.
func Wallet(ctx context.Context, q sqlx.ExtContext, playerID int) (*models.Account, error) {
	return GetOrCreateAccount(ctx, q, AccountPlayerWallet, &playerID)
}

// System returns a system account (escrow, platform, deposits).
func System(ctx context.Context, q sqlx.ExtContext, accountType string) (*models.Account, error) {
	return GetOrCreateAccount(ctx, q, accountType, nil)
}

// Balance returns the current wallet balance for a player. Players without a
// wallet row have a zero balance.
func Balance(ctx context.Context, q sqlx.QueryerContext, playerID int) (float64, error) {
	var balance float64
	err := sqlx.GetContext(ctx, q, &balance, `SELECT balance FROM accounts WHERE account_type=$1 AND owner_player_id=$2`, AccountPlayerWallet, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Transfer performs a single debit/credit between accounts within an existing tx.
// It selects both accounts FOR UPDATE, checks balances, updates balances and inserts an account_transactions row.
func Transfer(ctx context.Context, tx *sqlx.Tx, debitAccountID, creditAccountID int, amount float64, referenceType string, referenceID sql.NullInt64, description string) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %.2f", amount)
	}
	amount = RoundMoney(amount)

	// Lock both accounts in id order
	var accs []models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`
	if err := tx.SelectContext(ctx, &accs, query, debitAccountID, creditAccountID); err != nil {
		return err
	}

	var debitAcc, creditAcc *models.Account
	for i := range accs {
		if accs[i].ID == debitAccountID {
			debitAcc = &accs[i]
		}
		if accs[i].ID == creditAccountID {
			creditAcc = &accs[i]
		}
	}
	if debitAcc == nil || creditAcc == nil {
		return fmt.Errorf("account not found for transfer")
	}

	// Player wallets never go negative
	if debitAcc.AccountType == AccountPlayerWallet && debitAcc.Balance < amount {
		return fmt.Errorf("%w in account %d", ErrInsufficientFunds, debitAccountID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance=balance-$1, updated_at=NOW() WHERE id=$2`, amount, debitAcc.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance=balance+$1, updated_at=NOW() WHERE id=$2`, amount, creditAcc.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO account_transactions (debit_account_id, credit_account_id, amount, reference_type, reference_id, description, created_at) VALUES ($1,$2,$3,$4,$5,$6,NOW())`, debitAccountID, creditAccountID, amount, referenceType, referenceID, description); err != nil {
		return err
	}

	log.Printf("[ACCT] Transfer completed: debit_acc=%d credit_acc=%d amount=%.2f ref_type=%s ref_id=%v desc=%s", debitAccountID, creditAccountID, amount, referenceType, referenceID.Int64, description)

	return nil
}

// Deposit credits a player's wallet from the deposits system account.
func Deposit(ctx context.Context, db *sqlx.DB, playerID int, amount float64, description string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	wallet, err := Wallet(ctx, tx, playerID)
	if err != nil {
		return fmt.Errorf("wallet for player %d: %w", playerID, err)
	}
	source, err := System(ctx, tx, AccountDeposits)
	if err != nil {
		return fmt.Errorf("deposits account: %w", err)
	}
	if err := Transfer(ctx, tx, source.ID, wallet.ID, amount, RefDeposit, sql.NullInt64{}, description); err != nil {
		return err
	}
	return tx.Commit()
}

// RoundMoney rounds to cents.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
