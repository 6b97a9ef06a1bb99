package players

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/playmatatu/duels/internal/accounts"
	"github.com/playmatatu/duels/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("player not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const playerColumns = `id, username, display_name, password_hash, is_active, created_at`

// Store resolves identities and wallet balances for the matchmaking and
// session layers.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// FindByID loads a player by id.
func (s *Store) FindByID(ctx context.Context, id int) (*models.Player, error) {
	var p models.Player
	err := s.db.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find player %d: %w", id, err)
	}
	return &p, nil
}

// FindByUsername loads a player by username (case-insensitive).
func (s *Store) FindByUsername(ctx context.Context, username string) (*models.Player, error) {
	var p models.Player
	err := s.db.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE LOWER(username)=LOWER($1)`, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find player %q: %w", username, err)
	}
	return &p, nil
}

// Balance returns the player's wallet balance.
func (s *Store) Balance(ctx context.Context, playerID int) (float64, error) {
	return accounts.Balance(ctx, s.db, playerID)
}

// Authenticate checks a username/password pair against the stored bcrypt hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.Player, error) {
	p, err := s.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive || !CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

// Upsert creates or updates a player with a fresh password hash and makes sure
// the wallet and statistics rows exist.
func (s *Store) Upsert(ctx context.Context, username, displayName, password string) (*models.Player, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	var id int
	err = s.db.GetContext(ctx, &id, `
		INSERT INTO players (username, display_name, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, true, NOW())
		ON CONFLICT (username) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			password_hash = EXCLUDED.password_hash
		RETURNING id`, username, displayName, hash)
	if err != nil {
		return nil, fmt.Errorf("upsert player %q: %w", username, err)
	}

	if _, err := accounts.Wallet(ctx, s.db, id); err != nil {
		return nil, fmt.Errorf("wallet for player %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO player_statistics (player_id) VALUES ($1) ON CONFLICT DO NOTHING`, id); err != nil {
		return nil, fmt.Errorf("stats for player %d: %w", id, err)
	}
	return s.FindByID(ctx, id)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
