package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Security
	JWTSecret     string
	TokenTTLHours int

	// Session settings
	DisconnectGraceSeconds int
	ShowUpTimeoutSeconds   int

	// Rock-paper-scissors
	RPSRoundSeconds     int
	RPSRoundWins        int
	RPSNextRoundDelayMs int

	// Minesweeper race
	RaceRows        int
	RaceCols        int
	RaceBombs       int
	RaceTimeSeconds int

	// Money
	WinnerPayoutPercent int

	// Lobby
	LobbyMaxAgeMinutes int
	LobbySweepSeconds  int
	HandoffTTLMinutes  int

	// Settlement outbox
	SettlementRetrySeconds int
	SettlementMaxAttempts  int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/duels?sslmode=disable"),
		MigrateOnStart: getEnv("MIGRATE_ON_START", "false") == "true",

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Security
		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTLHours: getEnvInt("TOKEN_TTL_HOURS", 24),

		// Session settings
		DisconnectGraceSeconds: getEnvInt("DISCONNECT_GRACE_SECONDS", 30),
		ShowUpTimeoutSeconds:   getEnvInt("SHOW_UP_TIMEOUT_SECONDS", 60),

		// Rock-paper-scissors
		RPSRoundSeconds:     getEnvInt("RPS_ROUND_SECONDS", 15),
		RPSRoundWins:        getEnvInt("RPS_ROUND_WINS", 3),
		RPSNextRoundDelayMs: getEnvInt("RPS_NEXT_ROUND_DELAY_MS", 3000),

		// Minesweeper race
		RaceRows:        getEnvInt("RACE_ROWS", 14),
		RaceCols:        getEnvInt("RACE_COLS", 18),
		RaceBombs:       getEnvInt("RACE_BOMBS", 40),
		RaceTimeSeconds: getEnvInt("RACE_TIME_SECONDS", 120),

		// Money
		WinnerPayoutPercent: getEnvInt("WINNER_PAYOUT_PERCENT", 75),

		// Lobby
		LobbyMaxAgeMinutes: getEnvInt("LOBBY_MAX_AGE_MINUTES", 10),
		LobbySweepSeconds:  getEnvInt("LOBBY_SWEEP_SECONDS", 30),
		HandoffTTLMinutes:  getEnvInt("HANDOFF_TTL_MINUTES", 60),

		// Settlement outbox
		SettlementRetrySeconds: getEnvInt("SETTLEMENT_RETRY_SECONDS", 30),
		SettlementMaxAttempts:  getEnvInt("SETTLEMENT_MAX_ATTEMPTS", 10),
	}
}

// Seconds converts a seconds setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a milliseconds setting into a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
