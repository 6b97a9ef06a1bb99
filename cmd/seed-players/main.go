package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/playmatatu/duels/internal/accounts"
	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/database"
	"github.com/playmatatu/duels/internal/players"
)

var demoPlayers = []struct {
	username    string
	displayName string
}{
	{"alice", "Alice"},
	{"bob", "Bob"},
	{"carol", "Carol"},
	{"dave", "Dave"},
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "password123"
		log.Printf("WARNING: Using default seed password. Set SEED_PASSWORD env var outside local development!")
	}

	deposit := 100.0
	if v := os.Getenv("SEED_DEPOSIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			deposit = f
		}
	}

	ctx := context.Background()
	store := players.NewStore(db)
	for _, dp := range demoPlayers {
		p, err := store.Upsert(ctx, dp.username, dp.displayName, password)
		if err != nil {
			log.Fatalf("Failed to seed player %s: %v", dp.username, err)
		}
		if deposit > 0 {
			if err := accounts.Deposit(ctx, db, p.ID, deposit, "seed deposit"); err != nil {
				log.Fatalf("Failed to fund player %s: %v", dp.username, err)
			}
		}
		balance, _ := store.Balance(ctx, p.ID)
		log.Printf("✓ %s (id=%d) balance=%.2f", dp.username, p.ID, balance)
	}

	log.Printf("Seeded %d players. Log in at POST /api/v1/auth/login with password %q", len(demoPlayers), password)
}
