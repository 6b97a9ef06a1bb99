package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/playmatatu/duels/internal/api"
	"github.com/playmatatu/duels/internal/api/handlers"
	"github.com/playmatatu/duels/internal/config"
	"github.com/playmatatu/duels/internal/database"
	"github.com/playmatatu/duels/internal/game"
	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/migrations"
	"github.com/playmatatu/duels/internal/players"
	"github.com/playmatatu/duels/internal/redis"
	"github.com/playmatatu/duels/internal/settlement"
	"github.com/playmatatu/duels/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		log.Println("[MIGRATE] Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL, migrations.DefaultDir); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Money
	store := players.NewStore(db)
	svc := settlement.NewService(db, cfg.WinnerPayoutPercent)
	outbox := settlement.NewOutbox(settlement.RedisQueue{Client: rdb}, svc, cfg.SettlementMaxAttempts)
	settler := settlement.NewClient(svc, outbox)

	// Lobby and sessions
	hub := ws.NewHub()
	handoffs := lobby.NewHandoffStore(lobby.RedisCache{Client: rdb}, time.Duration(cfg.HandoffTTLMinutes)*time.Minute)
	matcher := lobby.NewMatcher(store, hub, handoffs)
	matcher.SetPublisher(rdb)
	sessions := game.NewManager(handoffs, settler, game.SettingsFromConfig(cfg))
	gateway := ws.NewGateway(hub, sessions, func(token string) (int, error) {
		return handlers.ParseToken(cfg.JWTSecret, token)
	})

	// Background jobs
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := matcher.ScheduleSweep(sched, config.Seconds(cfg.LobbySweepSeconds), time.Duration(cfg.LobbyMaxAgeMinutes)*time.Minute); err != nil {
		log.Fatalf("Failed to schedule lobby sweep: %v", err)
	}
	if err := outbox.Schedule(sched, config.Seconds(cfg.SettlementRetrySeconds)); err != nil {
		log.Fatalf("Failed to schedule settlement outbox: %v", err)
	}
	sched.Start()

	ws.StartNotificationRelay(ctx, rdb, hub)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Deps{
		Config:   cfg,
		Players:  store,
		Matcher:  matcher,
		Sessions: sessions,
		Gateway:  gateway,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting duels server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sched.Shutdown(); err != nil {
			log.Printf("[SCHED] shutdown: %v", err)
		}
		if n := sessions.Count(); n > 0 {
			log.Printf("[GAME] %d sessions still live at shutdown", n)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}
