package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes and channels shared by the lobby, settlement and ws packages.
const (
	HandoffKeyPrefix     = "match:handoff:"
	SettlementOutboxKey  = "settlement:outbox"
	SettlementDeadKey    = "settlement:dead"
	NotificationsChannel = "player_notifications"
	LobbyEventsChannel   = "lobby_events"
)

// Connect establishes a connection to Redis
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
