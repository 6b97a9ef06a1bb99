package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	appredis "github.com/playmatatu/duels/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Notification is a push published by other services for a single player.
type Notification struct {
	PlayerID int             `json:"playerId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

var errBadNotification = errors.New("invalid notification")

// StartNotificationRelay subscribes to the player notification channel and
// forwards every message to the player's matchmaking connection.
func StartNotificationRelay(ctx context.Context, rdb *redis.Client, hub *Hub) {
	if rdb == nil {
		log.Println("[WS] Redis client not set; notification relay not started")
		return
	}

	pubsub := rdb.Subscribe(ctx, appredis.NotificationsChannel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", appredis.NotificationsChannel)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[WS] %s subscriber stopping", appredis.NotificationsChannel)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := relay(hub, msg.Payload); err != nil {
					log.Printf("[WS] dropped notification: %v", err)
				}
			}
		}
	}()
}

func relay(hub *Hub, payload string) error {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("%w: %v", errBadNotification, err)
	}
	if n.PlayerID <= 0 || n.Event == "" {
		return fmt.Errorf("%w: missing playerId or event", errBadNotification)
	}
	var data interface{}
	if len(n.Data) > 0 {
		data = n.Data
	}
	hub.SendToUser(n.PlayerID, n.Event, data)
	return nil
}
