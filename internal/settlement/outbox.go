package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	appredis "github.com/playmatatu/duels/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Resolver settles a concluded match.
type Resolver interface {
	Resolve(ctx context.Context, o Outcome) error
}

// Queue is the list primitive the outbox needs. *redis.Client satisfies it
// through RedisQueue.
type Queue interface {
	Push(ctx context.Context, key string, payload []byte) error
	Pop(ctx context.Context, key string) ([]byte, bool, error)
}

// RedisQueue adapts a go-redis client to Queue (LPUSH / RPOP, FIFO).
type RedisQueue struct {
	Client *redis.Client
}

func (q RedisQueue) Push(ctx context.Context, key string, payload []byte) error {
	return q.Client.LPush(ctx, key, payload).Err()
}

func (q RedisQueue) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := q.Client.RPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// enqueueTimeout bounds the outbox write, which runs detached from the
// caller's deadline: the settlement usually failed because that deadline
// passed.
const enqueueTimeout = 5 * time.Second

// Job is one pending settlement.
type Job struct {
	Outcome    Outcome   `json:"outcome"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Outbox retries settlements that failed after the result was already shown
// to the players.
type Outbox struct {
	queue       Queue
	resolver    Resolver
	maxAttempts int
	batch       int
}

func NewOutbox(queue Queue, resolver Resolver, maxAttempts int) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Outbox{queue: queue, resolver: resolver, maxAttempts: maxAttempts, batch: 50}
}

// Enqueue records a failed settlement. Permanent failures go straight to the
// dead-letter list.
func (o *Outbox) Enqueue(ctx context.Context, outcome Outcome, cause error) {
	job := Job{Outcome: outcome, Attempts: 1, EnqueuedAt: time.Now().UTC()}
	if cause != nil {
		job.LastError = cause.Error()
	}
	key := appredis.SettlementOutboxKey
	if isPermanent(cause) {
		key = appredis.SettlementDeadKey
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if err := o.push(ctx, key, job); err != nil {
		log.Printf("[OUTBOX] LOST settlement for match %d (lobby=%s): %v (cause: %v)", outcome.MatchID, outcome.LobbyUUID, err, cause)
		return
	}
	log.Printf("[OUTBOX] Queued settlement for match %d (lobby=%s) on %s: %v", outcome.MatchID, outcome.LobbyUUID, key, cause)
}

// Drain retries up to one batch of queued settlements and reports how many
// succeeded and how many were requeued or dead-lettered.
func (o *Outbox) Drain(ctx context.Context) (settled, failed int) {
	for i := 0; i < o.batch; i++ {
		raw, ok, err := o.queue.Pop(ctx, appredis.SettlementOutboxKey)
		if err != nil {
			log.Printf("[OUTBOX] pop failed: %v", err)
			return settled, failed
		}
		if !ok {
			return settled, failed
		}

		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			log.Printf("[OUTBOX] dropping unreadable job %q: %v", string(raw), err)
			continue
		}

		err = o.resolver.Resolve(ctx, job.Outcome)
		if err == nil {
			settled++
			log.Printf("[OUTBOX] Settled match %d (lobby=%s) after %d attempt(s)", job.Outcome.MatchID, job.Outcome.LobbyUUID, job.Attempts+1)
			continue
		}

		failed++
		job.Attempts++
		job.LastError = err.Error()
		key := appredis.SettlementOutboxKey
		if job.Attempts >= o.maxAttempts || isPermanent(err) {
			key = appredis.SettlementDeadKey
			log.Printf("[OUTBOX] Giving up on match %d (lobby=%s) after %d attempts: %v", job.Outcome.MatchID, job.Outcome.LobbyUUID, job.Attempts, err)
		}
		if perr := o.push(ctx, key, job); perr != nil {
			log.Printf("[OUTBOX] LOST settlement for match %d: %v", job.Outcome.MatchID, perr)
		}
		if key == appredis.SettlementOutboxKey {
			// leave the rest for the next tick
			return settled, failed
		}
	}
	return settled, failed
}

// Schedule registers the retry job on a gocron scheduler.
func (o *Outbox) Schedule(sched gocron.Scheduler, every time.Duration) error {
	_, err := sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if settled, failed := o.Drain(ctx); settled+failed > 0 {
				log.Printf("[OUTBOX] Retry pass: settled=%d failed=%d", settled, failed)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule settlement outbox: %w", err)
	}
	return nil
}

func (o *Outbox) push(ctx context.Context, key string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return o.queue.Push(ctx, key, b)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrPlayerMismatch) || errors.Is(err, ErrMatchNotFound)
}

// Client is what the game sessions talk to: starts go straight to the
// service, failed resolutions are handed to the outbox.
type Client struct {
	svc      *Service
	resolver Resolver
	outbox   *Outbox
}

func NewClient(svc *Service, outbox *Outbox) *Client {
	return &Client{svc: svc, resolver: svc, outbox: outbox}
}

func (c *Client) StartMatch(ctx context.Context, playerOneID, playerTwoID int, stake float64, gameKey, lobbyUUID string) (StartResult, error) {
	return c.svc.StartMatch(ctx, playerOneID, playerTwoID, stake, gameKey, lobbyUUID)
}

func (c *Client) Resolve(ctx context.Context, o Outcome) error {
	err := c.resolver.Resolve(ctx, o)
	if err != nil && c.outbox != nil {
		c.outbox.Enqueue(ctx, o, err)
	}
	return err
}
