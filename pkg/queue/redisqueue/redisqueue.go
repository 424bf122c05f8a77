// Package redisqueue implements pkg/queue.Queue and pkg/queue.Dequeuer
// over Redis lists and hashes, following the same go-redis/redis/v8
// wrapper style used for this codebase's other Redis-backed stores: a
// struct holding *redis.Client, a NewXClient(addr) constructor, Connect
// pinging the server, TxPipeline for atomic multi-key writes.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	workListKey     = "netraven:queue:work"
	inFlightListKey = "netraven:queue:inflight"
	scheduleSetKey  = "netraven:queue:schedule"   // sorted set: member=token, score=runAt unix
	scheduleDataKey = "netraven:queue:schedule:d" // hash: token -> "jobID|signature"
	dedupeKeyPrefix = "netraven:queue:dedupe:"    // string: latest scheduled signature, one key per scheduled jobID
	tokenHashKey    = "netraven:queue:tokens"     // hash: token -> jobID, for Ack/BRPOPLPUSH bookkeeping
)

// Client wraps a *redis.Client with the Enqueue/ScheduleAt/Cancel/
// Publish/Subscribe contract pkg/queue.Queue defines, plus the worker-
// side Dequeue/Ack pair from pkg/queue.Dequeuer.
type Client struct {
	rdb *redis.Client
}

// New creates a Client against addr/db.
func New(addr string, db int) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Connect pings the server, surfacing a dead Redis connection at
// startup rather than on the first real enqueue.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisqueue: connecting: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Enqueue pushes jobID for immediate delivery.
func (c *Client) Enqueue(ctx context.Context, jobID int64) error {
	if err := c.rdb.LPush(ctx, workListKey, jobID).Err(); err != nil {
		return fmt.Errorf("redisqueue: enqueue job %d: %w", jobID, err)
	}
	return nil
}

// ScheduleAt arranges delivery of jobID at runAt, deduplicated by
// signature through a per-job dedupe key holding the last scheduled
// signature: a second call with the same signature before the first
// fires is a no-op, and a call with a new signature adds a new entry
// alongside any still-pending one, which stays until it is promoted or
// removed by Cancel.
func (c *Client) ScheduleAt(ctx context.Context, jobID int64, signature string, runAt time.Time) error {
	dedupeKey := dedupeKeyPrefix + strconv.FormatInt(jobID, 10)

	prior, err := c.rdb.Get(ctx, dedupeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisqueue: reading dedupe key for job %d: %w", jobID, err)
	}
	if prior == signature {
		return nil
	}

	token := uuid.NewString()
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, dedupeKey, signature, 0)
	pipe.HSet(ctx, scheduleDataKey, token, fmt.Sprintf("%d|%s", jobID, signature))
	pipe.ZAdd(ctx, scheduleSetKey, &redis.Z{Score: float64(runAt.Unix()), Member: token})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisqueue: scheduling job %d: %w", jobID, err)
	}
	return nil
}

// Cancel removes every pending scheduled entry for jobID.
func (c *Client) Cancel(ctx context.Context, jobID int64) error {
	dedupeKey := dedupeKeyPrefix + strconv.FormatInt(jobID, 10)

	entries, err := c.rdb.HGetAll(ctx, scheduleDataKey).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: loading scheduled entries: %w", err)
	}

	prefix := fmt.Sprintf("%d|", jobID)
	var stale []string
	for token, val := range entries {
		if len(val) >= len(prefix) && val[:len(prefix)] == prefix {
			stale = append(stale, token)
		}
	}
	if len(stale) == 0 {
		return c.rdb.Del(ctx, dedupeKey).Err()
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, dedupeKey)
	for _, token := range stale {
		pipe.ZRem(ctx, scheduleSetKey, token)
		pipe.HDel(ctx, scheduleDataKey, token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisqueue: cancelling job %d: %w", jobID, err)
	}
	return nil
}

// PromoteDue moves every scheduled entry whose runAt has passed onto
// the work list. Intended to be called on a short ticker by the process
// that owns the Redis connection (the scheduler binary), since Redis
// itself has no delayed-delivery primitive.
func (c *Client) PromoteDue(ctx context.Context, now time.Time) error {
	due, err := c.rdb.ZRangeByScore(ctx, scheduleSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: listing due entries: %w", err)
	}
	for _, token := range due {
		val, err := c.rdb.HGet(ctx, scheduleDataKey, token).Result()
		if errors.Is(err, redis.Nil) {
			c.rdb.ZRem(ctx, scheduleSetKey, token)
			continue
		}
		if err != nil {
			return fmt.Errorf("redisqueue: reading due entry %s: %w", token, err)
		}
		var jobID int64
		var signature string
		if _, err := fmt.Sscanf(val, "%d|%s", &jobID, &signature); err != nil {
			continue
		}

		pipe := c.rdb.TxPipeline()
		pipe.LPush(ctx, workListKey, jobID)
		pipe.ZRem(ctx, scheduleSetKey, token)
		pipe.HDel(ctx, scheduleDataKey, token)
		pipe.Del(ctx, dedupeKeyPrefix+strconv.FormatInt(jobID, 10))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redisqueue: promoting job %d: %w", jobID, err)
		}
	}
	return nil
}

// Dequeue blocks (up to a long poll timeout) for a job ID, atomically
// moving it onto the in-flight list via BRPOPLPUSH so a worker that
// crashes before Ack leaves the entry recoverable by RecoverInFlight.
func (c *Client) Dequeue(ctx context.Context) (int64, string, error) {
	val, err := c.rdb.BRPopLPush(ctx, workListKey, inFlightListKey, 5*time.Second).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", context.DeadlineExceeded
	}
	if err != nil {
		return 0, "", fmt.Errorf("redisqueue: dequeue: %w", err)
	}
	jobID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("redisqueue: malformed work list entry %q: %w", val, err)
	}

	token := uuid.NewString()
	if err := c.rdb.HSet(ctx, tokenHashKey, token, val).Err(); err != nil {
		return 0, "", fmt.Errorf("redisqueue: recording delivery token: %w", err)
	}
	return jobID, token, nil
}

// Ack removes the in-flight entry token corresponds to.
func (c *Client) Ack(ctx context.Context, token string) error {
	val, err := c.rdb.HGet(ctx, tokenHashKey, token).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redisqueue: ack: resolving token %s: %w", token, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, inFlightListKey, 1, val)
	pipe.HDel(ctx, tokenHashKey, token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisqueue: ack: %w", err)
	}
	return nil
}

// RecoverInFlight moves every still-present in-flight entry back onto
// the work list, for a worker pool restarting after a crash.
func (c *Client) RecoverInFlight(ctx context.Context) (int, error) {
	moved := 0
	for {
		val, err := c.rdb.RPopLPush(ctx, inFlightListKey, workListKey).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redisqueue: recovering in-flight entries: %w", err)
		}
		moved++
		_ = val
	}
}

// Publish broadcasts payload to subject via Redis pub/sub.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := c.rdb.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to subject. The
// channel closes once ctx is done.
func (c *Client) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	sub := c.rdb.Subscribe(ctx, subject)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisqueue: subscribing to %s: %w", subject, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
