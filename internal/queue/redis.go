package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPollTimeout = time.Second

// Redis is a Queue backed by a Redis broker. Ready jobs live in a list,
// delayed jobs in a sorted set scored by due time, and in-flight jobs in an
// active list so a crashed consumer's work stays visible.
type Redis struct {
	client      redis.UniversalClient
	prefix      string
	dedupWindow time.Duration
}

// RedisConfig configures the Redis queue.
type RedisConfig struct {
	// Prefix namespaces all keys. Defaults to "loom".
	Prefix string

	// DedupWindow is how long dedup keys persist. Defaults to 24h.
	DedupWindow time.Duration
}

// NewRedis creates a Redis-backed queue.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "loom"
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return &Redis{client: client, prefix: cfg.Prefix, dedupWindow: cfg.DedupWindow}
}

func (r *Redis) readyKey(q string) string   { return fmt.Sprintf("%s:q:%s", r.prefix, q) }
func (r *Redis) delayedKey(q string) string { return fmt.Sprintf("%s:q:%s:delayed", r.prefix, q) }
func (r *Redis) activeKey(q string) string  { return fmt.Sprintf("%s:q:%s:active", r.prefix, q) }
func (r *Redis) dedupKey(k string) string   { return fmt.Sprintf("%s:dedup:%s", r.prefix, k) }

func (r *Redis) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.DedupKey != "" {
		ok, err := r.client.SetNX(ctx, r.dedupKey(job.DedupKey), job.ID, r.dedupWindow).Result()
		if err != nil {
			return false, fmt.Errorf("queue: dedup check: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	clone := *job
	if clone.Attempt == 0 {
		clone.Attempt = 1
	}
	body, err := json.Marshal(&clone)
	if err != nil {
		return false, err
	}

	if !clone.RunAt.IsZero() && clone.RunAt.After(time.Now()) {
		err = r.client.ZAdd(ctx, r.delayedKey(job.Queue), redis.Z{
			Score:  float64(clone.RunAt.UnixMilli()),
			Member: body,
		}).Err()
	} else {
		err = r.client.LPush(ctx, r.readyKey(job.Queue), body).Err()
	}
	if err != nil {
		return false, fmt.Errorf("queue: enqueue: %w", err)
	}
	return true, nil
}

// promote moves due delayed jobs onto the ready list.
func (r *Redis) promote(ctx context.Context, queueName string) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := r.client.ZRangeByScore(ctx, r.delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, member := range due {
		pipe.ZRem(ctx, r.delayedKey(queueName), member)
		pipe.LPush(ctx, r.readyKey(queueName), member)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	if err := r.promote(ctx, queueName); err != nil {
		return nil, fmt.Errorf("queue: promote delayed: %w", err)
	}

	body, err := r.client.BLMove(ctx, r.readyKey(queueName), r.activeKey(queueName), "RIGHT", "LEFT", redisPollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		r.client.LRem(ctx, r.activeKey(queueName), 1, body)
		return nil, fmt.Errorf("queue: malformed job dropped: %w", err)
	}
	return &job, nil
}

func (r *Redis) Ack(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.LRem(ctx, r.activeKey(job.Queue), 1, string(body)).Err()
}

func (r *Redis) Nack(ctx context.Context, job *Job, delay time.Duration) error {
	if err := r.Ack(ctx, job); err != nil {
		return err
	}
	clone := *job
	clone.Attempt++
	clone.RunAt = time.Now().Add(delay)
	clone.DedupKey = "" // a retry is never a duplicate of itself
	_, err := r.Enqueue(ctx, &clone)
	return err
}

func (r *Redis) Depth(ctx context.Context, queueName string) (int, error) {
	n, err := r.client.LLen(ctx, r.readyKey(queueName)).Result()
	return int(n), err
}
