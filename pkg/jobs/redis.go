package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "voicebridge:jobs"

// blockTimeout bounds each BRPOP so Dequeue observes context cancellation.
const blockTimeout = 2 * time.Second

// RedisQueue is the production Queue: LPUSH on enqueue, BRPOP on dequeue,
// JSON payloads. At-least-once; a worker crash after BRPOP loses the
// in-flight job, which the retry cap and the analysis fallback tolerate.
type RedisQueue struct {
	client *redis.Client
	key    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisQueue connects a client and verifies it with a ping.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("jobs: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("jobs: redis ping: %w", err)
	}
	return NewRedisQueueFromClient(client, cfg.Key), nil
}

// NewRedisQueueFromClient wraps an existing client, which is how tests hand
// in a miniredis-backed one.
func NewRedisQueueFromClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job AnalysisJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("jobs: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (AnalysisJob, error) {
	for {
		res, err := q.client.BRPop(ctx, blockTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return AnalysisJob{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return AnalysisJob{}, ctx.Err()
			}
			return AnalysisJob{}, fmt.Errorf("jobs: dequeue: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			return AnalysisJob{}, fmt.Errorf("jobs: unexpected brpop reply of %d elements", len(res))
		}
		var job AnalysisJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return AnalysisJob{}, fmt.Errorf("jobs: decode job: %w", err)
		}
		return job, nil
	}
}

// Len reports the queued job count.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
