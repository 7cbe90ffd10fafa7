package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/veloria-ai/fmcore/internal/logger"
)

// WorkQueue is the broker contract the coordinators and consumers share:
// FIFO push, blocking pop with a bounded wait, and depth inspection.
type WorkQueue interface {
	Push(ctx context.Context, queue string, itemID string) error
	BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error)
	Length(ctx context.Context, queue string) (int64, error)
	Close() error
}

type workQueue struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewWorkQueue(log *logger.Logger) (WorkQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &workQueue{
		log: log.With("service", "RedisWorkQueue"),
		rdb: rdb,
	}, nil
}

func (q *workQueue) Push(ctx context.Context, queue string, itemID string) error {
	if queue == "" || itemID == "" {
		return fmt.Errorf("queue and item id required")
	}
	if err := q.rdb.LPush(ctx, queue, itemID).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", queue, err)
	}
	return nil
}

// BlockingPop waits up to timeout for an item. An empty queue returns
// ("", nil) so consumers can poll again without treating it as a failure.
func (q *workQueue) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	if queue == "" {
		return "", fmt.Errorf("queue required")
	}
	res, err := q.rdb.BRPop(ctx, timeout, queue).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("brpop %s: %w", queue, err)
	}
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

func (q *workQueue) Length(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("queue required")
	}
	n, err := q.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", queue, err)
	}
	return n, nil
}

func (q *workQueue) Close() error {
	return q.rdb.Close()
}
