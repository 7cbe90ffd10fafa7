package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/veloria-ai/fmcore/internal/clients/redis"
	"github.com/veloria-ai/fmcore/internal/logger"
)

// Handler processes one queue payload. Payloads are operation or request
// ids; handlers own their own retry semantics, so a returned error is
// logged and the item dropped rather than requeued.
type Handler func(ctx context.Context, id uuid.UUID) error

// Consumer drains one Redis list with a pool of blocking-pop loops.
type Consumer struct {
	log     *logger.Logger
	queue   redisclient.WorkQueue
	name    string
	handler Handler
	cfg     Config
}

func NewConsumer(baseLog *logger.Logger, queue redisclient.WorkQueue, name string, handler Handler, cfg Config) *Consumer {
	return &Consumer{
		log:     baseLog.With("component", "QueueConsumer", "queue", name),
		queue:   queue,
		name:    name,
		handler: handler,
		cfg:     cfg,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	n := c.cfg.Consumers
	if n < 1 {
		n = 1
	}
	c.log.Info("Starting queue consumers", "count", n)
	for i := 0; i < n; i++ {
		go c.runLoop(ctx, i+1)
	}
}

func (c *Consumer) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumer loop stopped", "worker_id", workerID)
			return
		default:
		}

		payload, err := c.queue.BlockingPop(ctx, c.name, c.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("BlockingPop failed", "worker_id", workerID, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if payload == "" {
			continue
		}

		id, err := uuid.Parse(payload)
		if err != nil {
			c.log.Warn("Dropping malformed queue payload", "worker_id", workerID, "payload", payload)
			continue
		}

		c.process(ctx, workerID, id)
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Handler panic", "worker_id", workerID, "id", id, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := c.handler(ctx, id); err != nil {
		c.log.Error("Handler failed", "worker_id", workerID, "id", id, "error", err)
	}
}
