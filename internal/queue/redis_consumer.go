package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ConsumerOptions tunes the asynq servers run by RedisConsumer
type ConsumerOptions struct {
	Concurrency     map[Partition]int
	LogLevel        asynq.LogLevel
	Logger          asynq.Logger
	ShutdownTimeout time.Duration
}

// RedisConsumer runs one asynq server per partition so that each partition
// has its own worker slots and a slow partition cannot starve the other.
type RedisConsumer struct {
	connOpt  asynq.RedisClientOpt
	redis    *redis.Client
	opts     ConsumerOptions
	handlers map[Partition]JobFunc
	log      *slog.Logger
}

// NewRedisConsumer creates the worker side of the Redis substrate
func NewRedisConsumer(connOpt asynq.RedisClientOpt, redisClient *redis.Client, opts ConsumerOptions, log *slog.Logger) *RedisConsumer {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &RedisConsumer{
		connOpt:  connOpt,
		redis:    redisClient,
		opts:     opts,
		handlers: make(map[Partition]JobFunc),
		log:      log.With("component", "queue", "driver", "redis"),
	}
}

func (c *RedisConsumer) Handle(partition Partition, fn JobFunc) {
	c.handlers[partition] = fn
}

func (c *RedisConsumer) Run(ctx context.Context) error {
	servers := make([]*asynq.Server, 0, len(c.handlers))
	shutdown := func() {
		for _, srv := range servers {
			srv.Shutdown()
		}
	}

	for p, fn := range c.handlers {
		concurrency := c.opts.Concurrency[p]
		if concurrency <= 0 {
			concurrency = 1
		}

		srv := asynq.NewServer(c.connOpt, asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{string(p): 1},
			LogLevel:        c.opts.LogLevel,
			Logger:          c.opts.Logger,
			ShutdownTimeout: c.opts.ShutdownTimeout,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(p.TaskType(), c.wrap(p, fn))

		if err := srv.Start(mux); err != nil {
			shutdown()
			return fmt.Errorf("failed to start %s consumer: %w", p, err)
		}
		servers = append(servers, srv)
		c.log.Info("partition consumer started", "partition", p, "concurrency", concurrency)
	}

	<-ctx.Done()
	shutdown()
	return nil
}

// wrap publishes the job's lifecycle signals around fn. Failures are never
// retried by the queue.
func (c *RedisConsumer) wrap(p Partition, fn JobFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		jobID, _ := asynq.GetTaskID(ctx)

		if err := publishSignal(c.redis, jobID, signal{State: signalStarted}); err != nil {
			c.log.Warn("failed to publish started signal", "partition", p, "job_id", jobID, "error", err)
		}

		out, err := execute(ctx, fn, t.Payload())
		if err != nil {
			jobErr := failureOf(ctx, err)
			if perr := publishSignal(c.redis, jobID, signal{State: signalFailed, Error: jobErr}); perr != nil {
				c.log.Warn("failed to publish failed signal", "partition", p, "job_id", jobID, "error", perr)
			}
			return fmt.Errorf("%s: %s: %w", jobErr.Code, jobErr.Message, asynq.SkipRetry)
		}

		if _, werr := t.ResultWriter().Write(out); werr != nil && !errors.Is(werr, context.Canceled) {
			c.log.Warn("failed to write job result", "partition", p, "job_id", jobID, "error", werr)
		}
		if perr := publishSignal(c.redis, jobID, signal{State: signalCompleted, Result: out}); perr != nil {
			c.log.Warn("failed to publish completed signal", "partition", p, "job_id", jobID, "error", perr)
		}
		return nil
	}
}
