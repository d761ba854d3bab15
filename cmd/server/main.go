package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/config"
	"github.com/docuprompt/api/internal/document"
	"github.com/docuprompt/api/internal/handler"
	"github.com/docuprompt/api/internal/logger"
	"github.com/docuprompt/api/internal/queue"
	"github.com/docuprompt/api/internal/service"
	ws "github.com/docuprompt/api/internal/websocket"
	"github.com/docuprompt/api/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New(cfg.Server.LogLevel, cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	// Queue substrate
	concurrency := map[queue.Partition]int{
		queue.PartitionInference: cfg.Queue.InferenceConcurrency,
		queue.PartitionRender:    cfg.Queue.RenderConcurrency,
	}

	var (
		redisClient *redis.Client
		q           queue.Queue
		consumer    queue.Consumer
	)
	switch cfg.Queue.Driver {
	case config.QueueDriverMemory:
		mem := queue.NewMemory(concurrency, cfg.Queue.Retention, logg)
		q, consumer = mem, mem
		logg.Info("using in-process queue, jobs will not survive a restart")
	default:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logg.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
		}

		connOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		q = queue.NewRedisQueue(connOpt, redisClient, queue.RedisOptions{
			Retention:    cfg.Queue.Retention,
			PollInterval: cfg.Queue.PollInterval,
		}, logg)
		consumer = queue.NewRedisConsumer(connOpt, redisClient, queue.ConsumerOptions{
			Concurrency: concurrency,
			LogLevel:    logger.AsynqLevel(cfg.Server.LogLevel),
			Logger:      logger.NewAsynqLogger(logg),
		}, logg)
	}

	// External clients
	provider, err := newProvider(ctx, cfg, logg)
	if err != nil {
		log.Fatalf("Failed to create inference provider: %v", err)
	}

	// Object storage is optional
	var store client.ObjectStore
	if cfg.R2Configured() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			logg.Warn("R2 client not initialized", "error", err)
		} else {
			store = r2Client
		}
	} else {
		logg.Info("R2 storage not configured, rendered files are not archived")
	}

	// Lifecycle services and the event gateway
	hub := ws.NewHub(logg)
	tasks := service.NewTaskService(q, hub, cfg.Task.Timeout, logg)
	renders := service.NewRenderService(q, hub, service.RenderServiceConfig{
		Timeout:   cfg.Render.Timeout,
		Store:     store,
		URLExpiry: cfg.R2.URLExpiry,
	}, logg)
	gateway := ws.NewGateway(hub, tasks, renders, validate, logg)

	// Workers
	inferenceWorker := worker.NewInferenceWorker(provider, cfg.Inference.SystemPrompt, logg)
	renderWorker := worker.NewRenderWorker(document.NewRegistry(), cfg.Render.TempDir, logg)
	consumer.Handle(queue.PartitionInference, inferenceWorker.ProcessJob)
	consumer.Handle(queue.PartitionRender, renderWorker.ProcessJob)

	app := handler.NewApp(handler.Deps{
		Redis:             redisClient,
		Queue:             q,
		Provider:          provider,
		Store:             store,
		Gateway:           gateway,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		LogLevel:          cfg.Server.LogLevel,
		ConnectionsPerMin: cfg.RateLimit.ConnectionsPerMin,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		logg.Info("server starting", "addr", addr, "queue_driver", cfg.Queue.Driver, "provider", provider.Name())
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error("server stopped with error", "error", err)
	}

	tasks.Shutdown()
	renders.Shutdown()
	if err := q.Close(); err != nil {
		logg.Warn("queue close failed", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logg.Info("server stopped")
}

// newProvider picks the configured inference backend, falling back to the
// mock provider when its credentials are missing.
func newProvider(ctx context.Context, cfg *config.Config, logg *slog.Logger) (client.InferenceProvider, error) {
	switch cfg.Inference.Provider {
	case config.ProviderOpenAI:
		c := client.NewOpenAIClient(&cfg.OpenAI, cfg.Inference.MaxTokens)
		if c.IsConfigured() {
			return c, nil
		}
	case config.ProviderGemini:
		if cfg.Gemini.APIKey != "" {
			c, err := client.NewGeminiClient(ctx, &cfg.Gemini)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	case config.ProviderMock:
		return &client.MockProvider{}, nil
	}

	logg.Warn("inference provider has no API key, using mock provider", "provider", cfg.Inference.Provider)
	return &client.MockProvider{Delay: time.Second}, nil
}
