package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docqa/internal/ai"
	"docqa/internal/app"
	"docqa/internal/config"
	"docqa/internal/ingest"
	"docqa/internal/model"
	"docqa/internal/platform/database"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	redisClient "docqa/internal/platform/redis"
	"docqa/internal/registry"
	"docqa/internal/repository"
	"docqa/internal/worker"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	// Redis and MQConn are nil when the matching feature is not configured.
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Registry   registry.Registry
	DocQA      *app.DocQAService
	SyncWorker *worker.RegistrySyncWorker
	Origin     string

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig wires every component from an already validated config.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		Origin:    uuid.NewString(),
		StartedAt: time.Now(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := database.Open(ctx, database.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.MySQLDSN(),
	})
	if err != nil {
		return err
	}
	a.DB = db
	if err := db.AutoMigrate(&model.Collection{}, &model.Chunk{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	switch cfg.Registry.Backend {
	case "redis":
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = client
		// A building marker outlives the longest allowed build, then expires.
		a.Registry = registry.NewRedisRegistry(client, cfg.Redis.KeyPrefix, 2*cfg.IngestTimeout())
	default:
		a.Registry = registry.NewMemoryRegistry()
	}

	llm := ai.NewOpenAICompatibleClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		Timeout:        time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
		MaxRetries:     cfg.LLM.MaxRetries,
	})

	store := app.NewIndexStore(db,
		repository.NewCollectionRepository(db),
		repository.NewChunkRepository(db),
		llm,
		app.IndexStoreOptions{
			ChunkSize:          cfg.Index.ChunkSize,
			ChunkOverlap:       cfg.Index.ChunkOverlap,
			EmbeddingBatchSize: cfg.Index.EmbeddingBatchSize,
		},
	)

	retrievers := map[string]app.Retriever{
		app.ModeSimple: app.NewSimpleRetriever(llm, cfg.Retrieval.SimilarityTopK),
		app.ModeFusion: app.NewFusionRetriever(llm, llm, app.FusionOptions{
			TopK:          cfg.Retrieval.FusionTopK,
			NumExpansions: cfg.Retrieval.NumExpansions,
			RRFK:          cfg.Retrieval.RRFK,
		}),
	}

	ingestor := ingest.NewIngestor(ingest.Options{
		FetchTimeout:  time.Duration(cfg.Ingest.FetchTimeoutSeconds) * time.Second,
		MaxFetchBytes: int64(cfg.Ingest.MaxFetchMB) << 20,
	})

	var publisher app.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		a.MQConn = conn
		publisher = rabbitmqClient.NewEventPublisher(conn, cfg.RabbitMQ.Exchange)

		a.SyncWorker = worker.NewRegistrySyncWorker(conn, cfg.RabbitMQ.Exchange, a.Registry, a.Origin)
		if err := a.SyncWorker.Start(ctx); err != nil {
			return fmt.Errorf("start registry sync worker failed: %w", err)
		}
	}

	a.DocQA = app.NewDocQAService(
		ingestor,
		store,
		a.Registry,
		retrievers,
		llm,
		app.NewEvaluator(llm, cfg.Evaluation.PassingThreshold),
		publisher,
		app.DocQAOptions{
			QueryTimeout:      cfg.QueryTimeout(),
			IngestTimeout:     cfg.IngestTimeout(),
			DefaultMode:       cfg.Retrieval.Mode,
			EvaluationEnabled: cfg.Evaluation.Enabled,
			Origin:            a.Origin,
		},
	)

	restored, err := a.DocQA.RestoreRegistry(ctx)
	if err != nil {
		return fmt.Errorf("restore collection registry failed: %w", err)
	}
	log.Printf("registry: backend=%s restored=%d", cfg.Registry.Backend, restored)
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.SyncWorker != nil {
		a.SyncWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
