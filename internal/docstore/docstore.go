package docstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"habitora-core/internal/docstore/adapter/persistence"
	"habitora-core/internal/docstore/adapter/persistence/memory"
	"habitora-core/internal/docstore/adapter/persistence/mongodb"
	"habitora-core/internal/docstore/adapter/security"
	"habitora-core/internal/docstore/config"
	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/docstore/usecase"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"
)

// DocstoreModule bundles the document store with its live delivery pipeline:
// rule-guarded store, change feed hub, Redis event journal and the live
// query usecase. Application modules consume Store and LiveQuery; index and
// access rule declarations come from the caller because the collections
// belong to the application, not to the store.
type DocstoreModule struct {
	Config    *config.Config
	Registry  *model.IndexRegistry
	EventBus  eventbus.EventBusInterface
	Store     repository.DocumentStore
	Rules     *security.RulesEngine
	Hub       *usecase.ChangeFeedHub
	Journal   *persistence.RedisEventJournal
	LiveQuery usecase.LiveQueryUsecase
	Logger    logger.Logger
}

// NewDocstoreModule creates the MongoDB-backed module. Configuration comes
// from the environment, with defaults when that fails.
func NewDocstoreModule(
	log logger.Logger,
	mongoClient *mongo.Client,
	redisClient *redis.Client,
	indexes []model.Index,
	rules []security.AccessRule,
) (*DocstoreModule, error) {
	log.Info("Initializing Docstore Module...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Warn("Failed to load docstore config from environment, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	return buildModule(log, mongoClient, redisClient, cfg, indexes, rules)
}

// NewDocstoreModuleWithConfig creates the MongoDB-backed module with an
// explicit configuration. Useful for testing or custom wiring.
func NewDocstoreModuleWithConfig(
	log logger.Logger,
	mongoClient *mongo.Client,
	redisClient *redis.Client,
	cfg *config.Config,
	indexes []model.Index,
	rules []security.AccessRule,
) (*DocstoreModule, error) {
	log.Info("Initializing Docstore Module...")

	if cfg == nil {
		cfg = config.DefaultConfig()
		log.Info("No configuration provided, using defaults.")
	}

	return buildModule(log, mongoClient, redisClient, cfg, indexes, rules)
}

func buildModule(
	log logger.Logger,
	mongoClient *mongo.Client,
	redisClient *redis.Client,
	cfg *config.Config,
	indexes []model.Index,
	rules []security.AccessRule,
) (*DocstoreModule, error) {
	registry := model.NewIndexRegistry()
	for _, idx := range indexes {
		registry.Define(idx)
	}

	bus := eventbus.NewEventBus(log)

	db := mongoClient.Database(cfg.DatabaseName)
	store := mongodb.NewDocumentStore(db, registry, bus, log)
	log.Info("MongoDB document store initialized successfully.", "database", cfg.DatabaseName)

	hub := usecase.NewChangeFeedHub(log)
	hub.AttachToBus(bus)

	journal := persistence.NewRedisEventJournal(redisClient, log).WithMaxLen(cfg.JournalMaxLen)
	journal.AttachToBus(bus)
	log.Info("Redis event journal attached successfully.")

	engine, err := security.NewRulesEngine(rules, log)
	if err != nil {
		return nil, fmt.Errorf("failed to compile access rules: %w", err)
	}
	guarded := security.NewGuardedStore(store, engine, bus, log)
	log.Info("Access rules engine initialized successfully.", "rules", len(rules))

	live := usecase.NewLiveQueryUsecase(guarded, hub, log)
	log.Info("Live query usecase initialized successfully.")

	return &DocstoreModule{
		Config:    cfg,
		Registry:  registry,
		EventBus:  bus,
		Store:     guarded,
		Rules:     engine,
		Hub:       hub,
		Journal:   journal,
		LiveQuery: live,
		Logger:    log,
	}, nil
}

// NewMemoryDocstoreModule creates the module over the in-process store, with
// the same rule enforcement and live delivery but no Redis journal. Tests
// and local development run against this variant.
func NewMemoryDocstoreModule(
	log logger.Logger,
	indexes []model.Index,
	rules []security.AccessRule,
) (*DocstoreModule, error) {
	registry := model.NewIndexRegistry()
	for _, idx := range indexes {
		registry.Define(idx)
	}

	bus := eventbus.NewEventBus(log)
	store := memory.NewMemoryStore(registry, bus, log)

	hub := usecase.NewChangeFeedHub(log)
	hub.AttachToBus(bus)

	engine, err := security.NewRulesEngine(rules, log)
	if err != nil {
		return nil, fmt.Errorf("failed to compile access rules: %w", err)
	}
	guarded := security.NewGuardedStore(store, engine, bus, log)

	live := usecase.NewLiveQueryUsecase(guarded, hub, log)

	return &DocstoreModule{
		Config:    config.DefaultConfig(),
		Registry:  registry,
		EventBus:  bus,
		Store:     guarded,
		Rules:     engine,
		Hub:       hub,
		LiveQuery: live,
		Logger:    log,
	}, nil
}

// Stop shuts the module down. Shared clients (Mongo, Redis) belong to the
// container and stay open.
func (m *DocstoreModule) Stop() error {
	m.Logger.Info("Stopping Docstore Module...")
	m.Logger.Info("Docstore Module stopped.")
	return nil
}
