package marketplace

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"habitora-core/internal/docstore/domain/repository"
	docusecase "habitora-core/internal/docstore/usecase"
	httpadapter "habitora-core/internal/marketplace/adapter/http"
	"habitora-core/internal/marketplace/adapter/identity"
	"habitora-core/internal/marketplace/adapter/media"
	"habitora-core/internal/marketplace/adapter/ws"
	"habitora-core/internal/marketplace/config"
	"habitora-core/internal/marketplace/domain/client"
	"habitora-core/internal/marketplace/usecase"
	"habitora-core/internal/shared/logger"
)

// MarketplaceModule bundles the conversation resolver, the workflow engine,
// the notification dispatcher and their adapters: token verification,
// identity directory, media storage and the realtime listen gateway.
type MarketplaceModule struct {
	Config        *config.Config
	Tokens        *identity.TokenService
	Middleware    *identity.AuthMiddleware
	Identity      client.IdentityClient
	Media         *media.MinioMediaStore
	Conversations usecase.ConversationUsecase
	Workflow      usecase.WorkflowUsecase
	Notifications usecase.NotificationUsecase
	Gateway       *ws.ListenGateway
	Logger        logger.Logger
}

// NewMarketplaceModule creates the module over the document store and live
// query layer. Configuration comes from the environment, with defaults when
// that fails. A nil Redis client disables the identity cache; lookups then
// hit the store directly.
func NewMarketplaceModule(
	log logger.Logger,
	store repository.DocumentStore,
	live docusecase.LiveQueryUsecase,
	redisClient *redis.Client,
) (*MarketplaceModule, error) {
	log.Info("Initializing Marketplace Module...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Warn("Failed to load marketplace config from environment, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	return buildMarketplaceModule(log, store, live, redisClient, cfg)
}

// NewMarketplaceModuleWithConfig creates the module with an explicit
// configuration. Useful for testing or custom wiring.
func NewMarketplaceModuleWithConfig(
	log logger.Logger,
	store repository.DocumentStore,
	live docusecase.LiveQueryUsecase,
	redisClient *redis.Client,
	cfg *config.Config,
) (*MarketplaceModule, error) {
	log.Info("Initializing Marketplace Module...")

	if cfg == nil {
		cfg = config.DefaultConfig()
		log.Info("No configuration provided, using defaults.")
	}

	return buildMarketplaceModule(log, store, live, redisClient, cfg)
}

func buildMarketplaceModule(
	log logger.Logger,
	store repository.DocumentStore,
	live docusecase.LiveQueryUsecase,
	redisClient *redis.Client,
	cfg *config.Config,
) (*MarketplaceModule, error) {
	tokens, err := identity.NewTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}
	middleware := identity.NewAuthMiddleware(tokens, log)

	directory := identity.NewDirectory(store, log)
	var identityClient client.IdentityClient = directory
	if redisClient != nil {
		identityClient = identity.NewCachedIdentityClient(directory, redisClient, cfg.IdentityCacheTTL, log)
		log.Info("Identity cache enabled.", "ttl", cfg.IdentityCacheTTL.String())
	}

	mediaStore, err := media.NewMinioMediaStore(cfg.Media, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create media store: %w", err)
	}

	notifications := usecase.NewNotificationUsecase(store, live, identityClient, log)
	workflow := usecase.NewWorkflowUsecase(store, live, mediaStore, notifications, identityClient, log)
	conversations := usecase.NewConversationUsecase(store, live, identityClient, log)

	gateway := ws.NewListenGateway(conversations, workflow, notifications, cfg.Realtime, log)
	log.Info("Marketplace Module initialized successfully.")

	return &MarketplaceModule{
		Config:        cfg,
		Tokens:        tokens,
		Middleware:    middleware,
		Identity:      identityClient,
		Media:         mediaStore,
		Conversations: conversations,
		Workflow:      workflow,
		Notifications: notifications,
		Gateway:       gateway,
		Logger:        log,
	}, nil
}

// RegisterRoutes mounts the REST endpoints under /api/v1 and the listen
// gateway at its configured path. Every route runs behind the token-verifying
// middleware.
func (m *MarketplaceModule) RegisterRoutes(router fiber.Router) {
	authRequired := m.Middleware.Protect()

	api := router.Group("/api/v1")
	handler := httpadapter.NewMarketplaceHTTPHandler(m.Conversations, m.Workflow, m.Notifications, m.Logger)
	handler.RegisterRoutes(api, authRequired)

	m.Gateway.RegisterRoutes(router, authRequired)

	m.Logger.Info("Marketplace HTTP routes and listen gateway registered.")
}

// StartServices checks external collaborators. The media client connects
// lazily, so an unreachable endpoint fails uploads later, not boot.
func (m *MarketplaceModule) StartServices(ctx context.Context) {
	if err := m.Media.EnsureBucket(ctx); err != nil {
		m.Logger.Warn("Media bucket check failed, uploads will not work until it recovers", "error", err)
	}
}

// Stop gracefully shuts down the module and closes open listen connections.
func (m *MarketplaceModule) Stop() error {
	m.Logger.Info("Stopping Marketplace Module...")
	m.Gateway.Stop()
	m.Logger.Info("Marketplace Module stopped.")
	return nil
}
