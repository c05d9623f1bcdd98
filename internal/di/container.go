package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"habitora-core/internal/docstore"
	"habitora-core/internal/marketplace"
	"habitora-core/internal/shared/logger"
)

// Container represents a dependency injection container with proper lifecycle management
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)

	// Module instances
	DocstoreModule    *docstore.DocstoreModule
	MarketplaceModule *marketplace.MarketplaceModule

	// Shared connections, owned by the caller
	MongoClient *mongo.Client
	RedisClient *redis.Client

	// Logger
	Logger logger.Logger
}

// NewContainer creates a new DI container
func NewContainer(log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Logger:    log,
	}
}

// InitializeDocstore initializes the document store module over MongoDB and
// Redis, declaring the marketplace's indexes and access rules.
func (c *Container) InitializeDocstore(mongoClient *mongo.Client, redisClient *redis.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.MongoClient = mongoClient
	c.RedisClient = redisClient

	mod, err := docstore.NewDocstoreModule(c.Logger, mongoClient, redisClient,
		marketplace.DefaultIndexes(), marketplace.AccessRules())
	if err != nil {
		return fmt.Errorf("failed to create docstore module: %w", err)
	}

	c.DocstoreModule = mod
	return nil
}

// InitializeMemoryDocstore initializes the document store module over the
// in-process store. No external connections are required; tests and local
// development boot through here.
func (c *Container) InitializeMemoryDocstore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mod, err := docstore.NewMemoryDocstoreModule(c.Logger,
		marketplace.DefaultIndexes(), marketplace.AccessRules())
	if err != nil {
		return fmt.Errorf("failed to create docstore module: %w", err)
	}

	c.DocstoreModule = mod
	return nil
}

// InitializeMarketplace initializes the marketplace module on top of the
// document store module.
func (c *Container) InitializeMarketplace() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.DocstoreModule == nil {
		return fmt.Errorf("docstore module must be initialized before the marketplace module")
	}

	mod, err := marketplace.NewMarketplaceModule(c.Logger,
		c.DocstoreModule.Store, c.DocstoreModule.LiveQuery, c.RedisClient)
	if err != nil {
		return fmt.Errorf("failed to create marketplace module: %w", err)
	}

	c.MarketplaceModule = mod
	return nil
}

// Register registers a service instance
func (c *Container) Register(service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceType := reflect.TypeOf(service)
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	c.services[serviceType] = service
	return nil
}

// RegisterFactory registers a factory function for a service
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[serviceType] = factory
	return nil
}

// Resolve resolves a service by type
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()

	// Check if service instance exists
	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}

	// Check if factory exists
	if factory, exists := c.factories[serviceType]; exists {
		c.mu.RUnlock()

		// Create new instance using factory
		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}

		// Register the created instance
		c.mu.Lock()
		c.services[serviceType] = service
		c.mu.Unlock()

		return service, nil
	}

	c.mu.RUnlock()
	return nil, fmt.Errorf("service of type %v not registered", serviceType)
}

// GetService is a generic helper for resolving services
func GetService[T any](c *Container) (T, error) {
	var zero T
	serviceType := reflect.TypeOf(zero)

	service, err := c.Resolve(serviceType)
	if err != nil {
		return zero, err
	}

	if typedService, ok := service.(T); ok {
		return typedService, nil
	}

	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// GetDocstoreModule returns the document store module instance
func (c *Container) GetDocstoreModule() *docstore.DocstoreModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DocstoreModule
}

// GetMarketplaceModule returns the marketplace module instance
func (c *Container) GetMarketplaceModule() *marketplace.MarketplaceModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MarketplaceModule
}

// HealthCheck pings every shared connection
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.MongoClient != nil {
		if err := c.MongoClient.Ping(ctx, nil); err != nil {
			return fmt.Errorf("MongoDB health check failed: %w", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis health check failed: %w", err)
		}
	}

	return nil
}

// Cleanup stops modules in reverse order of initialization. Shared
// connections are left open; the caller that dialed them closes them.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.MarketplaceModule != nil {
		if err := c.MarketplaceModule.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop marketplace module: %w", err))
		}
		c.MarketplaceModule = nil
	}

	if c.DocstoreModule != nil {
		if err := c.DocstoreModule.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop docstore module: %w", err))
		}
		c.DocstoreModule = nil
	}

	for _, service := range c.services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}

	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}

	return nil
}

// Close gracefully shuts down all services in the container with timeout
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warn("Cleanup finished with errors", "error", err)
	}

	return nil
}
