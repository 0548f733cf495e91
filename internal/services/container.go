package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/captcha"
	"github.com/inboxhunter/signup-agent/internal/config"
	"github.com/inboxhunter/signup-agent/internal/store"
)

// Container holds all service dependencies
type Container struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client

	Store           *store.Store
	StopController  *StopController
	CacheService    CacheServiceInterface
	BrowserService  BrowserServiceInterface
	PlannerService  PlannerServiceInterface
	AgentService    AgentServiceInterface
	PipelineService *PipelineService
}

// NewContainer creates a new service container
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	container := &Container{
		config:         cfg,
		logger:         logger,
		StopController: &StopController{},
	}

	if err := container.initRedis(); err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := container.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return container, nil
}

// initRedis initializes the optional Redis client
func (c *Container) initRedis() error {
	if !c.config.Redis.Enabled {
		c.logger.Debug("Redis disabled, using in-memory plan cache")
		return nil
	}

	c.redisClient = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.config.Redis.Host, c.config.Redis.Port),
		Password:     c.config.Redis.Password,
		DB:           c.config.Redis.DB,
		PoolSize:     c.config.Redis.PoolSize,
		DialTimeout:  c.config.Redis.DialTimeout,
		ReadTimeout:  c.config.Redis.ReadTimeout,
		WriteTimeout: c.config.Redis.WriteTimeout,
	})

	ctx := context.Background()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		c.logger.Warn("Redis connection failed, using in-memory plan cache")
		c.redisClient = nil
	} else {
		c.logger.Info("Redis connection established")
	}

	return nil
}

// initServices initializes all services
func (c *Container) initServices() error {
	st, err := store.New(c.config.Store.Path, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	c.Store = st

	c.CacheService = NewCacheService(c.redisClient, c.config.Redis.CacheTTL, c.logger)
	c.BrowserService = NewBrowserService(c.config.Browser, c.config.Settings.Headless, c.logger)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	credentials := NewCredentialService(c.config.ToCredentials(), rng, c.logger)

	tracker := NewCostTracker(c.logger)
	c.PlannerService = NewPlannerService(
		openai.NewClient(c.config.APIKeys.OpenAI),
		c.config.Settings.LLMModel,
		credentials,
		c.CacheService,
		tracker,
		c.logger,
	)

	observer := NewObserverService(c.logger)
	classifier := NewClassifierService(c.logger)
	guard := NewGuardService(c.logger)
	executor := NewExecutorService(c.logger)
	oracle := NewOracleService(c.logger)

	solver := captcha.NewClient(c.config.APIKeys.Captcha, c.logger)
	captchaHandler := NewCaptchaService(solver, c.logger)

	c.AgentService = NewAgentService(
		c.BrowserService,
		observer,
		classifier,
		c.PlannerService,
		guard,
		executor,
		oracle,
		captchaHandler,
		credentials,
		c.config.Settings.BatchPlanning,
		c.StopController.Stopped,
		c.logger,
	)

	c.PipelineService = NewPipelineService(
		c.buildSources(),
		c.AgentService,
		c.PlannerService,
		c.Store,
		c.StopController,
		rng,
		c.config.Settings.MinDelay,
		c.config.Settings.MaxDelay,
		c.config.Settings.MaxSignups,
		c.logger,
	)

	return nil
}

// buildSources orders the URL sources for the run. The database queue
// always runs last so leftovers from earlier runs get drained.
func (c *Container) buildSources() []URLSource {
	queue := NewQueueSource(c.Store, c.config.Settings.AdLimit, c.logger)

	switch c.config.Settings.DataSource {
	case "csv":
		return []URLSource{NewCSVSource(c.config.Settings.CSVPath, c.logger), queue}
	case "meta":
		// Ad-scraped URLs land in the queue via the store; drain it.
		return []URLSource{queue}
	default:
		return []URLSource{queue}
	}
}

// Close closes all service connections
func (c *Container) Close() error {
	var errs []error

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if c.BrowserService != nil {
		if err := c.BrowserService.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser service: %w", err))
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// Health checks the health of all services
func (c *Container) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if c.redisClient != nil {
		ctx := context.Background()
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			health["redis"] = map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			}
		} else {
			health["redis"] = map[string]interface{}{
				"status": "healthy",
			}
		}
	} else {
		health["redis"] = map[string]interface{}{
			"status": "disabled",
		}
	}

	if c.BrowserService != nil {
		health["browser"] = c.BrowserService.Health()
	}
	if c.CacheService != nil {
		health["cache"] = c.CacheService.Health()
	}

	return health
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logrus.Logger {
	return c.logger
}
