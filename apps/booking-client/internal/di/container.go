package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/gateway"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/repository"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/service"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/session"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
	"github.com/prohmpiriya/homeservice-client/pkg/config"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	pkgredis "github.com/prohmpiriya/homeservice-client/pkg/redis"
	"github.com/prohmpiriya/homeservice-client/pkg/retry"
)

// Container holds all dependencies of one client context
type Container struct {
	// Infrastructure
	Redis *pkgredis.Client
	Store store.CredentialStore

	// Transport
	Gateway    *gateway.Gateway
	BookingAPI service.BookingAPI

	// Services
	Session    *session.Controller
	Cache      *repository.BookingCache
	Dispatcher *service.Dispatcher

	log       *logger.Logger
	ownsRedis bool
	unhook    func()
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config     *config.Config
	Logger     *logger.Logger
	Navigator  service.Navigator
	HTTPClient *http.Client
	// Redis is used by the redis session store; one is dialed when nil
	Redis *pkgredis.Client
	// Store overrides the configured session store
	Store store.CredentialStore
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{Redis: cfg.Redis, Store: cfg.Store, log: log}

	// Initialize the credential store
	if c.Store == nil {
		st, err := c.newStore(ctx, cfg.Config)
		if err != nil {
			c.closeRedis()
			return nil, err
		}
		c.Store = st
	}

	// Initialize transport
	api := cfg.Config.API
	opts := []gateway.Option{gateway.WithLogger(log)}
	if cfg.HTTPClient != nil {
		opts = append(opts, gateway.WithHTTPClient(cfg.HTTPClient))
	}
	c.Gateway = gateway.New(gateway.Config{
		BaseURL:          api.BaseURL,
		RefreshPath:      api.RefreshPath,
		Timeout:          api.Timeout,
		ExpiryLeeway:     api.ExpiryLeeway,
		ProactiveRenewal: api.ProactiveRenewal,
		UserAgent:        fmt.Sprintf("%s/%s", cfg.Config.App.Name, cfg.Config.App.Version),
	}, c.Store, opts...)
	c.BookingAPI = service.NewBookingAPI(c.Gateway)

	// Initialize services
	c.Session = session.NewController(session.Config{
		LoginPath:          api.LoginPath,
		RegisterPath:       api.RegisterPath,
		WorkerRegisterPath: api.WorkerRegisterPath,
	}, c.Gateway, c.Store, log)

	c.Cache = repository.NewBookingCache()
	c.Dispatcher = service.NewDispatcher(c.BookingAPI, c.Cache, c.Store, cfg.Navigator, &service.DispatcherConfig{
		Retry: &retry.Config{
			MaxRetries:      cfg.Config.Retry.MaxRetries,
			InitialInterval: cfg.Config.Retry.InitialInterval,
			MaxInterval:     cfg.Config.Retry.MaxInterval,
		},
	}, log)

	// A failed renewal leaves nothing to show for the previous session
	c.unhook = c.Gateway.OnSessionExpired(func() {
		log.Info("session expired, clearing booking cache")
		c.Cache.Load(nil)
	})

	return c, nil
}

func (c *Container) newStore(ctx context.Context, cfg *config.Config) (store.CredentialStore, error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(domain.GuestSession()), nil

	case config.StoreFile:
		return store.NewFileStore(cfg.Session.File, c.log)

	case config.StoreRedis:
		if c.Redis == nil {
			client, err := pkgredis.NewClient(ctx, &pkgredis.Config{
				Host:          cfg.Redis.Host,
				Port:          cfg.Redis.Port,
				Password:      cfg.Redis.Password,
				DB:            cfg.Redis.DB,
				PoolSize:      cfg.Redis.PoolSize,
				DialTimeout:   cfg.Redis.DialTimeout,
				ReadTimeout:   cfg.Redis.ReadTimeout,
				WriteTimeout:  cfg.Redis.WriteTimeout,
				MaxRetries:    cfg.Retry.MaxRetries,
				RetryInterval: cfg.Retry.InitialInterval,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			c.Redis = client
			c.ownsRedis = true
		}
		return store.NewRedisStore(ctx, c.Redis, cfg.Session.RedisKey, cfg.Session.RedisChannel, c.log)
	}
	return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
}

// Start begins cross-context session synchronization
func (c *Container) Start(ctx context.Context) error {
	return c.Session.Start(ctx)
}

// Close releases every resource held by the container
func (c *Container) Close() error {
	if c.unhook != nil {
		c.unhook()
	}
	err := c.Session.Close()
	if cerr := c.closeRedis(); err == nil {
		err = cerr
	}
	if err != nil {
		c.log.Warn("container close failed", zap.Error(err))
	}
	return err
}

func (c *Container) closeRedis() error {
	if c.ownsRedis && c.Redis != nil {
		c.ownsRedis = false
		return c.Redis.Close()
	}
	return nil
}
