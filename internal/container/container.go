package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"nutri-auth/internal/clientstate"
	"nutri-auth/internal/commerce"
	"nutri-auth/internal/config"
	"nutri-auth/internal/guard"
	"nutri-auth/internal/identity"
	"nutri-auth/internal/middleware"
	"nutri-auth/internal/profile"
	"nutri-auth/internal/reconcile"
	"nutri-auth/internal/sso"
	"nutri-auth/pkg/database"
	"nutri-auth/pkg/logger"
	"nutri-auth/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	RedisClient *redis.Client
	DB          *database.PostgresDB
	Mongo       *mongo.Client
	Registry    *prometheus.Registry

	Profiles profile.Store
	Commerce commerce.Client
	State    *clientstate.State
	Tracker  *identity.Tracker
	Engine   *reconcile.Engine
	Routes   *guard.Table
	Cookie   *middleware.ClientCookie
}

// Option overrides a backend that New would otherwise connect to
type Option func(*settings)

type settings struct {
	profiles profile.Store
}

// WithProfileStore uses store instead of the configured profile backend
func WithProfileStore(store profile.Store) Option {
	return func(s *settings) { s.profiles = store }
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Container, error) {
	var o settings
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Client state lives in Redis when configured; otherwise in process memory
	var store clientstate.Store
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log.Logger)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Redis client, keeping client state in memory")
		} else {
			c.RedisClient = client
			store = clientstate.NewRedisStore(client)
			log.Info("Redis client initialized successfully")
		}
	} else {
		log.Info("Redis URL not configured, keeping client state in memory")
	}
	if store == nil {
		store = clientstate.NewMemoryStore()
	}
	c.State = clientstate.New(store, redis.NewKeyBuilder(cfg.Environment), log,
		clientstate.WithVerifiedTTL(cfg.VerifiedSessionTTL))

	c.Profiles = o.profiles
	if c.Profiles == nil {
		profiles, err := c.openProfiles(ctx)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.Profiles = profiles
	}

	provider := identity.NewSupabaseProvider(identity.SupabaseConfig{
		URL:             cfg.SupabaseURL,
		AnonKey:         cfg.SupabaseAnonKey,
		IDTokenProvider: cfg.SupabaseIDTokenProvider,
	}, log)
	c.Tracker = identity.NewTracker(provider, c.State, log)

	c.Commerce = commerce.NewShopifyClient(commerce.ShopifyConfig{
		Domain:          cfg.ShopifyDomain,
		StorefrontToken: cfg.ShopifyStorefrontToken,
		AdminToken:      cfg.ShopifyAdminToken,
		APIVersion:      cfg.ShopifyAPIVersion,
		Timeout:         cfg.CommerceTimeout,
	}, log)

	metrics, err := reconcile.NewMetrics(c.Registry)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c.Engine = reconcile.New(reconcile.Deps{
		Tracker:  c.Tracker,
		Profiles: c.Profiles,
		Commerce: c.Commerce,
		State:    c.State,
		Decoder:  sso.NewDecoder(cfg.SSOTokenSecret, cfg.SSOTokenIssuer, log),
		Metrics:  metrics,
		Logger:   log,
	})

	c.Routes, err = config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.Cookie = middleware.NewClientCookie([]byte(cfg.CookieHashKey), cfg.CookieSecure, log)

	return c, nil
}

// openProfiles connects the configured profile backend
func (c *Container) openProfiles(ctx context.Context) (profile.Store, error) {
	switch c.Config.ProfileBackend {
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.Config.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		c.Mongo = client

		store := profile.NewMongoStore(client.Database(c.Config.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			c.Logger.WithError(err).Warn("Failed to ensure profile indexes")
		}
		c.Logger.Info("Profile store connected to MongoDB")
		return store, nil

	default:
		db, err := database.NewPostgresDB(ctx, c.Config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = db
		c.Logger.WithFields(db.Stats()).Info("Profile store connected to PostgreSQL")
		return profile.NewPostgresStore(db), nil
	}
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}

// Health reports the state of every connected backend by name
func (c *Container) Health(ctx context.Context) map[string]error {
	checks := make(map[string]error)
	if c.RedisClient != nil {
		checks["redis"] = c.RedisClient.Health(ctx)
	}
	if c.DB != nil {
		checks["database"] = c.DB.Health(ctx)
	}
	if c.Mongo != nil {
		checks["mongo"] = c.Mongo.Ping(ctx, readpref.Primary())
	}
	return checks
}

// Close detaches the engine and closes every backend connection
func (c *Container) Close(ctx context.Context) {
	if c.Engine != nil {
		c.Engine.Close()
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.WithError(err).Error("Failed to close Redis connection")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.Mongo != nil {
		if err := c.Mongo.Disconnect(ctx); err != nil {
			c.Logger.WithError(err).Error("Failed to disconnect MongoDB")
		}
	}
}
