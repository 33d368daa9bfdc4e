package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profile store backends
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds all configuration values for the application
type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string

	SupabaseURL             string
	SupabaseAnonKey         string
	SupabaseIDTokenProvider string

	SSOTokenSecret string
	SSOTokenIssuer string

	ProfileBackend string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string

	RedisURL           string
	VerifiedSessionTTL time.Duration

	ShopifyDomain          string
	ShopifyStorefrontToken string
	ShopifyAdminToken      string
	ShopifyAPIVersion      string
	CommerceTimeout        time.Duration

	CookieHashKey string
	CookieSecure  bool

	// RoutesFile overrides the built-in route table when set
	RoutesFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	verifiedTTL, err := getDurationEnv("VERIFIED_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	commerceTimeout, err := getDurationEnv("COMMERCE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		SupabaseURL:             getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:         getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseIDTokenProvider: getEnv("SUPABASE_ID_TOKEN_PROVIDER", "custom"),

		SSOTokenSecret: getEnv("SSO_TOKEN_SECRET", ""),
		SSOTokenIssuer: getEnv("SSO_TOKEN_ISSUER", ""),

		ProfileBackend: strings.ToLower(getEnv("PROFILE_BACKEND", BackendPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MongoURI:       getEnv("MONGO_URI", ""),
		MongoDatabase:  getEnv("MONGO_DATABASE", "nutri"),

		RedisURL:           getEnv("REDIS_URL", ""),
		VerifiedSessionTTL: verifiedTTL,

		ShopifyDomain:          getEnv("SHOPIFY_DOMAIN", ""),
		ShopifyStorefrontToken: getEnv("SHOPIFY_STOREFRONT_TOKEN", ""),
		ShopifyAdminToken:      getEnv("SHOPIFY_ADMIN_TOKEN", ""),
		ShopifyAPIVersion:      getEnv("SHOPIFY_API_VERSION", "2023-07"),
		CommerceTimeout:        commerceTimeout,

		CookieHashKey: getEnv("COOKIE_HASH_KEY", ""),
		CookieSecure:  getBoolEnv("COOKIE_SECURE", true),

		RoutesFile: getEnv("ROUTES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default
func (c *Config) Validate() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if c.ShopifyDomain == "" {
		missing = append(missing, "SHOPIFY_DOMAIN")
	}
	if c.ShopifyStorefrontToken == "" {
		missing = append(missing, "SHOPIFY_STOREFRONT_TOKEN")
	}

	switch c.ProfileBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return fmt.Errorf("PROFILE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMongo, c.ProfileBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsDevelopment reports whether the service runs in a development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == "local"
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDurationEnv parses a Go duration ("5s", "30m") or a whole number of seconds
func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
