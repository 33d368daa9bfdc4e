package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SHOPIFY_DOMAIN", "shop.myshopify.com")
	t.Setenv("SHOPIFY_STOREFRONT_TOKEN", "storefront")
	t.Setenv("DATABASE_URL", "postgres://localhost/nutri")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.ProfileBackend)
	assert.Equal(t, 30*time.Minute, cfg.VerifiedSessionTTL)
	assert.Equal(t, 5*time.Second, cfg.CommerceTimeout)
	assert.Equal(t, "2023-07", cfg.ShopifyAPIVersion)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("VERIFIED_SESSION_TTL", "10m")
	t.Setenv("COMMERCE_TIMEOUT", "3")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("PROFILE_BACKEND", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.VerifiedSessionTTL)
	assert.Equal(t, 3*time.Second, cfg.CommerceTimeout)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, BackendMongo, cfg.ProfileBackend)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "Bad duration", env: map[string]string{"VERIFIED_SESSION_TTL": "soon"}},
		{name: "Negative duration", env: map[string]string{"COMMERCE_TIMEOUT": "-1s"}},
		{name: "Unknown backend", env: map[string]string{"PROFILE_BACKEND": "sqlite"}},
		{name: "Missing provider URL", env: map[string]string{"SUPABASE_URL": ""}},
		{name: "Mongo without URI", env: map[string]string{"PROFILE_BACKEND": "mongo", "MONGO_URI": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseRoutes(t *testing.T) {
	rules, err := ParseRoutes([]byte(`
routes:
  - path: /recipes
    requireAuth: true
  - path: /coach
    allowedUserTypes: [Expert, admin]
  - path: /welcome
    guestOnly: true
`))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.True(t, rules[0].RequireAuth)
	assert.True(t, rules[1].RequireAuth)
	assert.Equal(t, []domain.UserType{domain.UserTypeExpert, domain.UserTypeAdmin}, rules[1].AllowedUserTypes)
	assert.True(t, rules[2].GuestOnly)
}

func TestParseRoutes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "Not YAML", yaml: "routes: [:"},
		{name: "Relative path", yaml: "routes:\n  - path: recipes\n"},
		{name: "Unknown type", yaml: "routes:\n  - path: /x\n    allowedUserTypes: [moderator]\n"},
		{name: "Guest and auth", yaml: "routes:\n  - path: /x\n    guestOnly: true\n    requireAuth: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRoutes(t *testing.T) {
	table, err := LoadRoutes("")
	require.NoError(t, err)
	assert.True(t, table.Match("/expert-dashboard").RequireAuth)

	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - path: /community\n  - path: /recipes\n    requireAuth: true\n"), 0o600))

	table, err = LoadRoutes(path)
	require.NoError(t, err)
	assert.False(t, table.Match("/community").RequireAuth)
	assert.True(t, table.Match("/recipes").RequireAuth)
	assert.True(t, table.Match("/expert-dashboard").RequireAuth)

	_, err = LoadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
