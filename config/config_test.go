package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/apiauth/utils"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "default configuration",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
				assert.Equal(t, DefaultJWKSURL, cfg.Auth.JWKSURL)
				assert.Equal(t, DefaultAPIKeyURL, cfg.Auth.APIKeyURL)
				assert.Equal(t, DefaultIAMURL, cfg.Auth.IAMURL)
				assert.Equal(t, 30*time.Second, cfg.Auth.JWKSCooldown)
				assert.Equal(t, 10*time.Minute, cfg.Auth.JWKSMaxAge)
				assert.Equal(t, ClaimsProfileFlowcore, cfg.Claims.Profile)
				assert.True(t, cfg.Cache.Enabled)
				assert.Equal(t, "memory", cfg.Cache.Backend)
				assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
				assert.Equal(t, 30*time.Second, cfg.Cache.SweepInterval)
				assert.Equal(t, ":memory:", cfg.Cache.SQLiteDSN)
				assert.Equal(t, "info", cfg.Observability.LogLevel)
				assert.Equal(t, "json", cfg.Observability.LogFormat)
			},
		},
		{
			name: "oidc profile with sqlite cache",
			envVars: map[string]string{
				"PORT":                   "9000",
				"CLAIMS_PROFILE":         "OIDC",
				"OIDC_USER_ID_CLAIM":     "uid",
				"OIDC_ADMIN_CLAIM":       "role",
				"OIDC_ADMIN_VALUE":       `"admin"`,
				"OIDC_REQUIRED_CLAIMS":   "tenant, org ,,",
				"CACHE_BACKEND":          "sqlite",
				"CACHE_TTL":              "2m",
				"CACHE_SQLITE_DSN":       "file:decisions.db",
				"CORS_ALLOWED_ORIGINS":   "https://a.example.com,https://b.example.com",
				"LOG_LEVEL":              "DEBUG",
				"LOG_FORMAT":             "console",
				"JWT_AUDIENCE":           "flowcore",
				"SERVER_REQUEST_TIMEOUT": "5s",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
				assert.Equal(t, ClaimsProfileOIDC, cfg.Claims.Profile)
				assert.Equal(t, "uid", cfg.Claims.UserIDClaim)
				assert.Equal(t, "role", cfg.Claims.AdminClaim)
				assert.Equal(t, `"admin"`, cfg.Claims.AdminValue)
				assert.Equal(t, []string{"tenant", "org"}, cfg.Claims.RequiredClaims)
				assert.Equal(t, "sqlite", cfg.Cache.Backend)
				assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
				assert.Equal(t, "file:decisions.db", cfg.Cache.SQLiteDSN)
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "flowcore", cfg.Auth.Audience)
			},
		},
		{
			name: "unknown cache backend",
			envVars: map[string]string{
				"CACHE_BACKEND": "redis",
			},
			wantErr: true,
		},
		{
			name: "invalid claims profile",
			envVars: map[string]string{
				"CLAIMS_PROFILE": "cognito",
			},
			wantErr: true,
		},
		{
			name: "production requires https",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
				"IAM_URL":     "http://iam.internal",
			},
			wantErr: true,
		},
		{
			name: "production with defaults",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	cfg := &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
			RequestTimeout:  time.Second,
		},
		Auth: AuthConfig{
			JWKSURL:      DefaultJWKSURL,
			APIKeyURL:    DefaultAPIKeyURL,
			IAMURL:       DefaultIAMURL,
			HTTPTimeout:  time.Second,
			JWKSCooldown: time.Second,
			JWKSMaxAge:   time.Minute,
		},
		Claims: ClaimsConfig{Profile: ClaimsProfileFlowcore},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           time.Minute,
			SweepInterval: time.Second,
		},
		Observability: ObservabilityConfig{LogLevel: "info", LogFormat: "json"},
	}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		wantField string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:      "missing jwks url",
			mutate:    func(c *Config) { c.Auth.JWKSURL = "" },
			wantErr:   true,
			wantField: "Config.Auth.JWKSURL",
		},
		{
			name:      "zero cache ttl",
			mutate:    func(c *Config) { c.Cache.TTL = 0 },
			wantErr:   true,
			wantField: "Config.Cache.TTL",
		},
		{
			name:      "bad log format",
			mutate:    func(c *Config) { c.Observability.LogFormat = "text" },
			wantErr:   true,
			wantField: "Config.Observability.LogFormat",
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			wantField: "Config.Server.Port",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.KeyFile = "key.pem"
			},
			wantErr: true,
		},
		{
			name: "oidc without user id claim",
			mutate: func(c *Config) {
				c.Claims.Profile = ClaimsProfileOIDC
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantField != "" {
				assert.Contains(t, utils.GetValidationFields(err), tt.wantField)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	for env, want := range map[string]bool{"production": true, "prod": true, "staging": false, "development": false} {
		assert.Equal(t, want, (&Config{Environment: env}).IsProduction(), env)
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	for env, want := range map[string]bool{"development": true, "dev": true, "production": false} {
		assert.Equal(t, want, (&Config{Environment: env}).IsDevelopment(), env)
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("TEST_LIST", " a ,b,, c ")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsList("TEST_LIST", nil))

	t.Setenv("TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, getEnvAsList("TEST_LIST", []string{"x"}))
}

func TestGetEnvAsIntAndBool(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "false")
	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 1))
	assert.False(t, getEnvAsBool("TEST_BOOL", true))

	t.Setenv("TEST_INT", "many")
	t.Setenv("TEST_BOOL", "maybe")
	assert.Equal(t, 1, getEnvAsInt("TEST_INT", 1))
	assert.True(t, getEnvAsBool("TEST_BOOL", true))
}
