package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/apiauth/utils"
)

// Claim profiles
const (
	ClaimsProfileFlowcore = "flowcore"
	ClaimsProfileOIDC     = "oidc"
)

const (
	DefaultJWKSURL   = "https://auth.flowcore.io/realms/flowcore/protocol/openid-connect/certs"
	DefaultAPIKeyURL = "https://security-key.api.flowcore.io"
	DefaultIAMURL    = "https://iam.api.flowcore.io"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Claims        ClaimsConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"gt=0,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// RequestTimeout bounds each request, including outbound auth calls
	RequestTimeout time.Duration `validate:"gt=0"`
	AllowedOrigins []string
	TLS            struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// AuthConfig holds the remote services used to authenticate and authorize callers
type AuthConfig struct {
	JWKSURL   string `validate:"required,url"`
	APIKeyURL string `validate:"required,url"`
	IAMURL    string `validate:"required,url"`

	HTTPTimeout time.Duration `validate:"gt=0"`

	// Issuer and Audience are only enforced when set
	Issuer   string
	Audience string

	JWKSCooldown time.Duration `validate:"gt=0"`
	JWKSMaxAge   time.Duration `validate:"gt=0"`
	JWKSLeeway   time.Duration `validate:"gte=0"`
}

// ClaimsConfig selects how identities are read from token payloads
type ClaimsConfig struct {
	Profile string `validate:"required,oneof=flowcore oidc"`

	// OIDC profile settings
	UserIDClaim     string
	EmailClaim      string
	AdminClaim      string
	AdminValue      string
	AdminExpression string
	RequiredClaims  []string

	// PayloadSchemaFile is an optional JSON Schema every token payload must satisfy
	PayloadSchemaFile string
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Enabled       bool
	Backend       string        `validate:"required,oneof=memory sqlite"`
	TTL           time.Duration `validate:"gt=0"`
	MaxEntries    int           `validate:"gte=0"`
	SweepInterval time.Duration `validate:"gt=0"`
	SQLiteDSN     string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"required,oneof=debug info warn error"`
	LogFormat string `validate:"required,oneof=json console"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Auth: AuthConfig{
			JWKSURL:      getEnv("JWKS_URL", DefaultJWKSURL),
			APIKeyURL:    getEnv("API_KEY_VALIDATION_URL", DefaultAPIKeyURL),
			IAMURL:       getEnv("IAM_URL", DefaultIAMURL),
			HTTPTimeout:  getEnvAsDuration("AUTH_HTTP_TIMEOUT", 10*time.Second),
			Issuer:       getEnv("JWT_ISSUER", ""),
			Audience:     getEnv("JWT_AUDIENCE", ""),
			JWKSCooldown: getEnvAsDuration("JWKS_COOLDOWN", 30*time.Second),
			JWKSMaxAge:   getEnvAsDuration("JWKS_MAX_AGE", 10*time.Minute),
			JWKSLeeway:   getEnvAsDuration("JWKS_LEEWAY", 0),
		},
		Claims: ClaimsConfig{
			Profile:           strings.ToLower(getEnv("CLAIMS_PROFILE", ClaimsProfileFlowcore)),
			UserIDClaim:       getEnv("OIDC_USER_ID_CLAIM", "sub"),
			EmailClaim:        getEnv("OIDC_EMAIL_CLAIM", "email"),
			AdminClaim:        getEnv("OIDC_ADMIN_CLAIM", ""),
			AdminValue:        getEnv("OIDC_ADMIN_VALUE", "true"),
			AdminExpression:   getEnv("OIDC_ADMIN_EXPRESSION", ""),
			RequiredClaims:    getEnvAsList("OIDC_REQUIRED_CLAIMS", nil),
			PayloadSchemaFile: getEnv("JWT_PAYLOAD_SCHEMA_FILE", ""),
		},
		Cache: CacheConfig{
			Enabled:       getEnvAsBool("CACHE_ENABLED", true),
			Backend:       strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
			TTL:           getEnvAsDuration("CACHE_TTL", 60*time.Second),
			MaxEntries:    getEnvAsInt("CACHE_MAX_ENTRIES", 0),
			SweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", 30*time.Second),
			SQLiteDSN:     getEnv("CACHE_SQLITE_DSN", ":memory:"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints and the rules that span fields
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if c.Claims.Profile == ClaimsProfileOIDC && c.Claims.UserIDClaim == "" {
		return fmt.Errorf("user id claim is required for the oidc claims profile")
	}

	// Remote auth services must be reached over TLS in production
	if c.IsProduction() {
		for name, raw := range map[string]string{
			"JWKS_URL":               c.Auth.JWKSURL,
			"API_KEY_VALIDATION_URL": c.Auth.APIKeyURL,
			"IAM_URL":                c.Auth.IAMURL,
		} {
			u, err := url.Parse(raw)
			if err != nil || u.Scheme != "https" {
				return fmt.Errorf("%s must use https in production", name)
			}
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated variable, dropping blank entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
