package app

import (
	"context"
	"fmt"

	"github.com/upb/apiauth/apikey"
	"github.com/upb/apiauth/claims"
	"github.com/upb/apiauth/config"
	"github.com/upb/apiauth/jwks"
	"github.com/upb/apiauth/middleware"
	"github.com/upb/apiauth/services/authn"
	"github.com/upb/apiauth/services/authz"
	"github.com/upb/apiauth/services/decisioncache"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Authentication
	Verifier      *jwks.Verifier
	APIKeys       *apikey.Client
	Extractor     claims.Extractor
	Authenticator *authn.Authenticator

	// Authorization. DecisionCache is nil when caching is disabled.
	DecisionCache decisioncache.Store
	Policies      authz.PolicyClient
	Authorizer    *authz.Authorizer

	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initAuthentication(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}

	if err := deps.initAuthorization(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize authorization: %w", err)
	}

	deps.AuthMiddleware = middleware.NewAuthMiddleware(deps.Authenticator, deps.Authorizer, logger)

	logger.Info("all dependencies initialized successfully",
		zap.String("claims_profile", cfg.Claims.Profile),
		zap.Bool("decision_cache", deps.DecisionCache != nil))
	return deps, nil
}

// initAuthentication builds the token verifier, API key client and claim extractor
func (d *Dependencies) initAuthentication(cfg *config.Config) error {
	d.Verifier = jwks.NewVerifier(jwks.Config{
		URL:         cfg.Auth.JWKSURL,
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		CacheMaxAge: cfg.Auth.JWKSMaxAge,
		Cooldown:    cfg.Auth.JWKSCooldown,
		Leeway:      cfg.Auth.JWKSLeeway,
		HTTPTimeout: cfg.Auth.HTTPTimeout,
	})

	d.APIKeys = apikey.NewClient(apikey.Config{
		BaseURL:     cfg.Auth.APIKeyURL,
		HTTPTimeout: cfg.Auth.HTTPTimeout,
	})

	extractor, err := NewExtractor(cfg.Claims)
	if err != nil {
		return err
	}
	d.Extractor = extractor

	d.Authenticator = authn.NewAuthenticator(d.Verifier, d.APIKeys, d.Extractor, d.Logger)

	d.Logger.Info("authentication initialized",
		zap.String("jwks_url", cfg.Auth.JWKSURL),
		zap.String("api_key_url", cfg.Auth.APIKeyURL))
	return nil
}

// initAuthorization builds the decision cache, policy client and authorizer
func (d *Dependencies) initAuthorization(cfg *config.Config) error {
	if cfg.Cache.Enabled {
		store, err := decisioncache.New(decisioncache.Config{
			Backend:       cfg.Cache.Backend,
			TTL:           cfg.Cache.TTL,
			MaxEntries:    cfg.Cache.MaxEntries,
			SweepInterval: cfg.Cache.SweepInterval,
			SQLiteDSN:     cfg.Cache.SQLiteDSN,
		}, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create decision cache: %w", err)
		}
		d.DecisionCache = store
	} else {
		d.Logger.Warn("decision cache disabled, every authorization calls IAM")
	}

	d.Policies = authz.NewIAMClient(authz.IAMConfig{
		BaseURL:     cfg.Auth.IAMURL,
		HTTPTimeout: cfg.Auth.HTTPTimeout,
	})
	d.Authorizer = authz.NewAuthorizer(d.Policies, d.DecisionCache, d.Logger)

	d.Logger.Info("authorization initialized",
		zap.String("iam_url", cfg.Auth.IAMURL),
		zap.String("cache_backend", cfg.Cache.Backend))
	return nil
}

// NewExtractor builds the claim extractor for the configured profile,
// wrapped with payload schema validation when a schema file is set
func NewExtractor(cfg config.ClaimsConfig) (claims.Extractor, error) {
	var extractor claims.Extractor
	switch cfg.Profile {
	case "", config.ClaimsProfileFlowcore:
		extractor = claims.NewFlowcore()
	case config.ClaimsProfileOIDC:
		oidc, err := claims.NewOIDC(claims.OIDCConfig{
			UserIDClaim:     cfg.UserIDClaim,
			EmailClaim:      cfg.EmailClaim,
			AdminClaim:      cfg.AdminClaim,
			AdminValue:      claims.ParseClaimValue(cfg.AdminValue),
			AdminExpression: cfg.AdminExpression,
			RequiredClaims:  cfg.RequiredClaims,
		})
		if err != nil {
			return nil, err
		}
		extractor = oidc
	default:
		return nil, fmt.Errorf("unknown claims profile: %q", cfg.Profile)
	}

	if cfg.PayloadSchemaFile == "" {
		return extractor, nil
	}
	validated, err := claims.LoadSchemaValidated(extractor, cfg.PayloadSchemaFile)
	if err != nil {
		return nil, err
	}
	return validated, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DecisionCache != nil {
		if err := d.DecisionCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close decision cache: %w", err))
		} else {
			d.Logger.Info("decision cache closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
