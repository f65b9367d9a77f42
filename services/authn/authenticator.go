package authn

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/apiauth/apikey"
	"github.com/upb/apiauth/claims"
	"github.com/upb/apiauth/jwks"
	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services"
	"go.uber.org/zap"
)

const (
	bearerPrefix = "Bearer "
	apiKeyPrefix = "ApiKey "

	payloadValidationFailed = "JWT payload validation failed"
)

// TokenVerifier verifies a bearer token and returns its payload
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (jwt.MapClaims, error)
}

// KeyValidator validates an API key pair and returns the canonical key id
type KeyValidator interface {
	Validate(ctx context.Context, keyID, secret string) (string, error)
}

// Authenticator resolves an Authorization header into an identity
type Authenticator struct {
	verifier  TokenVerifier
	keys      KeyValidator
	extractor claims.Extractor
	logger    *zap.Logger
}

// NewAuthenticator creates a new Authenticator. A nil extractor selects the Flowcore claim layout.
func NewAuthenticator(verifier TokenVerifier, keys KeyValidator, extractor claims.Extractor, logger *zap.Logger) *Authenticator {
	if extractor == nil {
		extractor = claims.NewFlowcore()
	}
	return &Authenticator{
		verifier:  verifier,
		keys:      keys,
		extractor: extractor,
		logger:    logger,
	}
}

// ParseCredential parses an Authorization header value for the allowed kinds.
// An empty allowed list accepts every kind.
func ParseCredential(header string, allowed []models.AuthKind) (*models.Credential, error) {
	switch {
	case strings.HasPrefix(header, bearerPrefix) && models.AllowsKind(allowed, models.AuthKindBearer):
		return &models.Credential{
			Kind:  models.AuthKindBearer,
			Token: strings.TrimPrefix(header, bearerPrefix),
		}, nil

	case strings.HasPrefix(header, apiKeyPrefix) && models.AllowsKind(allowed, models.AuthKindAPIKey):
		keyID, secret, ok := strings.Cut(strings.TrimPrefix(header, apiKeyPrefix), ":")
		if !ok || keyID == "" || secret == "" {
			return nil, services.NewUnauthorized("", errors.New("malformed api key credential"))
		}
		return &models.Credential{
			Kind:   models.AuthKindAPIKey,
			KeyID:  keyID,
			Secret: secret,
		}, nil
	}

	return nil, services.NewUnauthorized("", errors.New("unsupported or disallowed authorization scheme"))
}

// Authenticate returns the caller's identity, nil when no header was supplied,
// or an unauthorized error
func (a *Authenticator) Authenticate(ctx context.Context, header string, allowed []models.AuthKind) (*models.Identity, error) {
	if header == "" {
		return nil, nil
	}

	credential, err := ParseCredential(header, allowed)
	if err != nil {
		a.logger.Warn("authorization header rejected", zap.Error(err))
		return nil, err
	}

	switch credential.Kind {
	case models.AuthKindBearer:
		return a.authenticateBearer(ctx, credential.Token)
	default:
		return a.authenticateAPIKey(ctx, credential.KeyID, credential.Secret)
	}
}

func (a *Authenticator) authenticateBearer(ctx context.Context, token string) (*models.Identity, error) {
	payload, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.Warn("bearer token verification failed", zap.Error(err))
		return nil, services.NewUnauthorized(verificationMessage(err), err)
	}

	if err := claims.Validate(a.extractor, payload); err != nil {
		return nil, a.payloadError(err)
	}

	id, err := a.extractor.Subject(payload)
	if err != nil {
		return nil, a.payloadError(err)
	}

	identity := models.NewUserIdentity(id, a.extractor.Email(payload), a.extractor.IsAdmin(payload))

	a.logger.Debug("bearer token authenticated",
		zap.String("principal_id", identity.ID),
		zap.Bool("is_admin", identity.IsAdmin))

	return identity, nil
}

// payloadError keeps unauthorized claim errors as they are and hides everything else
func (a *Authenticator) payloadError(err error) error {
	if services.IsUnauthorizedError(err) {
		a.logger.Warn("bearer token claims rejected", zap.Error(err))
		return err
	}
	a.logger.Error("bearer token payload validation failed", zap.Error(err))
	return services.NewUnauthorized(payloadValidationFailed, err)
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, keyID, secret string) (*models.Identity, error) {
	resolvedID, err := a.keys.Validate(ctx, keyID, secret)
	if err != nil {
		if errors.Is(err, apikey.ErrUnavailable) {
			a.logger.Error("api key validation unavailable",
				zap.String("api_key_id", keyID),
				zap.Error(err))
		} else {
			a.logger.Warn("api key rejected",
				zap.String("api_key_id", keyID),
				zap.Error(err))
		}
		return nil, services.NewUnauthorized("", err)
	}

	a.logger.Debug("api key authenticated",
		zap.String("api_key_id", keyID),
		zap.String("principal_id", resolvedID))

	return models.NewAPIKeyIdentity(resolvedID), nil
}

func verificationMessage(err error) string {
	switch {
	case errors.Is(err, jwks.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwks.ErrJWKSFetchFailed), errors.Is(err, jwks.ErrKeyNotFound):
		return "Unable to verify token signature"
	default:
		return "Invalid token"
	}
}
