package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services"
	"github.com/upb/apiauth/services/authz"
	"github.com/upb/apiauth/utils"
	"go.uber.org/zap"
)

// Authenticator resolves the Authorization header into an identity
type Authenticator interface {
	Authenticate(ctx context.Context, header string, allowed []models.AuthKind) (*models.Identity, error)
}

// Authorizer checks permission requests for an identity
type Authorizer interface {
	Authorize(ctx context.Context, identity *models.Identity, requests []models.PermissionRequest, opts authz.Options) error
}

// RouteAuth is the per-route authentication and authorization setting
type RouteAuth struct {
	// Optional lets anonymous requests through when no permissions are required
	Optional bool
	// Types limits the accepted credential kinds; empty accepts all
	Types []models.AuthKind
	Mode  models.EvaluationMode
	// AllowAdmin lets administrator users skip the permission check
	AllowAdmin  bool
	Permissions PermissionsFunc
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	authenticator Authenticator
	authorizer    Authorizer
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator Authenticator, authorizer Authorizer, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		authorizer:    authorizer,
		logger:        logger,
	}
}

// Protect authenticates the request, enforces the route's permissions and
// finally rejects anonymous callers unless the route is optional.
// The identity, when resolved, is stored in the request context.
func (m *AuthMiddleware) Protect(route RouteAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			identity, err := m.authenticator.Authenticate(ctx, r.Header.Get("Authorization"), route.Types)
			if err != nil {
				m.logger.Warn("authentication failed",
					zap.String("request_id", requestID),
					zap.Error(err))
				utils.WriteError(w, err, m.logger)
				return
			}
			if identity != nil {
				ctx = WithIdentity(ctx, identity)
				r = r.WithContext(ctx)
			}

			if err := m.enforcePermissions(r, identity, route); err != nil {
				m.logger.Info("request not authorized",
					zap.String("request_id", requestID),
					zap.Error(err))
				utils.WriteError(w, err, m.logger)
				return
			}

			if !route.Optional && identity == nil {
				m.logger.Warn("missing credentials",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "")
				return
			}

			if identity != nil {
				m.logger.Debug("request authenticated",
					zap.String("request_id", requestID),
					zap.String("entity_type", identity.EntityType()),
					zap.String("principal_id", identity.ID))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// errNoIdentity is returned when a route requires permissions but no credential was presented
var errNoIdentity = errors.New("permissions required but no identity resolved")

func requireIdentity(identity *models.Identity) error {
	if identity == nil {
		return services.NewUnauthorized("", errNoIdentity)
	}
	return nil
}
