package authz

import (
	"context"
	"errors"

	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services"
	"github.com/upb/apiauth/services/decisioncache"
	"github.com/upb/apiauth/utils"
	"go.uber.org/zap"
)

const (
	defaultDenialMessage = "IAM validation failed"
	unavailableMessage   = "authorization service unavailable"
)

// Options are the per-route authorization settings
type Options struct {
	Mode models.EvaluationMode
	// AllowAdmin lets administrator users skip the policy check entirely
	AllowAdmin bool
}

// Authorizer checks permission requests against the policy service, remembering grants
type Authorizer struct {
	policies PolicyClient
	cache    decisioncache.Store
	logger   *zap.Logger
}

// NewAuthorizer creates a new Authorizer. cache may be nil to disable caching.
func NewAuthorizer(policies PolicyClient, cache decisioncache.Store, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		policies: policies,
		cache:    cache,
		logger:   logger,
	}
}

// Authorize returns nil when identity may perform every request, otherwise an
// unauthorized or forbidden services.DomainError
func (a *Authorizer) Authorize(ctx context.Context, identity *models.Identity, requests []models.PermissionRequest, opts Options) error {
	if identity == nil {
		return services.NewUnauthorized("", errors.New("authorization requires an identity"))
	}

	if opts.AllowAdmin && identity.IsUser() && identity.IsAdmin {
		a.logger.Debug("admin bypass",
			zap.String("principal_id", identity.ID))
		return nil
	}

	if len(requests) == 0 {
		return nil
	}

	// Malformed requests are built by route code; IAM still makes the call
	for i := range requests {
		if err := utils.ValidateStruct(&requests[i]); err != nil {
			a.logger.Warn("malformed permission request",
				zap.String("principal_id", identity.ID),
				zap.Int("index", i),
				zap.Any("fields", utils.GetValidationFields(err)))
		}
	}

	key := a.cacheKey(identity, requests)
	if key != "" && a.cached(ctx, key) {
		a.logger.Debug("authorization cache hit",
			zap.String("entity_type", identity.EntityType()),
			zap.String("principal_id", identity.ID))
		return nil
	}

	decision, err := a.policies.Validate(ctx, identity.PrincipalType(), identity.ID, opts.Mode, requests)
	if err != nil {
		a.logger.Error("policy service call failed",
			zap.String("entity_type", identity.EntityType()),
			zap.String("principal_id", identity.ID),
			zap.Error(err))
		denied := services.NewForbidden(unavailableMessage, nil, nil)
		denied.Err = err
		return denied
	}

	if !decision.Valid {
		a.logger.Info("IAM validation failed",
			zap.String("entity_type", identity.EntityType()),
			zap.String("principal_id", identity.ID),
			zap.String("message", decision.Message),
			zap.Int("invalid_requests", len(decision.InvalidRequest)))
		message := decision.Message
		if message == "" {
			message = defaultDenialMessage
		}
		return services.NewForbidden(message, decision.ValidPolicies, decision.InvalidRequest)
	}

	a.logger.Debug("IAM validation passed",
		zap.String("entity_type", identity.EntityType()),
		zap.String("principal_id", identity.ID),
		zap.String("checksum", decision.Checksum))

	if key != "" {
		a.remember(ctx, key)
	}

	return nil
}

// cacheKey returns "" when the requests cannot be hashed, which skips the cache
func (a *Authorizer) cacheKey(identity *models.Identity, requests []models.PermissionRequest) string {
	if a.cache == nil {
		return ""
	}
	checksum, err := decisioncache.Checksum(requests)
	if err != nil {
		a.logger.Warn("failed to compute permission checksum", zap.Error(err))
		return ""
	}
	return decisioncache.Key(identity.ID, checksum)
}

func (a *Authorizer) cached(ctx context.Context, key string) bool {
	granted, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("decision cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return granted
}

func (a *Authorizer) remember(ctx context.Context, key string) {
	if err := a.cache.Set(ctx, key); err != nil {
		a.logger.Warn("decision cache write failed", zap.String("key", key), zap.Error(err))
	}
}
