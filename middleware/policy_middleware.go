package middleware

import (
	"net/http"

	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services/authz"
)

// PermissionsFunc computes the permission requests for a request.
// identity is nil for anonymous callers.
type PermissionsFunc func(r *http.Request, identity *models.Identity) []models.PermissionRequest

// StaticPermissions returns a PermissionsFunc that always requires requests
func StaticPermissions(requests ...models.PermissionRequest) PermissionsFunc {
	return func(*http.Request, *models.Identity) []models.PermissionRequest {
		return requests
	}
}

// enforcePermissions authorizes the route's permission requests. Routes
// without permissions, or whose callback yields none, pass untouched.
func (m *AuthMiddleware) enforcePermissions(r *http.Request, identity *models.Identity, route RouteAuth) error {
	if route.Permissions == nil {
		return nil
	}

	requests := route.Permissions(r, identity)
	if len(requests) == 0 {
		return nil
	}

	if err := requireIdentity(identity); err != nil {
		return err
	}

	mode := route.Mode
	if mode == "" {
		mode = models.ModeOrganization
	}

	return m.authorizer.Authorize(r.Context(), identity, requests, authz.Options{
		Mode:       mode,
		AllowAdmin: route.AllowAdmin,
	})
}
