package handlers

import (
	"net/http"

	"github.com/upb/apiauth/middleware"
	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/utils"
)

// WhoAmIResponse is the response body for GET /api/v1/whoami
type WhoAmIResponse struct {
	Authenticated bool             `json:"authenticated"`
	Identity      *models.Identity `json:"identity,omitempty"`
	RequestID     string           `json:"requestId,omitempty"`
}

// HandleWhoAmI returns the identity resolved for the request, if any
func HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	_ = utils.WriteOK(w, WhoAmIResponse{
		Authenticated: identity != nil,
		Identity:      identity,
		RequestID:     middleware.GetRequestIDFromContext(r.Context()),
	})
}

// HandleNotFound renders unknown routes as a JSON 404
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotFound(w, "Route not found")
}

// HandleMethodNotAllowed renders a JSON 405
func HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
		Status:  http.StatusMethodNotAllowed,
		Code:    "METHOD_NOT_ALLOWED",
		Message: "Method not allowed",
	})
}
