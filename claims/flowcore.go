package claims

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// FlowcorePayload is the claim layout issued by the Flowcore identity provider
type FlowcorePayload struct {
	UserID  string `mapstructure:"flowcore_user_id"`
	Email   string `mapstructure:"email"`
	IsAdmin bool   `mapstructure:"is_flowcore_admin"`
}

// Flowcore is the default Extractor
type Flowcore struct{}

// NewFlowcore returns the Flowcore claim extractor
func NewFlowcore() Flowcore {
	return Flowcore{}
}

// DecodeFlowcore decodes the Flowcore fields of a payload. Only flowcore_user_id
// must be well typed; a malformed email or admin flag decodes to its zero value.
func DecodeFlowcore(claims jwt.MapClaims) (*FlowcorePayload, error) {
	var payload FlowcorePayload
	subject := map[string]interface{}{"flowcore_user_id": claims["flowcore_user_id"]}
	if err := mapstructure.Decode(subject, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaimType, err)
	}
	payload.Email = stringClaim(claims, "email")
	payload.IsAdmin, _ = claims["is_flowcore_admin"].(bool)
	return &payload, nil
}

// Subject returns flowcore_user_id
func (Flowcore) Subject(claims jwt.MapClaims) (string, error) {
	payload, err := DecodeFlowcore(claims)
	if err != nil {
		return "", err
	}
	if payload.UserID == "" {
		return "", missingClaim("Missing flowcore_user_id in JWT payload", "flowcore_user_id")
	}
	return payload.UserID, nil
}

// Email returns the email claim or "" when it is absent or malformed
func (Flowcore) Email(claims jwt.MapClaims) string {
	return stringClaim(claims, "email")
}

// IsAdmin reports is_flowcore_admin. Anything but a boolean true is false.
func (Flowcore) IsAdmin(claims jwt.MapClaims) bool {
	admin, _ := claims["is_flowcore_admin"].(bool)
	return admin
}
