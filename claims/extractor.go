package claims

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/apiauth/services"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaimType is returned when a claim has an unexpected type
	ErrInvalidClaimType = errors.New("invalid claim type")

	// ErrSchemaViolation is returned when a payload does not match the configured JSON schema
	ErrSchemaViolation = errors.New("payload does not match schema")
)

// Extractor maps a verified token payload onto identity fields.
// Subject failures that should surface with a specific message return an
// unauthorized services.DomainError.
type Extractor interface {
	Subject(claims jwt.MapClaims) (string, error)
	Email(claims jwt.MapClaims) string
	IsAdmin(claims jwt.MapClaims) bool
}

// PayloadValidator is implemented by extractors that check the payload shape
// before any field is extracted
type PayloadValidator interface {
	ValidatePayload(claims jwt.MapClaims) error
}

// Validate runs the extractor's payload validation when it has one
func Validate(extractor Extractor, claims jwt.MapClaims) error {
	if v, ok := extractor.(PayloadValidator); ok {
		return v.ValidatePayload(claims)
	}
	return nil
}

func missingClaim(message, claim string) error {
	return services.NewUnauthorized(message, fmt.Errorf("%w: %s", ErrMissingClaim, claim))
}

// stringClaim returns the claim as a string, or "" when absent or not a string
func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
