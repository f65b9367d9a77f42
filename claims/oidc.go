package claims

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-bexpr"
)

// OIDCConfig describes a standard OIDC claim layout
type OIDCConfig struct {
	UserIDClaim string
	EmailClaim  string

	// AdminClaim marks admins whose claim equals AdminValue.
	// AdminExpression, when set, takes precedence and is evaluated with go-bexpr
	// against the whole payload, e.g. `"admin" in realm_access.roles`.
	AdminClaim      string
	AdminValue      interface{}
	AdminExpression string

	RequiredClaims []string
}

// OIDC extracts identity fields from configurable claim names
type OIDC struct {
	config    OIDCConfig
	evaluator *bexpr.Evaluator
}

// NewOIDC creates an OIDC extractor, compiling the admin expression if one is configured
func NewOIDC(config OIDCConfig) (*OIDC, error) {
	if config.UserIDClaim == "" {
		config.UserIDClaim = "sub"
	}
	if config.EmailClaim == "" {
		config.EmailClaim = "email"
	}
	if config.AdminValue == nil {
		config.AdminValue = true
	}

	o := &OIDC{config: config}
	if expr := strings.TrimSpace(config.AdminExpression); expr != "" {
		evaluator, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid admin expression: %w", err)
		}
		o.evaluator = evaluator
	}
	return o, nil
}

// ValidatePayload checks that every required claim is present
func (o *OIDC) ValidatePayload(claims jwt.MapClaims) error {
	for _, claim := range o.config.RequiredClaims {
		if _, ok := claims[claim]; !ok {
			return missingClaim("Missing required claim: "+claim, claim)
		}
	}
	return nil
}

// Subject returns the configured user id claim, which must be a non-empty string
func (o *OIDC) Subject(claims jwt.MapClaims) (string, error) {
	id := stringClaim(claims, o.config.UserIDClaim)
	if id == "" {
		return "", missingClaim(fmt.Sprintf("Missing or invalid %s in JWT payload", o.config.UserIDClaim), o.config.UserIDClaim)
	}
	return id, nil
}

// Email returns the configured email claim when it is a string
func (o *OIDC) Email(claims jwt.MapClaims) string {
	return stringClaim(claims, o.config.EmailClaim)
}

// IsAdmin evaluates the admin expression or compares the admin claim.
// Evaluation errors (e.g. a missing selector) mean not admin.
func (o *OIDC) IsAdmin(claims jwt.MapClaims) bool {
	if o.evaluator != nil {
		matches, err := o.evaluator.Evaluate(map[string]interface{}(claims))
		if err != nil {
			return false
		}
		return matches
	}
	if o.config.AdminClaim == "" {
		return false
	}
	value, ok := claims[o.config.AdminClaim]
	if !ok {
		return false
	}
	return reflect.DeepEqual(value, o.config.AdminValue)
}

// ParseClaimValue interprets a configured admin value the way it would appear
// in a decoded token: JSON scalars become bool/float64/string, anything else
// is kept as the raw string.
func ParseClaimValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case bool, float64, string:
		return v
	default:
		return raw
	}
}
