package models

// AuthKind identifies how a caller presented its credential
type AuthKind string

const (
	AuthKindBearer AuthKind = "bearer"
	AuthKindAPIKey AuthKind = "apiKey"
)

// AllAuthKinds is the default set of accepted credential kinds
var AllAuthKinds = []AuthKind{AuthKindBearer, AuthKindAPIKey}

// PrincipalType is the path segment the policy service uses for a principal
type PrincipalType string

const (
	PrincipalUsers PrincipalType = "users"
	PrincipalKeys  PrincipalType = "keys"
)

// Credential is the parsed value of an Authorization header.
// Token is set for bearer credentials; KeyID and Secret for API keys.
type Credential struct {
	Kind   AuthKind
	Token  string
	KeyID  string
	Secret string
}

// Identity is the authenticated caller of a request
type Identity struct {
	Kind    AuthKind `json:"type"`
	ID      string   `json:"id"`
	Email   string   `json:"email,omitempty"`
	IsAdmin bool     `json:"isFlowcoreAdmin"`
}

// NewUserIdentity creates an identity for a verified bearer token
func NewUserIdentity(id, email string, isAdmin bool) *Identity {
	return &Identity{
		Kind:    AuthKindBearer,
		ID:      id,
		Email:   email,
		IsAdmin: isAdmin,
	}
}

// NewAPIKeyIdentity creates an identity for a validated API key.
// API keys are never administrators.
func NewAPIKeyIdentity(keyID string) *Identity {
	return &Identity{
		Kind: AuthKindAPIKey,
		ID:   keyID,
	}
}

// IsUser reports whether the identity came from a bearer token
func (i *Identity) IsUser() bool {
	return i.Kind == AuthKindBearer
}

// PrincipalType returns the policy-service principal type for the identity
func (i *Identity) PrincipalType() PrincipalType {
	if i.Kind == AuthKindAPIKey {
		return PrincipalKeys
	}
	return PrincipalUsers
}

// EntityType returns the short entity label used in logs
func (i *Identity) EntityType() string {
	if i.Kind == AuthKindAPIKey {
		return "key"
	}
	return "user"
}

// AllowsKind reports whether kind is in kinds. An empty list allows every kind.
func AllowsKind(kinds []AuthKind, kind AuthKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
