package models

import (
	"encoding/json"
	"fmt"
)

// EvaluationMode selects how the policy service scopes a request
type EvaluationMode string

const (
	ModeTenant       EvaluationMode = "tenant"
	ModeOrganization EvaluationMode = "organization"
)

// ParseEvaluationMode maps a route setting to a mode. Anything other than
// "tenant" evaluates at organization scope.
func ParseEvaluationMode(s string) EvaluationMode {
	if s == string(ModeTenant) {
		return ModeTenant
	}
	return ModeOrganization
}

// Action holds one or many action names. A single action is encoded as a
// JSON string, several as a JSON array.
type Action []string

// MarshalJSON implements json.Marshaler
func (a Action) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Action) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Action{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("action must be a string or an array of strings: %w", err)
	}
	*a = Action(many)
	return nil
}

// PermissionRequest is a single access check sent to the policy service
type PermissionRequest struct {
	Action   Action   `json:"action" validate:"min=1,dive,required"`
	Resource []string `json:"resource" validate:"min=1,dive,required"`
}

// NewPermissionRequest builds a request for one or more actions on resources
func NewPermissionRequest(resources []string, actions ...string) PermissionRequest {
	return PermissionRequest{
		Action:   Action(actions),
		Resource: resources,
	}
}

// ValidPolicy is a policy statement the policy service matched
type ValidPolicy struct {
	PolicyFrn   string `json:"policyFrn"`
	StatementID string `json:"statementId"`
}

// PolicyDecision is the policy service's answer to a validation request.
// Checksum is set when Valid; InvalidRequest and Message when not.
type PolicyDecision struct {
	Valid          bool                `json:"valid"`
	ValidPolicies  []ValidPolicy       `json:"validPolicies"`
	Checksum       string              `json:"checksum,omitempty"`
	InvalidRequest []PermissionRequest `json:"invalidRequest,omitempty"`
	Message        string              `json:"message,omitempty"`
}
