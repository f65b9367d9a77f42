package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/apiauth/models"
)

// ErrPolicyServiceUnavailable is returned when the policy service cannot produce a decision
var ErrPolicyServiceUnavailable = errors.New("policy service unavailable")

const (
	defaultHTTPTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
)

// PolicyClient asks the remote policy service for a decision
type PolicyClient interface {
	Validate(ctx context.Context, principal models.PrincipalType, id string, mode models.EvaluationMode, requests []models.PermissionRequest) (*models.PolicyDecision, error)
}

// IAMConfig holds configuration for IAMClient
type IAMConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

// IAMClient is the HTTP PolicyClient
type IAMClient struct {
	baseURL    string
	httpClient *http.Client
}

type validateRequest struct {
	Mode            models.EvaluationMode      `json:"mode"`
	RequestedAccess []models.PermissionRequest `json:"requestedAccess"`
}

// NewIAMClient creates a new policy service client
func NewIAMClient(config IAMConfig) *IAMClient {
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = defaultHTTPTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &IAMClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// Validate posts the requested access for a principal. A denial is a decision,
// not an error; errors mean no decision could be obtained.
func (c *IAMClient) Validate(ctx context.Context, principal models.PrincipalType, id string, mode models.EvaluationMode, requests []models.PermissionRequest) (*models.PolicyDecision, error) {
	reqBody, err := json.Marshal(validateRequest{Mode: mode, RequestedAccess: requests})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/validate/%s/%s", c.baseURL, principal, url.PathEscape(id))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyServiceUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrPolicyServiceUnavailable, err)
	}

	var decision models.PolicyDecision
	decodeErr := json.Unmarshal(respBody, &decision)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// An explicit {"valid": false} is honoured whatever the status
		if decodeErr == nil && isExplicitDenial(respBody) {
			return &decision, nil
		}
		return nil, fmt.Errorf("%w: status code %d", ErrPolicyServiceUnavailable, httpResp.StatusCode)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPolicyServiceUnavailable, decodeErr)
	}

	return &decision, nil
}

func isExplicitDenial(body []byte) bool {
	var explicit struct {
		Valid *bool `json:"valid"`
	}
	if err := json.Unmarshal(body, &explicit); err != nil {
		return false
	}
	return explicit.Valid != nil && !*explicit.Valid
}
