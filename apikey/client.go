package apikey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRejected is returned when the validation service reports the key as invalid
	ErrRejected = errors.New("api key rejected")

	// ErrUnavailable is returned when the validation service cannot be reached or answers with an error
	ErrUnavailable = errors.New("api key validation unavailable")
)

const (
	validatePath       = "/validate-organization-api-key"
	defaultHTTPTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
)

// Config holds configuration for Client
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

// Client validates organization API keys against the remote key service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ValidateRequest is the body sent to the validation endpoint
type ValidateRequest struct {
	APIKeyID string `json:"apiKeyId"`
	APIKey   string `json:"apiKey"`
}

// ValidateResponse is the validation endpoint's verdict
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	KeyID string `json:"keyId"`
}

// NewClient creates a new API key validation client
func NewClient(config Config) *Client {
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = defaultHTTPTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// Validate asks the key service whether keyID/secret is a valid pair and
// returns the key id the service resolved it to
func (c *Client) Validate(ctx context.Context, keyID, secret string) (string, error) {
	reqBody, err := json.Marshal(ValidateRequest{APIKeyID: keyID, APIKey: secret})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status code %d", ErrUnavailable, httpResp.StatusCode)
	}

	var result ValidateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if !result.Valid {
		return "", ErrRejected
	}
	if result.KeyID == "" {
		return "", fmt.Errorf("%w: response carries no keyId", ErrRejected)
	}

	return result.KeyID, nil
}
