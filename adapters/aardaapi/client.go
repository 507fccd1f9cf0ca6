// Package aardaapi fetches API credentials and the character roster over HTTP.
package aardaapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
)

const (
	defaultTimeout = 15 * time.Second

	// Error bodies are kept for diagnostics up to this size.
	maxErrorBody = 4 * 1024
)

// Config holds configuration for the API client
// Required fields:
// - BaseURL: the HTTP API root, e.g. "https://api.aarda.ai"
// Optional fields with defaults:
// - Timeout: per-request timeout (default: 15s)
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// TokenResponse is the body returned by POST /token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned error %d: %s", e.StatusCode, e.Body)
}

// Client implements repositories.APIClient
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure Client implements the APIClient interface
var _ repositories.APIClient = (*Client)(nil)

// NewClient creates a new API client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// FetchAPIKey exchanges username and password for an access token
func (c *Client) FetchAPIKey(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	endpoint := c.baseURL + "/token"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	var token TokenResponse
	if err := c.do(httpReq, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response does not contain an access_token")
	}

	c.logger.Info("Fetched API key",
		zap.String("username", username),
		zap.String("tokenType", token.TokenType))
	return token.AccessToken, nil
}

// FetchCharacters retrieves the project's character roster
func (c *Client) FetchCharacters(ctx context.Context, apiKey string) ([]entities.Character, error) {
	endpoint := c.baseURL + "/project/characters"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Accept", "application/json")

	var characters []entities.Character
	if err := c.do(httpReq, &characters); err != nil {
		return nil, err
	}

	c.logger.Info("Fetched characters", zap.Int("count", len(characters)))
	return characters, nil
}

func (c *Client) do(httpReq *http.Request, out interface{}) error {
	c.logger.Debug("Sending request to API",
		zap.String("method", httpReq.Method),
		zap.String("url", httpReq.URL.String()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}

	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
