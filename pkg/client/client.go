package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Client is a Go SDK for the screening-engine admin API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new screening-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error response of the API
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s - %s", e.Status, e.Code, e.Message)
}

// SessionList is the response of ListSessions
type SessionList struct {
	Sessions []*models.Session `json:"sessions"`
	Total    int               `json:"total"`
	Pending  []int64           `json:"pending"`
}

// ListTests retrieves all loaded tests
func (c *Client) ListTests(ctx context.Context) ([]models.TestInfo, error) {
	var data struct {
		Tests []models.TestInfo `json:"tests"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/tests", &data); err != nil {
		return nil, err
	}
	return data.Tests, nil
}

// GetTest retrieves a full test definition
func (c *Client) GetTest(ctx context.Context, id string) (*models.TestDefinition, error) {
	var def models.TestDefinition
	if err := c.call(ctx, http.MethodGet, "/api/v1/tests/"+id, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ReloadTest reloads a test from the question bank
func (c *Client) ReloadTest(ctx context.Context, id string) (*models.TestInfo, error) {
	var info models.TestInfo
	if err := c.call(ctx, http.MethodPost, "/api/v1/tests/"+id+"/reload", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions retrieves all live sessions
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	var list SessionList
	if err := c.call(ctx, http.MethodGet, "/api/v1/sessions", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetSession retrieves a user's session
func (c *Client) GetSession(ctx context.Context, userID int64) (*models.Session, error) {
	var s models.Session
	if err := c.call(ctx, http.MethodGet, "/api/v1/sessions/"+strconv.FormatInt(userID, 10), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a user's session
func (c *Client) DeleteSession(ctx context.Context, userID int64) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/sessions/"+strconv.FormatInt(userID, 10), nil)
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil)
}

// Ready checks if the service and its dependencies are ready
func (c *Client) Ready(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/ready", nil)
}

// call performs a request and decodes the data field of the response into out
func (c *Client) call(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "invalid_response", Message: string(body)}
	}

	if resp.StatusCode >= 400 || !result.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(result.Error, apiErr); err != nil {
			// auth errors carry the code as a plain string
			json.Unmarshal(result.Error, &apiErr.Code)
			apiErr.Message = result.Message
		}
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
