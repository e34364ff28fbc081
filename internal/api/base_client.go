package api

import (
	"context"
	"net/http"
)

const (
	// MaxConcurrentRequests limits concurrent API requests to avoid overwhelming the API
	MaxConcurrentRequests = 5
	// DefaultPageSize is the number of search results requested per call
	DefaultPageSize = 30
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// BaseClient contains common fields and functionality for API clients.
type BaseClient struct {
	BaseURL    string
	Token      string
	HTTPClient HTTPClient
	Semaphore  chan struct{} // Limits concurrent requests
}

// NewBaseClient creates a new base client with a concurrency limit.
func NewBaseClient(config ClientConfig, httpClient HTTPClient) *BaseClient {
	limit := config.MaxConcurrentRequests
	if limit <= 0 {
		limit = MaxConcurrentRequests
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &BaseClient{
		BaseURL:    config.BaseURL,
		Token:      config.Token,
		HTTPClient: httpClient,
		Semaphore:  make(chan struct{}, limit),
	}
}

// DoRateLimited runs fn once a semaphore slot is free.
// Returns ctx.Err() if the context ends while waiting.
func (c *BaseClient) DoRateLimited(ctx context.Context, fn func() error) error {
	select {
	case c.Semaphore <- struct{}{}:
		defer func() { <-c.Semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	return fn()
}
