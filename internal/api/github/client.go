package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/api"
	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/metrics"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 512

// Endpoint labels for metrics and logs.
const (
	endpointUsers     = "users"
	endpointSearch    = "search_users"
	endpointFollowing = "following"
)

// Client implements api.FollowClient for the GitHub REST API.
// Only handles GitHub API communication; caching lives in api.DedupClient.
type Client struct {
	base    *api.BaseClient
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new GitHub client.
// Uses dependency injection for HTTPClient so tests can stub responses.
func NewClient(config api.ClientConfig, httpClient api.HTTPClient, opts ...Option) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c := &Client{
		base:   api.NewBaseClient(config, httpClient),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProfile retrieves a single user by login.
func (c *Client) FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error) {
	if strings.TrimSpace(login) == "" {
		return nil, domain.ErrEmptyQuery
	}

	endpoint := fmt.Sprintf("%s/users/%s", c.base.BaseURL, url.PathEscape(login))

	var user githubUser
	if err := c.getJSON(ctx, endpointUsers, endpoint, &user); err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", login, err)
	}

	return user.toDomain(), nil
}

// SearchUsers retrieves users whose login matches query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	endpoint := fmt.Sprintf("%s/search/users?q=%s&per_page=%d",
		c.base.BaseURL, url.QueryEscape(query), api.DefaultPageSize)

	var response githubSearchResponse
	if err := c.getJSON(ctx, endpointSearch, endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	suggestions := make([]domain.Suggestion, 0, len(response.Items))
	for _, item := range response.Items {
		suggestions = append(suggestions, domain.Suggestion{
			Login:     item.Login,
			AvatarURL: item.AvatarURL,
		})
	}
	return suggestions, nil
}

// CheckFollowing reports whether the token owner follows login.
// 204 means following, 404 means not following; anything else is an error.
func (c *Client) CheckFollowing(ctx context.Context, login string) (bool, error) {
	status, body, err := c.send(ctx, http.MethodGet, endpointFollowing, c.followingURL(login))
	if err != nil {
		return false, fmt.Errorf("failed to check follow status: %w", err)
	}

	switch status {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check follow status: %w", &domain.APIError{StatusCode: status, Body: body})
	}
}

// Follow starts following login. Only 204 counts as success.
func (c *Client) Follow(ctx context.Context, login string) error {
	return c.expectNoContent(ctx, http.MethodPut, login, "follow")
}

// Unfollow stops following login. Only 204 counts as success.
func (c *Client) Unfollow(ctx context.Context, login string) error {
	return c.expectNoContent(ctx, http.MethodDelete, login, "unfollow")
}

func (c *Client) expectNoContent(ctx context.Context, method, login, action string) error {
	status, body, err := c.send(ctx, method, endpointFollowing, c.followingURL(login))
	if err != nil {
		return fmt.Errorf("failed to %s user: %w", action, err)
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("failed to %s user: %w", action, &domain.APIError{StatusCode: status, Body: body})
	}
	return nil
}

func (c *Client) followingURL(login string) string {
	return fmt.Sprintf("%s/user/following/%s", c.base.BaseURL, url.PathEscape(login))
}

// getJSON performs a GET and decodes a 200 response into result.
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, result interface{}) error {
	var decodeErr error
	status, body, err := c.do(ctx, http.MethodGet, endpoint, rawURL, func(resp *http.Response) {
		if resp.StatusCode == http.StatusOK {
			decodeErr = json.NewDecoder(resp.Body).Decode(result)
		}
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &domain.APIError{StatusCode: status, Body: body}
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: failed to decode response: %w", domain.ErrTransport, decodeErr)
	}
	return nil
}

// send performs a request whose body only matters for error reporting.
func (c *Client) send(ctx context.Context, method, endpoint, rawURL string) (int, string, error) {
	return c.do(ctx, method, endpoint, rawURL, nil)
}

// do performs an HTTP request to the GitHub API under the concurrency limit.
// onResponse, when set, consumes the body of successful responses.
func (c *Client) do(ctx context.Context, method, endpoint, rawURL string, onResponse func(*http.Response)) (int, string, error) {
	var (
		status int
		body   string
	)

	err := c.base.DoRateLimited(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if c.base.Token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.base.Token))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if method == http.MethodPut {
			req.Header.Set("Content-Length", "0")
		}

		start := time.Now()
		resp, err := c.base.HTTPClient.Do(req)
		if err != nil {
			c.metrics.ObserveUpstream(endpoint, 0, time.Since(start))
			c.logger.Warn("directory request failed",
				zap.String("endpoint", endpoint), zap.String("method", method), zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: request failed: %w", domain.ErrTransport, err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		c.metrics.ObserveUpstream(endpoint, status, time.Since(start))
		c.logger.Debug("directory request",
			zap.String("endpoint", endpoint), zap.String("method", method),
			zap.Int("status", status), zap.Duration("elapsed", time.Since(start)))

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			if onResponse != nil {
				onResponse(resp)
			}
			return nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		body = strings.TrimSpace(string(raw))
		return nil
	})

	return status, body, err
}

// GitHub API response types
type githubUser struct {
	Login       string    `json:"login"`
	ID          int64     `json:"id"`
	Name        *string   `json:"name"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
	Bio         *string   `json:"bio"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	Location    *string   `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
}

type githubSearchResponse struct {
	TotalCount int                `json:"total_count"`
	Items      []githubSearchItem `json:"items"`
}

type githubSearchItem struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	AvatarURL string `json:"avatar_url"`
}

// toDomain converts a GitHub user to the domain model.
func (u githubUser) toDomain() *domain.UserProfile {
	return &domain.UserProfile{
		Login:       u.Login,
		ID:          u.ID,
		Name:        deref(u.Name),
		AvatarURL:   u.AvatarURL,
		HTMLURL:     u.HTMLURL,
		Bio:         deref(u.Bio),
		PublicRepos: u.PublicRepos,
		Followers:   u.Followers,
		Following:   u.Following,
		Location:    deref(u.Location),
		CreatedAt:   u.CreatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
