package api

import (
	"context"

	"github.com/vilaca/gh-finder/internal/domain"
)

// UserDirectory defines the lookups the search UI needs from a user directory.
// Small interface so the controller and tests depend on behaviour, not on GitHub.
type UserDirectory interface {
	// FetchProfile returns the full profile for a login.
	// Fails with domain.ErrNotFound when the account does not exist.
	FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error)

	// SearchUsers returns accounts matching a query, in the service's order.
	// The result is at most one page; callers truncate for display.
	SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error)
}

// FollowClient extends UserDirectory with follow operations.
// Only available when an access token is configured.
type FollowClient interface {
	UserDirectory

	// CheckFollowing reports whether the authenticated user follows login.
	// A 404 from the service is a legitimate false, not an error.
	CheckFollowing(ctx context.Context, login string) (bool, error)

	// Follow starts following login.
	Follow(ctx context.Context, login string) error

	// Unfollow stops following login.
	Unfollow(ctx context.Context, login string) error
}

// ClientConfig holds common configuration for API clients.
type ClientConfig struct {
	BaseURL string
	Token   string
	// MaxConcurrentRequests bounds parallel upstream calls. Zero uses the default.
	MaxConcurrentRequests int
}
