package web

import (
	"context"
	"sync"

	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/history"
)

// mockDirectory is a test double for the directory used by sessions and
// the JSON API.
type mockDirectory struct {
	mu sync.Mutex

	fetchProfileFunc func(ctx context.Context, login string) (*domain.UserProfile, error)
	searchUsersFunc  func(ctx context.Context, query string) ([]domain.Suggestion, error)

	fetches   []string
	refetches []string
}

func (m *mockDirectory) FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error) {
	m.mu.Lock()
	m.fetches = append(m.fetches, login)
	m.mu.Unlock()
	return m.profile(ctx, login)
}

func (m *mockDirectory) RefetchProfile(ctx context.Context, login string) (*domain.UserProfile, error) {
	m.mu.Lock()
	m.refetches = append(m.refetches, login)
	m.mu.Unlock()
	return m.profile(ctx, login)
}

func (m *mockDirectory) profile(ctx context.Context, login string) (*domain.UserProfile, error) {
	if m.fetchProfileFunc != nil {
		return m.fetchProfileFunc(ctx, login)
	}
	return &domain.UserProfile{Login: login, Name: "Name of " + login}, nil
}

func (m *mockDirectory) SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error) {
	if m.searchUsersFunc != nil {
		return m.searchUsersFunc(ctx, query)
	}
	return []domain.Suggestion{{Login: query + "-1"}, {Login: query + "-2"}}, nil
}

func (m *mockDirectory) counts() (fetches, refetches []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetches...), append([]string(nil), m.refetches...)
}

// mockFollowing is a test double for Following.
type mockFollowing struct {
	mu        sync.Mutex
	following map[string]bool
}

func newMockFollowing() *mockFollowing {
	return &mockFollowing{following: make(map[string]bool)}
}

func (m *mockFollowing) CheckFollowing(_ context.Context, login string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if login == "ghost" {
		return false, &domain.APIError{StatusCode: 500}
	}
	return m.following[login], nil
}

func (m *mockFollowing) Follow(_ context.Context, login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.following[login] = true
	return nil
}

func (m *mockFollowing) Unfollow(_ context.Context, login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.following, login)
	return nil
}

func newTestSessions(dir *mockDirectory, store history.Store) *SessionManager {
	return NewSessionManager(SessionConfig{
		Factory: NewControllerFactory(ControllerConfig{
			Directory: dir,
			Store:     store,
		}),
	})
}
