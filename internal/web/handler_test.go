package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/history"
	"github.com/vilaca/gh-finder/internal/metrics"
)

type testServer struct {
	echo     *echo.Echo
	dir      *mockDirectory
	sessions *SessionManager
	cookie   *http.Cookie
}

func newTestServer(t *testing.T, dir *mockDirectory, following Following) *testServer {
	t.Helper()
	return newTestServerWithSessions(t, dir, following, newTestSessions(dir, history.NewMemoryStore()))
}

func newTestServerWithSessions(t *testing.T, dir *mockDirectory, following Following, sessions *SessionManager) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	t.Cleanup(sessions.Close)

	h := NewHandler(HandlerConfig{
		Sessions:  sessions,
		Directory: dir,
		Following: following,
		Gatherer:  reg,
	})
	metrics.New(reg).Search("submit")

	e := echo.New()
	h.RegisterRoutes(e)
	return &testServer{echo: e, dir: dir, sessions: sessions}
}

func (s *testServer) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	return s.doWithHeaders(method, target, form, nil)
}

func (s *testServer) doWithHeaders(method, target string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			s.cookie = c
		}
	}
	return rec
}

// TestHandler_Index tests that the page renders and a session cookie is set.
// Follows AAA (Arrange, Act, Assert) pattern.
func TestHandler_Index(t *testing.T) {
	// Arrange
	srv := newTestServer(t, &mockDirectory{}, nil)

	// Act
	rec := srv.do(http.MethodGet, "/", nil)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "GitHub User Finder")
	require.NotNil(t, srv.cookie)
	assert.Equal(t, 1, srv.sessions.Len())

	srv.do(http.MethodGet, "/", nil)
	assert.Equal(t, 1, srv.sessions.Len(), "cookie reuses the session")
}

func TestHandler_SearchThenIndexShowsProfile(t *testing.T) {
	// Arrange
	srv := newTestServer(t, &mockDirectory{}, nil)

	// Act
	rec := srv.do(http.MethodPost, "/search", url.Values{"q": {"  octocat "}})
	page := srv.do(http.MethodGet, "/", nil)

	// Assert
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
	assert.Contains(t, page.Body.String(), "Name of octocat")
	assert.Contains(t, page.Body.String(), `value="octocat"`)

	fetches, _ := srv.dir.counts()
	assert.Equal(t, []string{"octocat"}, fetches)
}

func TestHandler_SearchBlankIsIgnored(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)

	rec := srv.do(http.MethodPost, "/search", url.Values{"q": {"   "}})

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	fetches, _ := srv.dir.counts()
	assert.Empty(t, fetches)
}

func TestHandler_SelectSameLoginRefetches(t *testing.T) {
	// Arrange
	srv := newTestServer(t, &mockDirectory{}, nil)
	srv.do(http.MethodPost, "/search", url.Values{"q": {"octocat"}})

	// Act
	srv.do(http.MethodPost, "/select", url.Values{"login": {"octocat"}, "source": {SourceHistory}})
	srv.do(http.MethodPost, "/select", url.Values{"login": {"torvalds"}, "source": {SourceSuggestion}})

	// Assert
	fetches, refetches := srv.dir.counts()
	assert.Equal(t, []string{"octocat", "torvalds"}, fetches)
	assert.Equal(t, []string{"octocat"}, refetches)
}

func TestHandler_Health(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)

	rec := srv.do(http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_User(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "found", wantStatus: http.StatusOK},
		{name: "not found", err: fmt.Errorf("lookup: %w", &domain.APIError{StatusCode: 404}), wantStatus: http.StatusNotFound, wantError: domain.MessageNotFound},
		{name: "upstream failure", err: &domain.APIError{StatusCode: 500}, wantStatus: http.StatusBadGateway, wantError: domain.MessageFetchFailed},
		{name: "network failure", err: errors.New("dial tcp: refused"), wantStatus: http.StatusBadGateway, wantError: domain.MessageFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &mockDirectory{
				fetchProfileFunc: func(_ context.Context, login string) (*domain.UserProfile, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &domain.UserProfile{Login: login}, nil
				},
			}
			srv := newTestServer(t, dir, nil)

			rec := srv.do(http.MethodGet, "/api/users/octocat", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			} else {
				assert.Equal(t, "octocat", body["login"])
			}
		})
	}
}

func TestHandler_Suggestions(t *testing.T) {
	var queries []string
	dir := &mockDirectory{
		searchUsersFunc: func(_ context.Context, query string) ([]domain.Suggestion, error) {
			queries = append(queries, query)
			out := make([]domain.Suggestion, 8)
			for i := range out {
				out[i] = domain.Suggestion{Login: fmt.Sprintf("%s%d", query, i)}
			}
			return out, nil
		},
	}
	srv := newTestServer(t, dir, nil)

	short := srv.do(http.MethodGet, "/api/suggestions?q=o", nil)
	long := srv.do(http.MethodGet, "/api/suggestions?q=%20oc%20", nil)

	assert.JSONEq(t, `[]`, short.Body.String())
	var got []domain.Suggestion
	require.NoError(t, json.Unmarshal(long.Body.Bytes(), &got))
	assert.Len(t, got, domain.SuggestionLimit)
	assert.Equal(t, []string{"oc"}, queries)
}

func TestHandler_FollowingRoutesNeedFollowing(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)

	rec := srv.do(http.MethodPut, "/api/following/octocat", nil)

	assert.NotEqual(t, http.StatusNoContent, rec.Code)
}

func TestHandler_Following(t *testing.T) {
	// Arrange
	srv := newTestServer(t, &mockDirectory{}, newMockFollowing())
	srv.do(http.MethodGet, "/", nil)

	// Act
	before := srv.do(http.MethodGet, "/api/following/octocat", nil)
	follow := srv.do(http.MethodPut, "/api/following/octocat", nil)
	after := srv.do(http.MethodGet, "/api/following/octocat", nil)
	unfollow := srv.do(http.MethodDelete, "/api/following/octocat", nil)
	failed := srv.do(http.MethodGet, "/api/following/ghost", nil)

	// Assert
	assert.JSONEq(t, `{"login":"octocat","following":false}`, before.Body.String())
	assert.Equal(t, http.StatusNoContent, follow.Code)
	assert.JSONEq(t, `{"login":"octocat","following":true}`, after.Body.String())
	assert.Equal(t, http.StatusNoContent, unfollow.Code)
	assert.Equal(t, http.StatusBadGateway, failed.Code)
}

func TestHandler_Metrics(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)

	rec := srv.do(http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "searches_total")
}

func TestHandler_SweptSessionKeepsRecentList(t *testing.T) {
	// Arrange
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	dir := &mockDirectory{}
	sessions := NewSessionManager(SessionConfig{
		Factory: NewControllerFactory(ControllerConfig{Directory: dir, Store: history.NewMemoryStore()}),
		TTL:     10 * time.Minute,
		Now:     clock.Now,
	})
	srv := newTestServerWithSessions(t, dir, nil, sessions)
	srv.do(http.MethodPost, "/search", url.Values{"q": {"octocat"}})
	require.NotNil(t, srv.cookie)
	oldID := srv.cookie.Value

	// Act
	clock.Advance(11 * time.Minute)
	require.Equal(t, 1, sessions.Sweep())
	page := srv.do(http.MethodGet, "/", nil)

	// Assert
	assert.Equal(t, http.StatusOK, page.Code)
	assert.Equal(t, oldID, srv.cookie.Value, "the returning browser keeps its id")
	assert.Contains(t, page.Body.String(), `data-login="octocat" data-source="history"`)

	restored, ok := sessions.Get(oldID)
	require.True(t, ok)
	assert.Equal(t, []string{"octocat"}, restored.Controller.Snapshot().Recent)
}

func TestHandler_SessionCookie(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)

	srv.do(http.MethodGet, "/", nil)

	require.NotNil(t, srv.cookie)
	assert.Equal(t, int(DefaultCookieMaxAge/time.Second), srv.cookie.MaxAge)
	assert.True(t, srv.cookie.HttpOnly)
	_, err := uuid.Parse(srv.cookie.Value)
	assert.NoError(t, err)
}

func TestHandler_MalformedCookieStartsNewSession(t *testing.T) {
	srv := newTestServer(t, &mockDirectory{}, nil)
	srv.cookie = &http.Cookie{Name: DefaultCookieName, Value: "../../etc"}

	srv.do(http.MethodGet, "/", nil)

	assert.NotEqual(t, "../../etc", srv.cookie.Value)
	_, err := uuid.Parse(srv.cookie.Value)
	assert.NoError(t, err)
}

func TestHandler_FollowingRequiresSession(t *testing.T) {
	tests := []struct {
		name    string
		cookie  *http.Cookie
		headers map[string]string
		visit   bool
	}{
		{name: "no cookie"},
		{name: "unknown session", cookie: &http.Cookie{Name: DefaultCookieName, Value: uuid.NewString()}},
		{name: "other origin", visit: true, headers: map[string]string{echo.HeaderOrigin: "https://evil.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			following := newMockFollowing()
			srv := newTestServer(t, &mockDirectory{}, following)
			if tt.visit {
				srv.do(http.MethodGet, "/", nil)
			}
			if tt.cookie != nil {
				srv.cookie = tt.cookie
			}

			// Act
			put := srv.doWithHeaders(http.MethodPut, "/api/following/octocat", nil, tt.headers)
			del := srv.doWithHeaders(http.MethodDelete, "/api/following/octocat", nil, tt.headers)

			// Assert
			assert.Equal(t, http.StatusForbidden, put.Code)
			assert.Equal(t, http.StatusForbidden, del.Code)
			assert.Empty(t, following.following)
		})
	}
}

func TestHandler_FollowingSameOrigin(t *testing.T) {
	following := newMockFollowing()
	srv := newTestServer(t, &mockDirectory{}, following)
	srv.do(http.MethodGet, "/", nil)

	rec := srv.doWithHeaders(http.MethodPut, "/api/following/octocat", nil,
		map[string]string{echo.HeaderOrigin: "http://example.com"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, following.following["octocat"])
}
