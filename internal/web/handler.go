// Package web serves the search page, its websocket and a small JSON API.
package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/domain"
)

// Session cookie defaults.
const (
	DefaultCookieName   = "gh_finder_session"
	DefaultCookieMaxAge = 30 * 24 * time.Hour
)

// Directory is the lookup surface of the JSON API.
type Directory interface {
	FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error)
	SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error)
}

// Following manages who the authenticated account follows.
type Following interface {
	CheckFollowing(ctx context.Context, login string) (bool, error)
	Follow(ctx context.Context, login string) error
	Unfollow(ctx context.Context, login string) error
}

// Handler handles HTTP requests for the search UI.
type Handler struct {
	renderer        Renderer
	logger          *zap.Logger
	sessions        *SessionManager
	directory       Directory
	following       Following
	gatherer        prometheus.Gatherer
	cookieName      string
	cookieMaxAge    time.Duration
	suggestionLimit int
	minQueryLength  int
	socketConfig    SocketConfig
	upgrader        websocket.Upgrader
	now             func() time.Time
}

// HandlerConfig holds configuration for creating a new Handler.
type HandlerConfig struct {
	Renderer  Renderer
	Logger    *zap.Logger
	Sessions  *SessionManager
	Directory Directory
	// Following is nil when no token is configured; the follow routes are
	// then not registered.
	Following       Following
	Gatherer        prometheus.Gatherer
	CookieName      string
	CookieMaxAge    time.Duration
	SuggestionLimit int
	MinQueryLength  int
	Socket          SocketConfig
}

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		renderer:        cfg.Renderer,
		logger:          cfg.Logger,
		sessions:        cfg.Sessions,
		directory:       cfg.Directory,
		following:       cfg.Following,
		gatherer:        cfg.Gatherer,
		cookieName:      cfg.CookieName,
		cookieMaxAge:    cfg.CookieMaxAge,
		suggestionLimit: cfg.SuggestionLimit,
		minQueryLength:  cfg.MinQueryLength,
		socketConfig:    cfg.Socket,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
	if h.renderer == nil {
		h.renderer = NewHTMLRenderer()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.cookieName == "" {
		h.cookieName = DefaultCookieName
	}
	if h.cookieMaxAge <= 0 {
		h.cookieMaxAge = DefaultCookieMaxAge
	}
	if h.suggestionLimit <= 0 {
		h.suggestionLimit = domain.SuggestionLimit
	}
	if h.minQueryLength <= 0 {
		h.minQueryLength = domain.MinQueryLength
	}
	if h.socketConfig == (SocketConfig{}) {
		h.socketConfig = DefaultSocketConfig()
	}
	return h
}

// RegisterRoutes registers all HTTP routes and middleware.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			h.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	e.GET("/", h.handleIndex)
	e.POST("/search", h.handleSearch)
	e.POST("/select", h.handleSelect)
	e.GET("/ws", h.handleSocket)

	e.GET("/api/health", h.handleHealth)
	e.GET("/api/users/:login", h.handleUser)
	e.GET("/api/suggestions", h.handleSuggestions)

	if h.following != nil {
		following := e.Group("/api/following", h.requireSession)
		following.GET("/:login", h.handleCheckFollowing)
		following.PUT("/:login", h.handleFollow)
		following.DELETE("/:login", h.handleUnfollow)
	}

	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// handleIndex serves the search page for the caller's session.
func (h *Handler) handleIndex(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.internalError(c, "failed to open session", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	c.Response().WriteHeader(http.StatusOK)

	data := PageData{
		State:         session.Controller.Snapshot(),
		FollowEnabled: h.following != nil,
	}
	if err := h.renderer.RenderPage(c.Response(), data); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
	}
	return nil
}

// handleSearch commits the submitted query, then redirects back to the page.
func (h *Handler) handleSearch(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.internalError(c, "failed to open session", err)
	}

	ctrl := session.Controller
	ctrl.SetInput(c.FormValue("q"))
	if ctrl.Submit() {
		ctrl.Wait()
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// handleSelect commits a login picked from the suggestions or the recent list.
func (h *Handler) handleSelect(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.internalError(c, "failed to open session", err)
	}

	login := c.FormValue("login")
	ctrl := session.Controller
	var ok bool
	if c.FormValue("source") == SourceHistory {
		ok = ctrl.SelectHistory(login)
	} else {
		ok = ctrl.SelectSuggestion(login)
	}
	if ok {
		ctrl.Wait()
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// handleSocket upgrades to a websocket bound to the caller's session.
func (h *Handler) handleSocket(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.internalError(c, "failed to open session", err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}

	newSocket(conn, session, h.socketConfig, h.logger).serve(h.now)
	return nil
}

// handleHealth serves the health check endpoint.
func (h *Handler) handleHealth(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(http.StatusOK)
	if err := h.renderer.RenderHealth(c.Response()); err != nil {
		h.logger.Error("failed to render health", zap.Error(err))
	}
	return nil
}

// handleUser returns one profile as JSON.
func (h *Handler) handleUser(c echo.Context) error {
	login := strings.TrimSpace(c.Param("login"))
	if login == "" {
		return c.JSON(http.StatusBadRequest, errorBody(domain.ErrEmptyQuery.Error()))
	}

	profile, err := h.directory.FetchProfile(c.Request().Context(), login)
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// handleSuggestions returns up to the suggestion limit of matches for q.
// Queries shorter than the minimum length return an empty list.
func (h *Handler) handleSuggestions(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if domain.QueryLength(query) < h.minQueryLength {
		return c.JSON(http.StatusOK, []domain.Suggestion{})
	}

	suggestions, err := h.directory.SearchUsers(c.Request().Context(), query)
	if err != nil {
		return h.lookupError(c, err)
	}
	if len(suggestions) > h.suggestionLimit {
		suggestions = suggestions[:h.suggestionLimit]
	}
	if suggestions == nil {
		suggestions = []domain.Suggestion{}
	}
	return c.JSON(http.StatusOK, suggestions)
}

func (h *Handler) handleCheckFollowing(c echo.Context) error {
	login := c.Param("login")
	following, err := h.following.CheckFollowing(c.Request().Context(), login)
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"login": login, "following": following})
}

func (h *Handler) handleFollow(c echo.Context) error {
	if err := h.following.Follow(c.Request().Context(), c.Param("login")); err != nil {
		return h.lookupError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) handleUnfollow(c echo.Context) error {
	if err := h.following.Unfollow(c.Request().Context(), c.Param("login")); err != nil {
		return h.lookupError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// session returns the caller's session. A cookie whose session is gone
// (swept, or from before a restart) brings the session back under the same
// id; a missing or malformed cookie starts a new one.
func (h *Handler) session(c echo.Context) (*Session, error) {
	var id string
	if cookie, err := c.Cookie(h.cookieName); err == nil {
		if s, ok := h.sessions.Get(cookie.Value); ok {
			return s, nil
		}
		if parsed, err := uuid.Parse(cookie.Value); err == nil && parsed.String() == cookie.Value {
			id = cookie.Value
		}
	}

	s, err := h.sessions.Create(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// requireSession rejects requests that do not carry a live session cookie
// or that come from another origin.
func (h *Handler) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !sameOrigin(c.Request()) {
			return c.JSON(http.StatusForbidden, errorBody("cross-origin request refused"))
		}
		cookie, err := c.Cookie(h.cookieName)
		if err != nil {
			return c.JSON(http.StatusForbidden, errorBody("session required"))
		}
		if _, ok := h.sessions.Get(cookie.Value); !ok {
			return c.JSON(http.StatusForbidden, errorBody("session required"))
		}
		return next(c)
	}
}

// sameOrigin reports whether the Origin header, when present, names the
// host the request was sent to.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get(echo.HeaderOrigin)
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (h *Handler) lookupError(c echo.Context, err error) error {
	message := domain.UserMessage(err)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(message))
	}
	h.logger.Warn("directory request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusBadGateway, errorBody(message))
}

func (h *Handler) internalError(c echo.Context, msg string, err error) error {
	h.logger.Error(msg, zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error"))
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
